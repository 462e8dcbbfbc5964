package graph

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nulpointcorp/llmur/internal/crypto"
	"github.com/nulpointcorp/llmur/internal/store"
	"github.com/nulpointcorp/llmur/pkg/apierr"
)

type fakeStore struct {
	vks         map[uuid.UUID]*store.VirtualKey
	projects    map[uuid.UUID]*store.Project
	keyLinks    map[uuid.UUID]*store.VirtualKeyDeployment
	deployments map[uuid.UUID]*store.Deployment
	connLinks   map[uuid.UUID]*store.ConnectionDeployment
	connections map[uuid.UUID]*store.Connection
	public      []*store.Deployment

	failWith error
	walks    int
	hook     func(entity string, id uuid.UUID)
}

func (f *fakeStore) VirtualKeyID(key string) uuid.UUID { return crypto.DeriveID(key) }

func (f *fakeStore) OnInvalidate(fn func(entity string, id uuid.UUID)) { f.hook = fn }

func (f *fakeStore) GetVirtualKey(ctx context.Context, id uuid.UUID) (*store.VirtualKey, error) {
	f.walks++
	if f.failWith != nil {
		return nil, f.failWith
	}
	vk, ok := f.vks[id]
	if !ok {
		return nil, fmt.Errorf("%w: virtual key %s", store.ErrNotFound, id)
	}
	return vk, nil
}

func (f *fakeStore) GetProject(ctx context.Context, id uuid.UUID) (*store.Project, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	pr, ok := f.projects[id]
	if !ok {
		return nil, fmt.Errorf("%w: project %s", store.ErrNotFound, id)
	}
	return pr, nil
}

func (f *fakeStore) GetVirtualKeyDeployments(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*store.VirtualKeyDeployment, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	out := make(map[uuid.UUID]*store.VirtualKeyDeployment, len(ids))
	for _, id := range ids {
		out[id] = f.keyLinks[id]
	}
	return out, nil
}

func (f *fakeStore) GetDeployments(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*store.Deployment, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	out := make(map[uuid.UUID]*store.Deployment, len(ids))
	for _, id := range ids {
		out[id] = f.deployments[id]
	}
	return out, nil
}

func (f *fakeStore) SearchDeployments(ctx context.Context, name string) ([]*store.Deployment, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	var out []*store.Deployment
	for _, d := range f.public {
		if name == "" || d.Name == name {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeStore) GetConnectionDeployments(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*store.ConnectionDeployment, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	out := make(map[uuid.UUID]*store.ConnectionDeployment, len(ids))
	for _, id := range ids {
		out[id] = f.connLinks[id]
	}
	return out, nil
}

func (f *fakeStore) GetConnections(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*store.Connection, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	out := make(map[uuid.UUID]*store.Connection, len(ids))
	for _, id := range ids {
		out[id] = f.connections[id]
	}
	return out, nil
}

type fixture struct {
	fake    *fakeStore
	res     *Resolver
	key     string
	vk      *store.VirtualKey
	dep     *store.Deployment
	connIDs []uuid.UUID
}

// newFixture wires a key with access to one deployment carrying one
// connection per weight.
func newFixture(t *testing.T, strategy store.Strategy, connWeights ...int16) *fixture {
	t.Helper()

	key := "sk-test-key"
	vkID := crypto.DeriveID(key)
	projectID := uuid.New()

	f := &fakeStore{
		vks:         make(map[uuid.UUID]*store.VirtualKey),
		projects:    make(map[uuid.UUID]*store.Project),
		keyLinks:    make(map[uuid.UUID]*store.VirtualKeyDeployment),
		deployments: make(map[uuid.UUID]*store.Deployment),
		connLinks:   make(map[uuid.UUID]*store.ConnectionDeployment),
		connections: make(map[uuid.UUID]*store.Connection),
	}

	dep := &store.Deployment{
		ID:       uuid.New(),
		Name:     "gpt-4o",
		Access:   store.AccessPrivate,
		Strategy: strategy,
	}

	fx := &fixture{fake: f, key: key, dep: dep}
	for _, w := range connWeights {
		conn := &store.Connection{
			ID:       uuid.New(),
			Provider: "openai/v1",
			APIKey:   "sk-upstream",
			Endpoint: "https://api.openai.com",
			Model:    "gpt-4o",
		}
		link := &store.ConnectionDeployment{
			ID:           uuid.New(),
			ConnectionID: conn.ID,
			DeploymentID: dep.ID,
			Weight:       w,
		}
		f.connections[conn.ID] = conn
		f.connLinks[link.ID] = link
		dep.Connections = append(dep.Connections, link.ID)
		fx.connIDs = append(fx.connIDs, conn.ID)
	}

	keyLink := &store.VirtualKeyDeployment{ID: uuid.New(), VirtualKeyID: vkID, DeploymentID: dep.ID}
	f.keyLinks[keyLink.ID] = keyLink

	vk := &store.VirtualKey{
		ID:          vkID,
		Key:         key,
		Alias:       "sk-...-key",
		ProjectID:   projectID,
		Deployments: []uuid.UUID{keyLink.ID},
	}
	f.vks[vkID] = vk
	f.projects[projectID] = &store.Project{ID: projectID, Name: "research"}
	f.deployments[dep.ID] = dep

	fx.vk = vk
	fx.res = NewResolver(f, 10*time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return fx
}

func TestResolveHappyPathAndCaching(t *testing.T) {
	fx := newFixture(t, store.StrategyRoundRobin, 1, 1)
	ctx := context.Background()

	g, err := fx.res.Resolve(ctx, fx.key, "gpt-4o", false)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if g.Deployment.ID != fx.dep.ID {
		t.Errorf("Deployment = %s, want %s", g.Deployment.ID, fx.dep.ID)
	}
	if g.Project == nil || g.Project.Name != "research" {
		t.Errorf("Project = %+v, want the key's project", g.Project)
	}
	if g.VirtualKey.ID != fx.vk.ID {
		t.Errorf("VirtualKey = %s, want %s", g.VirtualKey.ID, fx.vk.ID)
	}
	if len(g.Candidates) != 2 {
		t.Fatalf("Candidates = %d, want 2", len(g.Candidates))
	}
	for _, c := range g.Candidates {
		if c.Connection.APIKey != "sk-upstream" {
			t.Errorf("candidate credential = %q, want the decrypted upstream key", c.Connection.APIKey)
		}
	}

	if fx.fake.walks != 1 {
		t.Fatalf("store walked %d times, want 1", fx.fake.walks)
	}
	if _, err := fx.res.Resolve(ctx, fx.key, "gpt-4o", false); err != nil {
		t.Fatalf("Resolve (cached): %v", err)
	}
	if fx.fake.walks != 1 {
		t.Errorf("store walked %d times, want 1 with a warm cache", fx.fake.walks)
	}
	if fx.res.Len() != 1 {
		t.Errorf("cache holds %d graphs, want 1", fx.res.Len())
	}
}

func TestResolveUnknownKey(t *testing.T) {
	fx := newFixture(t, store.StrategyRoundRobin, 1)

	_, err := fx.res.Resolve(context.Background(), "sk-imposter", "gpt-4o", false)
	if apierr.KindOf(err) != apierr.KindInvalidCredentials {
		t.Errorf("Resolve = %v, want invalid credentials", err)
	}
}

func TestResolveMismatchedKeyRecord(t *testing.T) {
	fx := newFixture(t, store.StrategyRoundRobin, 1)
	fx.vk.Key = "sk-other"

	_, err := fx.res.Resolve(context.Background(), fx.key, "gpt-4o", false)
	if apierr.KindOf(err) != apierr.KindInvalidCredentials {
		t.Errorf("Resolve = %v, want invalid credentials", err)
	}
}

func TestResolveBlockedKey(t *testing.T) {
	fx := newFixture(t, store.StrategyRoundRobin, 1)
	fx.vk.Blocked = true

	_, err := fx.res.Resolve(context.Background(), fx.key, "gpt-4o", false)
	if apierr.KindOf(err) != apierr.KindKeyBlocked {
		t.Errorf("Resolve = %v, want key blocked", err)
	}
}

func TestResolveModelNotAllowed(t *testing.T) {
	fx := newFixture(t, store.StrategyRoundRobin, 1)

	_, err := fx.res.Resolve(context.Background(), fx.key, "claude-3", false)
	if apierr.KindOf(err) != apierr.KindModelNotAllowed {
		t.Errorf("Resolve = %v, want model not allowed", err)
	}
}

func TestResolvePublicFallback(t *testing.T) {
	fx := newFixture(t, store.StrategyRoundRobin, 1)
	ctx := context.Background()

	conn := &store.Connection{ID: uuid.New(), Provider: "openai/v1", APIKey: "k", Endpoint: "e", Model: "gpt-4o-mini"}
	pub := &store.Deployment{
		ID:       uuid.New(),
		Name:     "gpt-4o-mini",
		Access:   store.AccessPublic,
		Strategy: store.StrategyRoundRobin,
	}
	link := &store.ConnectionDeployment{ID: uuid.New(), ConnectionID: conn.ID, DeploymentID: pub.ID, Weight: 1}
	pub.Connections = []uuid.UUID{link.ID}
	fx.fake.connections[conn.ID] = conn
	fx.fake.connLinks[link.ID] = link
	fx.fake.deployments[pub.ID] = pub
	fx.fake.public = append(fx.fake.public, pub)

	g, err := fx.res.Resolve(ctx, fx.key, "gpt-4o-mini", false)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if g.Deployment.ID != pub.ID {
		t.Errorf("Deployment = %s, want the public deployment", g.Deployment.ID)
	}

	// A private deployment found only by name search stays unreachable.
	priv := &store.Deployment{ID: uuid.New(), Name: "internal-model", Access: store.AccessPrivate}
	fx.fake.public = append(fx.fake.public, priv)
	_, err = fx.res.Resolve(ctx, fx.key, "internal-model", false)
	if apierr.KindOf(err) != apierr.KindModelNotAllowed {
		t.Errorf("Resolve = %v, want model not allowed", err)
	}
}

func TestResolveNoConnections(t *testing.T) {
	fx := newFixture(t, store.StrategyRoundRobin)

	g, err := fx.res.Resolve(context.Background(), fx.key, "gpt-4o", false)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(g.Candidates) != 0 {
		t.Errorf("Candidates = %d, want none", len(g.Candidates))
	}
}

func TestResolveStrategyFailsClosed(t *testing.T) {
	fx := newFixture(t, store.StrategyLeastConnections, 1)

	_, err := fx.res.Resolve(context.Background(), fx.key, "gpt-4o", false)
	if apierr.KindOf(err) != apierr.KindInternal {
		t.Errorf("Resolve = %v, want internal failure", err)
	}
}

func TestResolveStaleOnInternalFailure(t *testing.T) {
	fx := newFixture(t, store.StrategyRoundRobin, 1)
	ctx := context.Background()

	base := time.Now()
	fx.res.now = func() time.Time { return base }
	if _, err := fx.res.Resolve(ctx, fx.key, "gpt-4o", false); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	fx.res.now = func() time.Time { return base.Add(time.Minute) }
	fx.fake.failWith = errors.New("connection refused")

	if _, err := fx.res.Resolve(ctx, fx.key, "gpt-4o", false); apierr.KindOf(err) != apierr.KindInternal {
		t.Fatalf("fresh resolve = %v, want internal failure", err)
	}

	g, err := fx.res.Resolve(ctx, fx.key, "gpt-4o", true)
	if err != nil {
		t.Fatalf("stale resolve: %v", err)
	}
	if g.Deployment.ID != fx.dep.ID {
		t.Errorf("stale graph deployment = %s, want %s", g.Deployment.ID, fx.dep.ID)
	}
}

func TestResolveDenialIsNeverServedStale(t *testing.T) {
	fx := newFixture(t, store.StrategyRoundRobin, 1)
	ctx := context.Background()

	base := time.Now()
	fx.res.now = func() time.Time { return base }
	if _, err := fx.res.Resolve(ctx, fx.key, "gpt-4o", false); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	fx.res.now = func() time.Time { return base.Add(time.Minute) }
	delete(fx.fake.vks, fx.vk.ID)

	_, err := fx.res.Resolve(ctx, fx.key, "gpt-4o", true)
	if apierr.KindOf(err) != apierr.KindInvalidCredentials {
		t.Errorf("deleted key with stale cache = %v, want invalid credentials", err)
	}
}

func TestInvalidationPurgesReferencingGraphs(t *testing.T) {
	fx := newFixture(t, store.StrategyRoundRobin, 1)
	ctx := context.Background()

	cases := []struct {
		entity string
		id     uuid.UUID
	}{
		{store.EntityVirtualKey, fx.vk.ID},
		{store.EntityDeployment, fx.dep.ID},
		{store.EntityProject, fx.vk.ProjectID},
		{store.EntityConnection, fx.connIDs[0]},
		{store.EntityConnectionDeployment, fx.dep.Connections[0]},
		{store.EntityVirtualKeyDeployment, fx.vk.Deployments[0]},
	}
	for _, tc := range cases {
		t.Run(tc.entity, func(t *testing.T) {
			if _, err := fx.res.Resolve(ctx, fx.key, "gpt-4o", false); err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if fx.res.Len() != 1 {
				t.Fatalf("cache holds %d graphs, want 1", fx.res.Len())
			}
			fx.fake.hook(tc.entity, tc.id)
			if fx.res.Len() != 0 {
				t.Errorf("%s invalidation should purge the graph", tc.entity)
			}
		})
	}

	// Unrelated writes leave the cache alone.
	if _, err := fx.res.Resolve(ctx, fx.key, "gpt-4o", false); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	fx.fake.hook(store.EntityUser, uuid.New())
	fx.fake.hook(store.EntityConnection, uuid.New())
	if fx.res.Len() != 1 {
		t.Errorf("unrelated invalidations purged the cache")
	}
}

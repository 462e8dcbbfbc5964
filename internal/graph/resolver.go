package graph

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/nulpointcorp/llmur/internal/store"
	"github.com/nulpointcorp/llmur/pkg/apierr"
)

const defaultTTL = 10 * time.Second

type cacheKey struct {
	model        string
	virtualKeyID uuid.UUID
}

type cacheEntry struct {
	graph     *Graph
	expiresAt time.Time
}

// Resolver caches access-path resolutions per (model, virtual key) and
// keeps them consistent through the store's invalidation hook. Each cached
// entry holds the structural graph; attempt ordering is computed per
// request on top of it.
type Resolver struct {
	store  Store
	logger *slog.Logger
	ttl    time.Duration
	now    func() time.Time

	group singleflight.Group

	mu      sync.RWMutex
	entries map[cacheKey]cacheEntry
}

// NewResolver builds the resolver and registers it for store
// invalidations. A non-positive ttl selects the 10s default.
func NewResolver(st Store, ttl time.Duration, logger *slog.Logger) *Resolver {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Resolver{
		store:   st,
		logger:  logger,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[cacheKey]cacheEntry),
	}
	st.OnInvalidate(r.handleInvalidate)
	return r
}

// Resolve authenticates the presented key and returns the graph for the
// requested model with candidates in attempt order. With allowStale set, an
// expired cached graph is served when the rebuild fails for internal
// reasons; authoritative denials are never served stale.
func (r *Resolver) Resolve(ctx context.Context, presentedKey, model string, allowStale bool) (*Graph, error) {
	k := cacheKey{model: model, virtualKeyID: r.store.VirtualKeyID(presentedKey)}
	now := r.now()

	g, ok := r.cached(k, now)
	if !ok {
		v, err, _ := r.group.Do(k.model+"\x00"+k.virtualKeyID.String(), func() (any, error) {
			built, err := r.build(ctx, k.virtualKeyID, model)
			if err != nil {
				return nil, err
			}
			r.mu.Lock()
			r.entries[k] = cacheEntry{graph: built, expiresAt: r.now().Add(r.ttl)}
			r.mu.Unlock()
			return built, nil
		})
		if err != nil {
			if allowStale && apierr.KindOf(err) == apierr.KindInternal {
				if stale, found := r.anyAge(k); found {
					r.logger.Warn("graph_serving_stale",
						slog.String("model", model),
						slog.String("error", err.Error()),
					)
					g, ok = stale, true
				}
			}
			if !ok {
				return nil, err
			}
		} else {
			g = v.(*Graph)
		}
	}

	if subtle.ConstantTimeCompare([]byte(g.VirtualKey.Key), []byte(presentedKey)) != 1 {
		return nil, apierr.InvalidCredentials()
	}
	if g.VirtualKey.Blocked {
		return nil, apierr.KeyBlocked()
	}

	return r.ordered(g, now)
}

// Purge drops every cached resolution.
func (r *Resolver) Purge() {
	r.mu.Lock()
	r.entries = make(map[cacheKey]cacheEntry)
	r.mu.Unlock()
}

// Len reports the number of cached resolutions, expired ones included.
func (r *Resolver) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Resolver) cached(k cacheKey, now time.Time) (*Graph, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[k]
	if !ok || now.After(e.expiresAt) {
		return nil, false
	}
	return e.graph, true
}

// anyAge returns the cached graph regardless of expiry.
func (r *Resolver) anyAge(k cacheKey) (*Graph, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[k]
	if !ok {
		return nil, false
	}
	return e.graph, true
}

// ordered returns a shallow copy of the graph with candidates in the
// attempt order for this request. The cached slice is never reordered in
// place.
func (r *Resolver) ordered(g *Graph, now time.Time) (*Graph, error) {
	candidates, err := order(g.Deployment.Strategy, g.Deployment.ID, g.VirtualKey.ID, now, g.Candidates)
	if err != nil {
		return nil, apierr.Internal(err.Error())
	}
	out := *g
	out.Candidates = candidates
	return &out, nil
}

// build walks the store: virtual key, project, the deployment addressed by
// the model (linked first, then public by name), then the connection links
// and their decrypted connections.
func (r *Resolver) build(ctx context.Context, virtualKeyID uuid.UUID, model string) (*Graph, error) {
	vk, err := r.store.GetVirtualKey(ctx, virtualKeyID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apierr.InvalidCredentials()
	}
	if err != nil {
		return nil, apierr.Internal("resolving virtual key").WithCause(err)
	}

	project, err := r.store.GetProject(ctx, vk.ProjectID)
	if err != nil {
		return nil, apierr.Internal("resolving project").WithCause(err)
	}

	deployment, err := r.findDeployment(ctx, vk, model)
	if err != nil {
		return nil, err
	}

	candidates, err := r.loadCandidates(ctx, deployment)
	if err != nil {
		return nil, err
	}

	return &Graph{
		VirtualKey: vk,
		Project:    project,
		Deployment: deployment,
		Candidates: candidates,
	}, nil
}

// findDeployment prefers deployments explicitly linked to the key and falls
// back to public deployments matching the name.
func (r *Resolver) findDeployment(ctx context.Context, vk *store.VirtualKey, model string) (*store.Deployment, error) {
	links, err := r.store.GetVirtualKeyDeployments(ctx, vk.Deployments)
	if err != nil {
		return nil, apierr.Internal("resolving key deployments").WithCause(err)
	}

	var deploymentIDs []uuid.UUID
	for _, linkID := range vk.Deployments {
		if link := links[linkID]; link != nil {
			deploymentIDs = append(deploymentIDs, link.DeploymentID)
		}
	}

	deployments, err := r.store.GetDeployments(ctx, deploymentIDs)
	if err != nil {
		return nil, apierr.Internal("resolving deployments").WithCause(err)
	}
	for _, id := range deploymentIDs {
		if d := deployments[id]; d != nil && d.Name == model {
			return d, nil
		}
	}

	public, err := r.store.SearchDeployments(ctx, model)
	if err != nil {
		return nil, apierr.Internal("searching public deployments").WithCause(err)
	}
	for _, d := range public {
		if d.Access == store.AccessPublic {
			return d, nil
		}
	}

	return nil, apierr.ModelNotAllowed(model)
}

func (r *Resolver) loadCandidates(ctx context.Context, deployment *store.Deployment) ([]Candidate, error) {
	links, err := r.store.GetConnectionDeployments(ctx, deployment.Connections)
	if err != nil {
		return nil, apierr.Internal("resolving deployment connections").WithCause(err)
	}

	var connectionIDs []uuid.UUID
	for _, linkID := range deployment.Connections {
		if link := links[linkID]; link != nil {
			connectionIDs = append(connectionIDs, link.ConnectionID)
		}
	}

	connections, err := r.store.GetConnections(ctx, connectionIDs)
	if err != nil {
		return nil, apierr.Internal("resolving connections").WithCause(err)
	}

	candidates := make([]Candidate, 0, len(connectionIDs))
	for _, linkID := range deployment.Connections {
		link := links[linkID]
		if link == nil {
			continue
		}
		if conn := connections[link.ConnectionID]; conn != nil {
			candidates = append(candidates, Candidate{Connection: conn, Weight: link.Weight})
		}
	}
	return candidates, nil
}

// handleInvalidate drops every cached graph that references the written
// entity. Entities outside the proxy path never reach the graph.
func (r *Resolver) handleInvalidate(entity string, id uuid.UUID) {
	switch entity {
	case store.EntityUser, store.EntityMembership,
		store.EntitySessionToken, store.EntityProjectInviteCode:
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	purged := 0
	for k, e := range r.entries {
		if references(e.graph, entity, id) {
			delete(r.entries, k)
			purged++
		}
	}
	if purged > 0 {
		r.logger.Debug("graph_invalidated",
			slog.String("entity", entity),
			slog.String("id", id.String()),
			slog.Int("purged", purged),
		)
	}
}

func references(g *Graph, entity string, id uuid.UUID) bool {
	switch entity {
	case store.EntityVirtualKey:
		return g.VirtualKey.ID == id
	case store.EntityProject:
		return g.Project.ID == id
	case store.EntityDeployment:
		return g.Deployment.ID == id
	case store.EntityConnection:
		for _, c := range g.Candidates {
			if c.Connection.ID == id {
				return true
			}
		}
	case store.EntityConnectionDeployment:
		for _, linkID := range g.Deployment.Connections {
			if linkID == id {
				return true
			}
		}
	case store.EntityVirtualKeyDeployment:
		for _, linkID := range g.VirtualKey.Deployments {
			if linkID == id {
				return true
			}
		}
	}
	return false
}

// Package store is the system of record for gateway entities. Reads pass
// through two cache tiers, a short-lived in-process map and a shared Redis
// keyspace, before falling back to Postgres. Writes land in Postgres first
// and then invalidate both tiers, so cached state is stale for at most one
// TTL on replicas that missed the invalidation.
//
// Credentials are encrypted at rest and in both cache tiers. Only the
// structs returned by the facade carry plaintext.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/nulpointcorp/llmur/internal/crypto"
	"github.com/nulpointcorp/llmur/internal/providers/azure"
	"github.com/nulpointcorp/llmur/internal/providers/gemini"
	"github.com/nulpointcorp/llmur/internal/providers/openai"
)

var (
	// ErrNotFound reports that no record exists under the requested id.
	ErrNotFound = errors.New("store: record not found")
	// ErrInvalidRecord reports a record that cannot be stored or converted:
	// failed validation, broken ciphertext, or an unknown enum value.
	ErrInvalidRecord = errors.New("store: invalid record")
)

// keyPrefix versions the cache keyspace so incompatible record layouts can
// roll out side by side.
const keyPrefix = "llmur:v1:"

func cacheKey(entity string, id uuid.UUID) string {
	return keyPrefix + entity + ":" + id.String()
}

const (
	defaultLocalTTL  = 2 * time.Second
	defaultRemoteTTL = 60 * time.Second
)

// Options configures the cache tiers above Postgres.
type Options struct {
	// Redis enables the shared tier. When nil the store runs with the
	// in-process tier only.
	Redis *redis.Client

	// Secret is the application pepper for credential encryption and
	// session token id derivation.
	Secret uuid.UUID

	LocalTTL  time.Duration
	RemoteTTL time.Duration

	Logger *slog.Logger
}

// Store is the entity facade used by everything above the storage layer.
type Store struct {
	db     *Postgres
	remote *redisKV
	local  *localCache
	secret uuid.UUID
	logger *slog.Logger

	onInvalidate func(entity string, id uuid.UUID)
}

// New assembles the facade. The database handle stays owned by the store
// and is closed by Close.
func New(db *Postgres, opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	localTTL := opts.LocalTTL
	if localTTL <= 0 {
		localTTL = defaultLocalTTL
	}
	remoteTTL := opts.RemoteTTL
	if remoteTTL <= 0 {
		remoteTTL = defaultRemoteTTL
	}

	s := &Store{
		db:     db,
		local:  newLocalCache(localTTL),
		secret: opts.Secret,
		logger: logger,
	}
	if opts.Redis != nil {
		s.remote = newRedisKV(opts.Redis, remoteTTL, logger)
	}
	return s
}

func (s *Store) Close() error {
	s.local.close()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping probes the database, for health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// OnInvalidate registers a hook fired for every entity invalidation,
// including the ones caused by local writes. Register during wiring,
// before the store serves traffic.
func (s *Store) OnInvalidate(fn func(entity string, id uuid.UUID)) {
	s.onInvalidate = fn
}

// VirtualKeyID derives the stable id of a virtual key from its plaintext,
// so the auth path can look a presented key up without scanning.
func (s *Store) VirtualKeyID(key string) uuid.UUID {
	return crypto.DeriveID(key)
}

// SessionTokenID derives the stable id of a session token from its
// plaintext and the application secret.
func (s *Store) SessionTokenID(token string) uuid.UUID {
	return crypto.DeriveID(token + ":" + s.secret.String())
}

// fetchOne is the shared read path: local tier, then Redis, then the
// loader. Hits backfill the tiers above them; corrupt cache entries are
// dropped and treated as misses.
func fetchOne[R any](ctx context.Context, s *Store, entity string, id uuid.UUID, load func(context.Context, uuid.UUID) (*R, error)) (*R, error) {
	key := cacheKey(entity, id)

	if data, ok := s.local.get(key); ok {
		var rec R
		if err := json.Unmarshal(data, &rec); err == nil {
			return &rec, nil
		}
		s.local.delete(key)
	}

	if s.remote != nil {
		if data, ok := s.remote.get(ctx, key); ok {
			var rec R
			if err := json.Unmarshal(data, &rec); err == nil {
				s.local.set(key, data)
				return &rec, nil
			}
			s.remote.del(ctx, key)
		}
	}

	rec, err := load(ctx, id)
	if err != nil {
		return nil, err
	}
	s.seed(ctx, key, rec)
	return rec, nil
}

// fetchMany resolves a batch of ids through the same tiers as fetchOne,
// using one MGET for the shared tier and one query for the rest. The
// result holds an entry for every distinct requested id; absent records
// are nil.
func fetchMany[R any](ctx context.Context, s *Store, entity string, ids []uuid.UUID, load func(context.Context, []uuid.UUID) (map[uuid.UUID]*R, error)) (map[uuid.UUID]*R, error) {
	out := make(map[uuid.UUID]*R, len(ids))

	var misses []uuid.UUID
	for _, id := range ids {
		if _, done := out[id]; done {
			continue
		}
		key := cacheKey(entity, id)
		if data, ok := s.local.get(key); ok {
			var rec R
			if err := json.Unmarshal(data, &rec); err == nil {
				out[id] = &rec
				continue
			}
			s.local.delete(key)
		}
		out[id] = nil
		misses = append(misses, id)
	}

	if s.remote != nil && len(misses) > 0 {
		keys := make([]string, len(misses))
		for i, id := range misses {
			keys[i] = cacheKey(entity, id)
		}
		hits := s.remote.getMany(ctx, keys)

		still := misses[:0]
		for i, id := range misses {
			data, ok := hits[keys[i]]
			if !ok {
				still = append(still, id)
				continue
			}
			var rec R
			if err := json.Unmarshal(data, &rec); err != nil {
				s.remote.del(ctx, keys[i])
				still = append(still, id)
				continue
			}
			s.local.set(keys[i], data)
			out[id] = &rec
		}
		misses = still
	}

	if len(misses) > 0 {
		loaded, err := load(ctx, misses)
		if err != nil {
			return nil, err
		}
		for id, rec := range loaded {
			out[id] = rec
			s.seed(ctx, cacheKey(entity, id), rec)
		}
	}

	return out, nil
}

// seed writes the marshaled record into both cache tiers.
func (s *Store) seed(ctx context.Context, key string, rec any) {
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	s.local.set(key, data)
	if s.remote != nil {
		s.remote.set(ctx, key, data)
	}
}

// invalidate drops the records from both tiers and notifies the registered
// hook.
func (s *Store) invalidate(ctx context.Context, entity string, ids ...uuid.UUID) {
	for _, id := range ids {
		key := cacheKey(entity, id)
		s.local.delete(key)
		if s.remote != nil {
			s.remote.del(ctx, key)
		}
		if fn := s.onInvalidate; fn != nil {
			fn(entity, id)
		}
	}
}

func nullable(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

// --- users ---

type CreateUserParams struct {
	Email    string
	Name     string
	Password string

	Role          ApplicationRole
	Blocked       bool
	EmailVerified bool
}

func (p CreateUserParams) validate() error {
	if p.Email == "" || !strings.Contains(p.Email, "@") {
		return fmt.Errorf("%w: a valid email is required", ErrInvalidRecord)
	}
	if p.Password == "" {
		return fmt.Errorf("%w: a password is required", ErrInvalidRecord)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	return fetchOne(ctx, s, EntityUser, id, s.db.getUser)
}

// GetUserByEmail bypasses the cache tiers; email is not a cache key.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.db.getUserByEmail(ctx, email)
}

// CreateUser hashes the password under a fresh salt. An empty name defaults
// to the local part of the email.
func (s *Store) CreateUser(ctx context.Context, params CreateUserParams) (*User, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	role := params.Role
	if role == "" {
		role = RoleMember
	}
	name := params.Name
	if name == "" {
		if i := strings.IndexByte(params.Email, '@'); i > 0 {
			name = params.Email[:i]
		} else {
			name = "user"
		}
	}
	salt, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("store: generate salt: %w", err)
	}

	u := &User{
		ID:             uuid.New(),
		Email:          params.Email,
		Name:           name,
		HashedPassword: crypto.HashPassword(params.Password, salt, s.secret),
		Salt:           salt,
		EmailVerified:  params.EmailVerified,
		Blocked:        params.Blocked,
		Role:           role,
		Memberships:    []uuid.UUID{},
	}
	if err := s.db.createUser(ctx, u); err != nil {
		return nil, err
	}
	s.invalidate(ctx, EntityUser, u.ID)
	return u, nil
}

func (s *Store) DeleteUser(ctx context.Context, id uuid.UUID) (int64, error) {
	n, err := s.db.deleteUser(ctx, id)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.invalidate(ctx, EntityUser, id)
	}
	return n, nil
}

// --- projects ---

type CreateProjectParams struct {
	Name  string
	Owner *uuid.UUID
}

func (s *Store) GetProject(ctx context.Context, id uuid.UUID) (*Project, error) {
	return fetchOne(ctx, s, EntityProject, id, s.db.getProject)
}

func (s *Store) GetProjects(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*Project, error) {
	return fetchMany(ctx, s, EntityProject, ids, s.db.getProjects)
}

func (s *Store) CreateProject(ctx context.Context, params CreateProjectParams) (*Project, error) {
	if params.Name == "" {
		return nil, fmt.Errorf("%w: a project name is required", ErrInvalidRecord)
	}
	pr := &Project{
		ID:    uuid.New(),
		Name:  params.Name,
		Owner: params.Owner,
	}
	if err := s.db.createProject(ctx, pr); err != nil {
		return nil, err
	}
	s.invalidate(ctx, EntityProject, pr.ID)
	return pr, nil
}

func (s *Store) DeleteProject(ctx context.Context, id uuid.UUID) (int64, error) {
	n, err := s.db.deleteProject(ctx, id)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.invalidate(ctx, EntityProject, id)
	}
	return n, nil
}

// --- memberships ---

type CreateMembershipParams struct {
	ProjectID uuid.UUID
	UserID    uuid.UUID
	Role      ProjectRole
}

func (s *Store) GetMembership(ctx context.Context, id uuid.UUID) (*Membership, error) {
	return fetchOne(ctx, s, EntityMembership, id, s.db.getMembership)
}

func (s *Store) GetMemberships(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*Membership, error) {
	return fetchMany(ctx, s, EntityMembership, ids, s.db.getMemberships)
}

func (s *Store) CreateMembership(ctx context.Context, params CreateMembershipParams) (*Membership, error) {
	if params.ProjectID == uuid.Nil || params.UserID == uuid.Nil {
		return nil, fmt.Errorf("%w: project and user ids are required", ErrInvalidRecord)
	}
	role := params.Role
	if role == "" {
		role = ProjectRoleGuest
	}
	m := &Membership{
		ID:        uuid.New(),
		ProjectID: params.ProjectID,
		UserID:    params.UserID,
		Role:      role,
	}
	if err := s.db.createMembership(ctx, m); err != nil {
		return nil, err
	}
	s.invalidate(ctx, EntityMembership, m.ID)
	s.invalidate(ctx, EntityUser, m.UserID)
	return m, nil
}

func (s *Store) DeleteMembership(ctx context.Context, id uuid.UUID) (int64, error) {
	userID, n, err := s.db.deleteMembership(ctx, id)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.invalidate(ctx, EntityMembership, id)
		s.invalidate(ctx, EntityUser, userID)
	}
	return n, nil
}

// --- project invite codes ---

type CreateProjectInviteCodeParams struct {
	ProjectID  uuid.UUID
	AssignRole ProjectRole

	// Validity is a compact lifetime such as "30d"; empty means the code
	// never expires.
	Validity string

	// CodeLength zero means 10.
	CodeLength int
}

func (s *Store) GetProjectInviteCode(ctx context.Context, id uuid.UUID) (*ProjectInviteCode, error) {
	return fetchOne(ctx, s, EntityProjectInviteCode, id, s.db.getInviteCode)
}

func (s *Store) CreateProjectInviteCode(ctx context.Context, params CreateProjectInviteCodeParams) (*ProjectInviteCode, error) {
	if params.ProjectID == uuid.Nil {
		return nil, fmt.Errorf("%w: a project id is required", ErrInvalidRecord)
	}
	role := params.AssignRole
	if role == "" {
		role = ProjectRoleGuest
	}
	var validUntil *time.Time
	if params.Validity != "" {
		t, err := crypto.ParseExpiry(time.Now(), params.Validity)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
		}
		validUntil = &t
	}
	length := params.CodeLength
	if length <= 0 {
		length = 10
	}
	code, err := crypto.RandomAlphanumeric(length)
	if err != nil {
		return nil, fmt.Errorf("store: generate invite code: %w", err)
	}

	c := &ProjectInviteCode{
		ID:         uuid.New(),
		ProjectID:  params.ProjectID,
		Code:       code,
		AssignRole: role,
		ValidUntil: validUntil,
	}
	if err := s.db.createInviteCode(ctx, c); err != nil {
		return nil, err
	}
	s.invalidate(ctx, EntityProjectInviteCode, c.ID)
	return c, nil
}

func (s *Store) DeleteProjectInviteCode(ctx context.Context, id uuid.UUID) (int64, error) {
	n, err := s.db.deleteInviteCode(ctx, id)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.invalidate(ctx, EntityProjectInviteCode, id)
	}
	return n, nil
}

// --- session tokens ---

func (s *Store) GetSessionToken(ctx context.Context, id uuid.UUID) (*SessionToken, error) {
	return fetchOne(ctx, s, EntitySessionToken, id, s.db.getSessionToken)
}

// CreateSessionToken persists a session under the id derived from the raw
// token. The raw token itself is never stored.
func (s *Store) CreateSessionToken(ctx context.Context, token string, userID uuid.UUID, expiresAt time.Time) (*SessionToken, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: a token is required", ErrInvalidRecord)
	}
	if userID == uuid.Nil {
		return nil, fmt.Errorf("%w: a user id is required", ErrInvalidRecord)
	}
	t := &SessionToken{
		ID:        s.SessionTokenID(token),
		UserID:    userID,
		ExpiresAt: expiresAt,
	}
	if err := s.db.createSessionToken(ctx, t); err != nil {
		return nil, err
	}
	s.invalidate(ctx, EntitySessionToken, t.ID)
	return t, nil
}

func (s *Store) DeleteSessionToken(ctx context.Context, id uuid.UUID) (int64, error) {
	n, err := s.db.deleteSessionToken(ctx, id)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.invalidate(ctx, EntitySessionToken, id)
	}
	return n, nil
}

// --- deployments ---

type CreateDeploymentParams struct {
	Name     string
	Access   DeploymentAccess
	Strategy Strategy

	BudgetLimits  BudgetLimits
	RequestLimits RequestLimits
	TokenLimits   TokenLimits
}

func (s *Store) GetDeployment(ctx context.Context, id uuid.UUID) (*Deployment, error) {
	return fetchOne(ctx, s, EntityDeployment, id, s.db.getDeployment)
}

func (s *Store) GetDeployments(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*Deployment, error) {
	return fetchMany(ctx, s, EntityDeployment, ids, s.db.getDeployments)
}

// SearchDeployments lists deployments straight from the database,
// optionally filtered by exact name.
func (s *Store) SearchDeployments(ctx context.Context, name string) ([]*Deployment, error) {
	return s.db.searchDeployments(ctx, name)
}

func (s *Store) CreateDeployment(ctx context.Context, params CreateDeploymentParams) (*Deployment, error) {
	if params.Name == "" {
		return nil, fmt.Errorf("%w: a deployment name is required", ErrInvalidRecord)
	}
	access := params.Access
	if access == "" {
		access = AccessPrivate
	}
	strategy := params.Strategy
	if strategy == "" {
		strategy = StrategyRoundRobin
	}

	d := &Deployment{
		ID:       uuid.New(),
		Name:     params.Name,
		Access:   access,
		Strategy: strategy,

		BudgetLimits:  params.BudgetLimits,
		RequestLimits: params.RequestLimits,
		TokenLimits:   params.TokenLimits,

		Connections: []uuid.UUID{},
	}
	if err := s.db.createDeployment(ctx, d); err != nil {
		return nil, err
	}
	s.invalidate(ctx, EntityDeployment, d.ID)
	return d, nil
}

func (s *Store) DeleteDeployment(ctx context.Context, id uuid.UUID) (int64, error) {
	n, err := s.db.deleteDeployment(ctx, id)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.invalidate(ctx, EntityDeployment, id)
	}
	return n, nil
}

// --- connections ---

type CreateConnectionParams struct {
	Provider string
	APIKey   string
	Endpoint string

	// azure/openai only.
	APIVersion     string
	DeploymentName string

	// openai/v1 and gemini/v1beta only.
	Model string

	BudgetLimits  BudgetLimits
	RequestLimits RequestLimits
	TokenLimits   TokenLimits
}

func (p CreateConnectionParams) validate() error {
	if p.APIKey == "" {
		return fmt.Errorf("%w: an api key is required", ErrInvalidRecord)
	}
	if p.Endpoint == "" {
		return fmt.Errorf("%w: an api endpoint is required", ErrInvalidRecord)
	}
	switch p.Provider {
	case azure.ProviderName:
		if _, err := azure.ParseAPIVersion(p.APIVersion); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
		}
		if p.DeploymentName == "" {
			return fmt.Errorf("%w: a deployment name is required for %s", ErrInvalidRecord, p.Provider)
		}
	case openai.ProviderName, gemini.ProviderName:
		if p.Model == "" {
			return fmt.Errorf("%w: a model is required for %s", ErrInvalidRecord, p.Provider)
		}
	default:
		return fmt.Errorf("%w: unknown provider %q", ErrInvalidRecord, p.Provider)
	}
	return nil
}

func (s *Store) GetConnection(ctx context.Context, id uuid.UUID) (*Connection, error) {
	rec, err := fetchOne(ctx, s, EntityConnection, id, s.db.getConnection)
	if err != nil {
		return nil, err
	}
	return rec.decrypt(s.secret)
}

func (s *Store) GetConnections(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*Connection, error) {
	recs, err := fetchMany(ctx, s, EntityConnection, ids, s.db.getConnections)
	if err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID]*Connection, len(recs))
	for id, rec := range recs {
		if rec == nil {
			out[id] = nil
			continue
		}
		conn, err := rec.decrypt(s.secret)
		if err != nil {
			return nil, err
		}
		out[id] = conn
	}
	return out, nil
}

// CreateConnection encrypts the credential under a fresh salt and stores
// the provider-tagged payload. Fields that do not apply to the provider are
// dropped.
func (s *Store) CreateConnection(ctx context.Context, params CreateConnectionParams) (*Connection, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	salt, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("store: generate salt: %w", err)
	}
	encrypted, err := crypto.Encrypt(params.APIKey, salt, s.secret)
	if err != nil {
		return nil, fmt.Errorf("store: encrypt credential: %w", err)
	}

	info := connectionInfo{
		Provider:        params.Provider,
		EncryptedAPIKey: encrypted,
		Salt:            salt,
		APIEndpoint:     params.Endpoint,
	}
	switch params.Provider {
	case azure.ProviderName:
		info.APIVersion = params.APIVersion
		info.DeploymentName = params.DeploymentName
	default:
		info.Model = params.Model
	}

	rec := &connectionRecord{
		ID:   uuid.New(),
		Info: info,

		BudgetLimits:  params.BudgetLimits,
		RequestLimits: params.RequestLimits,
		TokenLimits:   params.TokenLimits,
	}
	if err := s.db.createConnection(ctx, rec); err != nil {
		return nil, err
	}
	s.invalidate(ctx, EntityConnection, rec.ID)
	return rec.decrypt(s.secret)
}

func (s *Store) DeleteConnection(ctx context.Context, id uuid.UUID) (int64, error) {
	n, err := s.db.deleteConnection(ctx, id)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.invalidate(ctx, EntityConnection, id)
	}
	return n, nil
}

// --- connection deployments ---

func (s *Store) GetConnectionDeployment(ctx context.Context, id uuid.UUID) (*ConnectionDeployment, error) {
	return fetchOne(ctx, s, EntityConnectionDeployment, id, s.db.getConnectionDeployment)
}

func (s *Store) GetConnectionDeployments(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*ConnectionDeployment, error) {
	return fetchMany(ctx, s, EntityConnectionDeployment, ids, s.db.getConnectionDeployments)
}

// SearchConnectionDeployments lists links straight from the database,
// filtered by either side when the filter is non-nil.
func (s *Store) SearchConnectionDeployments(ctx context.Context, connectionID, deploymentID *uuid.UUID) ([]*ConnectionDeployment, error) {
	return s.db.searchConnectionDeployments(ctx, nullable(connectionID), nullable(deploymentID))
}

// CreateConnectionDeployment links a connection into a deployment. A weight
// below one defaults to one.
func (s *Store) CreateConnectionDeployment(ctx context.Context, connectionID, deploymentID uuid.UUID, weight int16) (*ConnectionDeployment, error) {
	if connectionID == uuid.Nil || deploymentID == uuid.Nil {
		return nil, fmt.Errorf("%w: connection and deployment ids are required", ErrInvalidRecord)
	}
	if weight < 1 {
		weight = 1
	}
	cd := &ConnectionDeployment{
		ID:           uuid.New(),
		ConnectionID: connectionID,
		DeploymentID: deploymentID,
		Weight:       weight,
	}
	if err := s.db.createConnectionDeployment(ctx, cd); err != nil {
		return nil, err
	}
	s.invalidate(ctx, EntityConnectionDeployment, cd.ID)
	s.invalidate(ctx, EntityDeployment, cd.DeploymentID)
	return cd, nil
}

func (s *Store) DeleteConnectionDeployment(ctx context.Context, id uuid.UUID) (int64, error) {
	deploymentID, n, err := s.db.deleteConnectionDeployment(ctx, id)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.invalidate(ctx, EntityConnectionDeployment, id)
		s.invalidate(ctx, EntityDeployment, deploymentID)
	}
	return n, nil
}

// --- virtual keys ---

type CreateVirtualKeyParams struct {
	ProjectID   uuid.UUID
	Alias       string
	Description string
	Blocked     bool

	// KeySuffixLength is the random part after "sk-"; zero means 32.
	KeySuffixLength int

	BudgetLimits  BudgetLimits
	RequestLimits RequestLimits
	TokenLimits   TokenLimits
}

func (s *Store) GetVirtualKey(ctx context.Context, id uuid.UUID) (*VirtualKey, error) {
	rec, err := fetchOne(ctx, s, EntityVirtualKey, id, s.db.getVirtualKey)
	if err != nil {
		return nil, err
	}
	return rec.decrypt(s.secret)
}

// CreateVirtualKey generates the key, derives its id from the plaintext,
// and stores the encrypted form. An empty alias defaults to the key with
// everything but the last four characters elided.
func (s *Store) CreateVirtualKey(ctx context.Context, params CreateVirtualKeyParams) (*VirtualKey, error) {
	if params.ProjectID == uuid.Nil {
		return nil, fmt.Errorf("%w: a project id is required", ErrInvalidRecord)
	}
	length := params.KeySuffixLength
	if length <= 0 {
		length = 32
	}
	key, err := crypto.NewAPIKey(length)
	if err != nil {
		return nil, fmt.Errorf("store: generate key: %w", err)
	}
	alias := params.Alias
	if alias == "" {
		alias = "sk-..." + key[len(key)-4:]
	}
	salt, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("store: generate salt: %w", err)
	}
	encrypted, err := crypto.Encrypt(key, salt, s.secret)
	if err != nil {
		return nil, fmt.Errorf("store: encrypt key: %w", err)
	}

	rec := &virtualKeyRecord{
		ID:           crypto.DeriveID(key),
		Alias:        alias,
		Description:  params.Description,
		Salt:         salt,
		EncryptedKey: encrypted,
		Blocked:      params.Blocked,
		ProjectID:    params.ProjectID,

		BudgetLimits:  params.BudgetLimits,
		RequestLimits: params.RequestLimits,
		TokenLimits:   params.TokenLimits,

		Deployments: []uuid.UUID{},
	}
	if err := s.db.createVirtualKey(ctx, rec); err != nil {
		return nil, err
	}
	s.invalidate(ctx, EntityVirtualKey, rec.ID)
	return rec.decrypt(s.secret)
}

func (s *Store) DeleteVirtualKey(ctx context.Context, id uuid.UUID) (int64, error) {
	n, err := s.db.deleteVirtualKey(ctx, id)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.invalidate(ctx, EntityVirtualKey, id)
	}
	return n, nil
}

// --- virtual key deployments ---

func (s *Store) GetVirtualKeyDeployment(ctx context.Context, id uuid.UUID) (*VirtualKeyDeployment, error) {
	return fetchOne(ctx, s, EntityVirtualKeyDeployment, id, s.db.getVirtualKeyDeployment)
}

func (s *Store) GetVirtualKeyDeployments(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*VirtualKeyDeployment, error) {
	return fetchMany(ctx, s, EntityVirtualKeyDeployment, ids, s.db.getVirtualKeyDeployments)
}

// SearchVirtualKeyDeployments lists links straight from the database,
// filtered by either side when the filter is non-nil.
func (s *Store) SearchVirtualKeyDeployments(ctx context.Context, virtualKeyID, deploymentID *uuid.UUID) ([]*VirtualKeyDeployment, error) {
	return s.db.searchVirtualKeyDeployments(ctx, nullable(virtualKeyID), nullable(deploymentID))
}

// CreateVirtualKeyDeployment grants a virtual key access to a deployment.
func (s *Store) CreateVirtualKeyDeployment(ctx context.Context, virtualKeyID, deploymentID uuid.UUID) (*VirtualKeyDeployment, error) {
	if virtualKeyID == uuid.Nil || deploymentID == uuid.Nil {
		return nil, fmt.Errorf("%w: virtual key and deployment ids are required", ErrInvalidRecord)
	}
	vkd := &VirtualKeyDeployment{
		ID:           uuid.New(),
		VirtualKeyID: virtualKeyID,
		DeploymentID: deploymentID,
	}
	if err := s.db.createVirtualKeyDeployment(ctx, vkd); err != nil {
		return nil, err
	}
	s.invalidate(ctx, EntityVirtualKeyDeployment, vkd.ID)
	s.invalidate(ctx, EntityVirtualKey, vkd.VirtualKeyID)
	return vkd, nil
}

func (s *Store) DeleteVirtualKeyDeployment(ctx context.Context, id uuid.UUID) (int64, error) {
	virtualKeyID, n, err := s.db.deleteVirtualKeyDeployment(ctx, id)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.invalidate(ctx, EntityVirtualKeyDeployment, id)
		s.invalidate(ctx, EntityVirtualKey, virtualKeyID)
	}
	return n, nil
}

// --- request logs ---

// InsertRequestLogs writes one batch of proxy attempts. Logs are never
// cached.
func (s *Store) InsertRequestLogs(ctx context.Context, logs []*RequestLog) error {
	return s.db.insertRequestLogs(ctx, logs)
}

package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nulpointcorp/llmur/internal/crypto"
	"github.com/nulpointcorp/llmur/internal/providers/azure"
	"github.com/nulpointcorp/llmur/internal/providers/gemini"
	"github.com/nulpointcorp/llmur/internal/providers/openai"
)

// Entity names used in cache keys and invalidation notifications.
const (
	EntityUser                 = "user"
	EntityProject              = "project"
	EntityMembership           = "membership"
	EntityProjectInviteCode    = "project_invite_code"
	EntitySessionToken         = "session_token"
	EntityDeployment           = "deployment"
	EntityConnection           = "connection"
	EntityConnectionDeployment = "connection_deployment"
	EntityVirtualKey           = "virtual_key"
	EntityVirtualKeyDeployment = "virtual_key_deployment"
)

// ApplicationRole is a user's application-wide role.
type ApplicationRole string

const (
	RoleAdmin  ApplicationRole = "admin"
	RoleMember ApplicationRole = "member"
)

// ParseApplicationRole validates a role supplied by an admin request.
func ParseApplicationRole(s string) (ApplicationRole, error) {
	switch r := ApplicationRole(s); r {
	case RoleAdmin, RoleMember:
		return r, nil
	default:
		return "", fmt.Errorf("%w: unknown application role %q", ErrInvalidRecord, s)
	}
}

// ProjectRole is a membership's role within one project.
type ProjectRole string

const (
	ProjectRoleAdmin     ProjectRole = "admin"
	ProjectRoleDeveloper ProjectRole = "developer"
	ProjectRoleGuest     ProjectRole = "guest"
)

// ParseProjectRole validates a project role supplied by an admin request.
func ParseProjectRole(s string) (ProjectRole, error) {
	switch r := ProjectRole(s); r {
	case ProjectRoleAdmin, ProjectRoleDeveloper, ProjectRoleGuest:
		return r, nil
	default:
		return "", fmt.Errorf("%w: unknown project role %q", ErrInvalidRecord, s)
	}
}

// DeploymentAccess controls whether a deployment is reachable without an
// explicit virtual-key link.
type DeploymentAccess string

const (
	AccessPrivate DeploymentAccess = "private"
	AccessPublic  DeploymentAccess = "public"
)

// ParseDeploymentAccess validates an access value supplied by an admin
// request.
func ParseDeploymentAccess(s string) (DeploymentAccess, error) {
	switch a := DeploymentAccess(s); a {
	case AccessPrivate, AccessPublic:
		return a, nil
	default:
		return "", fmt.Errorf("%w: unknown deployment access %q", ErrInvalidRecord, s)
	}
}

// Strategy selects how a deployment orders its connections. The enum stays
// open: every stored value parses, but only round_robin and
// weighted_round_robin produce an ordering today.
type Strategy string

const (
	StrategyRoundRobin               Strategy = "round_robin"
	StrategyWeightedRoundRobin       Strategy = "weighted_round_robin"
	StrategyLeastConnections         Strategy = "least_connections"
	StrategyWeightedLeastConnections Strategy = "weighted_least_connections"
)

// ParseStrategy validates a load-balancing strategy supplied by an admin
// request.
func ParseStrategy(s string) (Strategy, error) {
	switch v := Strategy(s); v {
	case StrategyRoundRobin, StrategyWeightedRoundRobin,
		StrategyLeastConnections, StrategyWeightedLeastConnections:
		return v, nil
	default:
		return "", fmt.Errorf("%w: unknown load balancing strategy %q", ErrInvalidRecord, s)
	}
}

// BudgetLimits caps spend per period. All fields are advisory: they are
// stored and reported but not enforced by the proxy pipeline.
type BudgetLimits struct {
	CostPerMinute *float64 `json:"cost_per_minute,omitempty"`
	CostPerHour   *float64 `json:"cost_per_hour,omitempty"`
	CostPerDay    *float64 `json:"cost_per_day,omitempty"`
	CostPerWeek   *float64 `json:"cost_per_week,omitempty"`
	CostPerMonth  *float64 `json:"cost_per_month,omitempty"`
}

// RequestLimits caps request counts per period. Advisory, like BudgetLimits.
type RequestLimits struct {
	RequestsPerMinute *int64 `json:"requests_per_minute,omitempty"`
	RequestsPerHour   *int64 `json:"requests_per_hour,omitempty"`
	RequestsPerDay    *int64 `json:"requests_per_day,omitempty"`
	RequestsPerWeek   *int64 `json:"requests_per_week,omitempty"`
	RequestsPerMonth  *int64 `json:"requests_per_month,omitempty"`
}

// TokenLimits caps token throughput per period. Advisory, like BudgetLimits.
type TokenLimits struct {
	TokensPerMinute *int64 `json:"tokens_per_minute,omitempty"`
	TokensPerHour   *int64 `json:"tokens_per_hour,omitempty"`
	TokensPerDay    *int64 `json:"tokens_per_day,omitempty"`
	TokensPerWeek   *int64 `json:"tokens_per_week,omitempty"`
	TokensPerMonth  *int64 `json:"tokens_per_month,omitempty"`
}

// User is an admin-surface account. HashedPassword carries the scheme-tagged
// encoding produced by crypto.HashPassword; the plaintext never touches
// storage.
type User struct {
	ID             uuid.UUID       `json:"id"`
	Email          string          `json:"email"`
	Name           string          `json:"name"`
	HashedPassword string          `json:"hashed_password"`
	Salt           uuid.UUID       `json:"salt"`
	EmailVerified  bool            `json:"email_verified"`
	Blocked        bool            `json:"blocked"`
	Role           ApplicationRole `json:"role"`
	Memberships    []uuid.UUID     `json:"memberships"`
}

// Project is the organizational container owning deployments, virtual keys,
// invite codes, and memberships.
type Project struct {
	ID    uuid.UUID  `json:"id"`
	Name  string     `json:"name"`
	Owner *uuid.UUID `json:"owner,omitempty"`
}

// Membership links a user to a project with a role. Unique per
// (project, user) pair.
type Membership struct {
	ID        uuid.UUID   `json:"id"`
	ProjectID uuid.UUID   `json:"project_id"`
	UserID    uuid.UUID   `json:"user_id"`
	Role      ProjectRole `json:"role"`
}

// ProjectInviteCode admits a new member into a project with AssignRole.
type ProjectInviteCode struct {
	ID         uuid.UUID   `json:"id"`
	ProjectID  uuid.UUID   `json:"project_id"`
	Code       string      `json:"code"`
	AssignRole ProjectRole `json:"assign_role"`
	ValidUntil *time.Time  `json:"valid_until,omitempty"`
}

// SessionToken is an admin-surface bearer session. Its id is
// UUIDv5(token ":" secret); the raw token is never stored.
type SessionToken struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Revoked   bool      `json:"revoked"`
}

// Valid reports whether the session is usable at now.
func (t *SessionToken) Valid(now time.Time) bool {
	return !t.Revoked && now.Before(t.ExpiresAt)
}

// Deployment is the logical model name clients address. Connections holds
// the ids of the connection-deployment links fanning out from it.
type Deployment struct {
	ID       uuid.UUID        `json:"id"`
	Name     string           `json:"name"`
	Access   DeploymentAccess `json:"access"`
	Strategy Strategy         `json:"strategy"`

	BudgetLimits  BudgetLimits  `json:"budget_limits"`
	RequestLimits RequestLimits `json:"request_limits"`
	TokenLimits   TokenLimits   `json:"token_limits"`

	Connections []uuid.UUID `json:"connections"`
}

// Connection is an upstream provider target. APIKey is decrypted; the
// encrypted form plus its salt only ever exist in the database and the
// shared cache tier.
//
// The provider discriminates which settings apply: azure/openai populates
// APIVersion and DeploymentName, openai/v1 and gemini/v1beta populate Model.
type Connection struct {
	ID       uuid.UUID `json:"id"`
	Provider string    `json:"provider"`
	APIKey   string    `json:"api_key"`
	Endpoint string    `json:"api_endpoint"`

	APIVersion     azure.APIVersion `json:"api_version,omitempty"`
	DeploymentName string           `json:"deployment_name,omitempty"`

	Model string `json:"model,omitempty"`

	BudgetLimits  BudgetLimits  `json:"budget_limits"`
	RequestLimits RequestLimits `json:"request_limits"`
	TokenLimits   TokenLimits   `json:"token_limits"`
}

// ConnectionDeployment attaches a connection to a deployment with a
// load-balancing weight.
type ConnectionDeployment struct {
	ID           uuid.UUID `json:"id"`
	ConnectionID uuid.UUID `json:"connection_id"`
	DeploymentID uuid.UUID `json:"deployment_id"`
	Weight       int16     `json:"weight"`
}

// VirtualKey is a client credential. Key is the decrypted plaintext; its id
// is UUIDv5 of that plaintext so the proxy can derive it from a presented
// bearer without a database hit. Deployments holds the ids of the
// virtual-key-deployment links granting model access.
type VirtualKey struct {
	ID          uuid.UUID `json:"id"`
	Key         string    `json:"key"`
	Alias       string    `json:"alias"`
	Description string    `json:"description,omitempty"`
	Blocked     bool      `json:"blocked"`
	ProjectID   uuid.UUID `json:"project_id"`

	BudgetLimits  BudgetLimits  `json:"budget_limits"`
	RequestLimits RequestLimits `json:"request_limits"`
	TokenLimits   TokenLimits   `json:"token_limits"`

	Deployments []uuid.UUID `json:"deployments"`
}

// VirtualKeyDeployment authorizes a virtual key to use a deployment.
type VirtualKeyDeployment struct {
	ID           uuid.UUID `json:"id"`
	VirtualKeyID uuid.UUID `json:"virtual_key_id"`
	DeploymentID uuid.UUID `json:"deployment_id"`
}

// RequestLog is one proxy attempt, denormalized with the names current when
// the attempt ran so analytics survive later entity deletion.
type RequestLog struct {
	ID            uuid.UUID `json:"id"`
	AttemptNumber int16     `json:"attempt_number"`

	VirtualKeyID uuid.UUID `json:"virtual_key_id"`
	ProjectID    uuid.UUID `json:"project_id"`
	DeploymentID uuid.UUID `json:"deployment_id"`
	ConnectionID uuid.UUID `json:"connection_id"`

	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	TotalTokens  int64   `json:"total_tokens"`
	Cost         float64 `json:"cost"`

	HTTPStatusCode int     `json:"http_status_code"`
	Error          *string `json:"error,omitempty"`

	RequestTS  time.Time `json:"request_ts"`
	ResponseTS time.Time `json:"response_ts"`

	Method          string `json:"method"`
	Path            string `json:"path"`
	Provider        string `json:"provider"`
	DeploymentName  string `json:"deployment_name"`
	ProjectName     string `json:"project_name"`
	VirtualKeyAlias string `json:"virtual_key_alias"`
}

// connectionInfo is the stored payload of a connection: one JSON column
// tagged by provider, credential encrypted under the embedded salt plus the
// application secret.
type connectionInfo struct {
	Provider        string    `json:"provider"`
	EncryptedAPIKey string    `json:"encrypted_api_key"`
	Salt            uuid.UUID `json:"salt"`
	APIEndpoint     string    `json:"api_endpoint"`

	// azure/openai only.
	APIVersion     string `json:"api_version,omitempty"`
	DeploymentName string `json:"deployment_name,omitempty"`

	// openai/v1 and gemini/v1beta only.
	Model string `json:"model,omitempty"`
}

// connectionRecord is the at-rest shape of a connection, shared by the
// database row and the cache tiers.
type connectionRecord struct {
	ID   uuid.UUID      `json:"id"`
	Info connectionInfo `json:"connection_info"`

	BudgetLimits  BudgetLimits  `json:"budget_limits"`
	RequestLimits RequestLimits `json:"request_limits"`
	TokenLimits   TokenLimits   `json:"token_limits"`
}

// decrypt converts the stored record into the in-memory Connection with a
// plaintext credential.
func (r *connectionRecord) decrypt(secret uuid.UUID) (*Connection, error) {
	key, err := crypto.Decrypt(r.Info.EncryptedAPIKey, r.Info.Salt, secret)
	if err != nil {
		return nil, fmt.Errorf("%w: connection %s credential: %v", ErrInvalidRecord, r.ID, err)
	}

	conn := &Connection{
		ID:       r.ID,
		Provider: r.Info.Provider,
		APIKey:   key,
		Endpoint: r.Info.APIEndpoint,
		Model:    r.Info.Model,

		BudgetLimits:  r.BudgetLimits,
		RequestLimits: r.RequestLimits,
		TokenLimits:   r.TokenLimits,
	}

	switch r.Info.Provider {
	case azure.ProviderName:
		v, err := azure.ParseAPIVersion(r.Info.APIVersion)
		if err != nil {
			return nil, fmt.Errorf("%w: connection %s: %v", ErrInvalidRecord, r.ID, err)
		}
		conn.APIVersion = v
		conn.DeploymentName = r.Info.DeploymentName
	case openai.ProviderName, gemini.ProviderName:
	default:
		return nil, fmt.Errorf("%w: connection %s has unknown provider %q", ErrInvalidRecord, r.ID, r.Info.Provider)
	}

	return conn, nil
}

// virtualKeyRecord is the at-rest shape of a virtual key, shared by the
// database row and the cache tiers. The plaintext key exists only after
// decrypt.
type virtualKeyRecord struct {
	ID           uuid.UUID `json:"id"`
	Alias        string    `json:"alias"`
	Description  string    `json:"description,omitempty"`
	Salt         uuid.UUID `json:"salt"`
	EncryptedKey string    `json:"encrypted_key"`
	Blocked      bool      `json:"blocked"`
	ProjectID    uuid.UUID `json:"project_id"`

	BudgetLimits  BudgetLimits  `json:"budget_limits"`
	RequestLimits RequestLimits `json:"request_limits"`
	TokenLimits   TokenLimits   `json:"token_limits"`

	Deployments []uuid.UUID `json:"deployments"`
}

func (r *virtualKeyRecord) decrypt(secret uuid.UUID) (*VirtualKey, error) {
	key, err := crypto.Decrypt(r.EncryptedKey, r.Salt, secret)
	if err != nil {
		return nil, fmt.Errorf("%w: virtual key %s: %v", ErrInvalidRecord, r.ID, err)
	}

	return &VirtualKey{
		ID:          r.ID,
		Key:         key,
		Alias:       r.Alias,
		Description: r.Description,
		Blocked:     r.Blocked,
		ProjectID:   r.ProjectID,

		BudgetLimits:  r.BudgetLimits,
		RequestLimits: r.RequestLimits,
		TokenLimits:   r.TokenLimits,

		Deployments: r.Deployments,
	}, nil
}

package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/llmur/internal/crypto"
	"github.com/nulpointcorp/llmur/internal/store"
	"github.com/nulpointcorp/llmur/internal/usage"
	"github.com/nulpointcorp/llmur/pkg/apierr"
)

// Web sessions issued by the login endpoint live this long.
const sessionTokenValidity = "30d"

// Store is the slice of the data facade the admin surface drives.
type Store interface {
	AuthStore
	MembershipSource

	GetUserByEmail(ctx context.Context, email string) (*store.User, error)
	CreateUser(ctx context.Context, params store.CreateUserParams) (*store.User, error)
	DeleteUser(ctx context.Context, id uuid.UUID) (int64, error)

	GetProject(ctx context.Context, id uuid.UUID) (*store.Project, error)
	CreateProject(ctx context.Context, params store.CreateProjectParams) (*store.Project, error)
	DeleteProject(ctx context.Context, id uuid.UUID) (int64, error)

	GetMembership(ctx context.Context, id uuid.UUID) (*store.Membership, error)
	CreateMembership(ctx context.Context, params store.CreateMembershipParams) (*store.Membership, error)
	DeleteMembership(ctx context.Context, id uuid.UUID) (int64, error)

	GetProjectInviteCode(ctx context.Context, id uuid.UUID) (*store.ProjectInviteCode, error)
	CreateProjectInviteCode(ctx context.Context, params store.CreateProjectInviteCodeParams) (*store.ProjectInviteCode, error)
	DeleteProjectInviteCode(ctx context.Context, id uuid.UUID) (int64, error)

	CreateSessionToken(ctx context.Context, token string, userID uuid.UUID, expiresAt time.Time) (*store.SessionToken, error)
	DeleteSessionToken(ctx context.Context, id uuid.UUID) (int64, error)

	GetDeployment(ctx context.Context, id uuid.UUID) (*store.Deployment, error)
	SearchDeployments(ctx context.Context, name string) ([]*store.Deployment, error)
	CreateDeployment(ctx context.Context, params store.CreateDeploymentParams) (*store.Deployment, error)
	DeleteDeployment(ctx context.Context, id uuid.UUID) (int64, error)

	GetConnection(ctx context.Context, id uuid.UUID) (*store.Connection, error)
	CreateConnection(ctx context.Context, params store.CreateConnectionParams) (*store.Connection, error)
	DeleteConnection(ctx context.Context, id uuid.UUID) (int64, error)

	GetConnectionDeployment(ctx context.Context, id uuid.UUID) (*store.ConnectionDeployment, error)
	SearchConnectionDeployments(ctx context.Context, connectionID, deploymentID *uuid.UUID) ([]*store.ConnectionDeployment, error)
	CreateConnectionDeployment(ctx context.Context, connectionID, deploymentID uuid.UUID, weight int16) (*store.ConnectionDeployment, error)
	DeleteConnectionDeployment(ctx context.Context, id uuid.UUID) (int64, error)

	GetVirtualKey(ctx context.Context, id uuid.UUID) (*store.VirtualKey, error)
	CreateVirtualKey(ctx context.Context, params store.CreateVirtualKeyParams) (*store.VirtualKey, error)
	DeleteVirtualKey(ctx context.Context, id uuid.UUID) (int64, error)

	GetVirtualKeyDeployment(ctx context.Context, id uuid.UUID) (*store.VirtualKeyDeployment, error)
	SearchVirtualKeyDeployments(ctx context.Context, virtualKeyID, deploymentID *uuid.UUID) ([]*store.VirtualKeyDeployment, error)
	CreateVirtualKeyDeployment(ctx context.Context, virtualKeyID, deploymentID uuid.UUID) (*store.VirtualKeyDeployment, error)
	DeleteVirtualKeyDeployment(ctx context.Context, id uuid.UUID) (int64, error)
}

// AdminOptions carry the optional collaborators of the admin surface.
type AdminOptions struct {
	Logger *slog.Logger

	// Usage, when set, decorates entity reads with consumption stats.
	Usage *usage.Tracker
}

// Admin serves the /admin management API: entity CRUD, web session login
// and the resolution debug endpoint.
type Admin struct {
	store    Store
	resolver GraphResolver
	usage    *usage.Tracker
	secret   uuid.UUID
	log      *slog.Logger
}

// NewAdmin builds the admin surface. The secret is the application secret
// used to verify user passwords.
func NewAdmin(st Store, resolver GraphResolver, secret uuid.UUID, opts AdminOptions) *Admin {
	a := &Admin{
		store:    st,
		resolver: resolver,
		usage:    opts.Usage,
		secret:   secret,
		log:      opts.Logger,
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	return a
}

// --- shared plumbing ---

type statusResult struct {
	Success bool `json:"success"`
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		apierr.WriteError(ctx, apierr.Internal("encoding response").WithCause(err))
		return
	}
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	ctx.SetBody(payload)
}

func decodeBody(ctx *fasthttp.RequestCtx, v any) *apierr.Error {
	if err := json.Unmarshal(ctx.PostBody(), v); err != nil {
		return apierr.BadRequest("invalid request body: " + err.Error())
	}
	return nil
}

func pathID(ctx *fasthttp.RequestCtx) (uuid.UUID, *apierr.Error) {
	raw, _ := ctx.UserValue("id").(string)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apierr.BadRequest("invalid id in path")
	}
	return id, nil
}

// storeError translates data layer failures into API errors.
func storeError(err error) *apierr.Error {
	var aerr *apierr.Error
	switch {
	case errors.As(err, &aerr):
		return aerr
	case errors.Is(err, store.ErrNotFound):
		return apierr.ResourceNotFound("record not found")
	case errors.Is(err, store.ErrInvalidRecord):
		return apierr.BadRequest(err.Error())
	}
	return apierr.Internal("store operation failed").WithCause(err)
}

// accessCheck folds a project role probe into an API error.
func accessCheck(ok bool, err error) *apierr.Error {
	if err != nil {
		return apierr.Internal("checking project access").WithCause(err)
	}
	if !ok {
		return apierr.AccessDenied("insufficient project permissions")
	}
	return nil
}

func parseOptional[T ~string](s string, parse func(string) (T, error)) (T, *apierr.Error) {
	var zero T
	if s == "" {
		return zero, nil
	}
	v, err := parse(s)
	if err != nil {
		return zero, apierr.BadRequest(err.Error())
	}
	return v, nil
}

// usageStats fetches consumption counters for an entity, best effort. A
// stats failure never fails the read it decorates.
func (a *Admin) usageStats(ctx context.Context, resource usage.Resource, id uuid.UUID) usage.Stats {
	if a.usage == nil {
		return nil
	}
	stats, err := a.usage.Stats(ctx, resource, id, time.Now())
	if err != nil {
		a.log.Debug("usage_stats_failed",
			slog.String("resource", string(resource)),
			slog.String("id", id.String()),
			slog.String("error", err.Error()))
		return nil
	}
	return stats
}

// --- users ---

// userResult is the public shape of a user: the password hash and salt
// never leave the service.
type userResult struct {
	ID            uuid.UUID             `json:"id"`
	Email         string                `json:"email"`
	Name          string                `json:"name"`
	EmailVerified bool                  `json:"email_verified"`
	Blocked       bool                  `json:"blocked"`
	Role          store.ApplicationRole `json:"role"`
	Memberships   []uuid.UUID           `json:"memberships"`
}

func newUserResult(u *store.User) userResult {
	return userResult{
		ID:            u.ID,
		Email:         u.Email,
		Name:          u.Name,
		EmailVerified: u.EmailVerified,
		Blocked:       u.Blocked,
		Role:          u.Role,
		Memberships:   u.Memberships,
	}
}

type createUserPayload struct {
	Email         string `json:"email"`
	Name          string `json:"name"`
	Password      string `json:"password"`
	Role          string `json:"role"`
	Blocked       bool   `json:"blocked"`
	EmailVerified bool   `json:"email_verified"`
}

func (a *Admin) handleCreateUser(ctx *fasthttp.RequestCtx) {
	if _, aerr := requireMaster(ctx); aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	var payload createUserPayload
	if aerr := decodeBody(ctx, &payload); aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	role, aerr := parseOptional(payload.Role, store.ParseApplicationRole)
	if aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	user, err := a.store.CreateUser(ctx, store.CreateUserParams{
		Email:         payload.Email,
		Name:          payload.Name,
		Password:      payload.Password,
		Role:          role,
		Blocked:       payload.Blocked,
		EmailVerified: payload.EmailVerified,
	})
	if err != nil {
		apierr.WriteError(ctx, storeError(err))
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, newUserResult(user))
}

// handleCurrentUser serves GET /admin/user/me: the identity behind the
// presented session. The master key has no user record to return.
func (a *Admin) handleCurrentUser(ctx *fasthttp.RequestCtx) {
	user, aerr := requireUser(ctx)
	if aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	if user.Master {
		apierr.WriteError(ctx, apierr.AccessDenied("the master key has no user identity"))
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, newUserResult(user.User))
}

func (a *Admin) handleGetUser(ctx *fasthttp.RequestCtx) {
	if raw, _ := ctx.UserValue("id").(string); raw == "me" {
		a.handleCurrentUser(ctx)
		return
	}
	user, aerr := requireUser(ctx)
	if aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	id, aerr := pathID(ctx)
	if aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	self := user.User != nil && user.User.ID == id
	if !self && !user.HasAdminAccess() {
		apierr.WriteError(ctx, apierr.AccessDenied("cannot read other users"))
		return
	}
	target, err := a.store.GetUser(ctx, id)
	if err != nil {
		apierr.WriteError(ctx, storeError(err))
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, newUserResult(target))
}

func (a *Admin) handleDeleteUser(ctx *fasthttp.RequestCtx) {
	user, aerr := requireUser(ctx)
	if aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	id, aerr := pathID(ctx)
	if aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	if !user.Master && (user.User == nil || user.User.ID != id) {
		apierr.WriteError(ctx, apierr.AccessDenied("cannot delete other users"))
		return
	}
	a.deleteEntity(ctx, id, a.store.DeleteUser)
}

// deleteEntity runs a facade delete and renders the outcome uniformly: a
// zero row count is a 404.
func (a *Admin) deleteEntity(ctx *fasthttp.RequestCtx, id uuid.UUID, del func(context.Context, uuid.UUID) (int64, error)) {
	n, err := del(ctx, id)
	if err != nil {
		apierr.WriteError(ctx, storeError(err))
		return
	}
	if n == 0 {
		apierr.WriteError(ctx, apierr.ResourceNotFound("record not found"))
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, statusResult{Success: true})
}

// --- session tokens ---

type loginPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResult struct {
	Token string              `json:"token"`
	Info  *store.SessionToken `json:"info"`
}

// handleLogin exchanges credentials for a fresh session token. This is the
// only admin endpoint that requires no prior authentication.
func (a *Admin) handleLogin(ctx *fasthttp.RequestCtx) {
	var payload loginPayload
	if aerr := decodeBody(ctx, &payload); aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	if payload.Email == "" || payload.Password == "" {
		apierr.WriteError(ctx, apierr.BadRequest("email and password are required"))
		return
	}
	user, err := a.store.GetUserByEmail(ctx, payload.Email)
	if errors.Is(err, store.ErrNotFound) {
		apierr.WriteError(ctx, apierr.InvalidCredentials())
		return
	}
	if err != nil {
		apierr.WriteError(ctx, storeError(err))
		return
	}
	if !crypto.VerifyPassword(user.HashedPassword, payload.Password, user.Salt, a.secret) {
		apierr.WriteError(ctx, apierr.InvalidCredentials())
		return
	}
	if user.Blocked {
		apierr.WriteError(ctx, apierr.AccessDenied("user is blocked"))
		return
	}
	token, err := crypto.RandomAlphanumeric(32)
	if err != nil {
		apierr.WriteError(ctx, apierr.Internal("generating session token").WithCause(err))
		return
	}
	expiresAt, err := crypto.ParseExpiry(time.Now(), sessionTokenValidity)
	if err != nil {
		apierr.WriteError(ctx, apierr.Internal("computing session expiry").WithCause(err))
		return
	}
	session, err := a.store.CreateSessionToken(ctx, token, user.ID, expiresAt)
	if err != nil {
		apierr.WriteError(ctx, storeError(err))
		return
	}
	a.log.Info("session_created",
		slog.String("user_id", user.ID.String()),
		slog.String("session_id", session.ID.String()))
	writeJSON(ctx, fasthttp.StatusOK, loginResult{Token: token, Info: session})
}

func (a *Admin) handleGetSessionToken(ctx *fasthttp.RequestCtx) {
	user, aerr := requireUser(ctx)
	if aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	id, aerr := pathID(ctx)
	if aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	session, err := a.store.GetSessionToken(ctx, id)
	if err != nil {
		apierr.WriteError(ctx, storeError(err))
		return
	}
	if !user.Master && (user.User == nil || session.UserID != user.User.ID) {
		apierr.WriteError(ctx, apierr.AccessDenied("cannot read sessions of other users"))
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, session)
}

func (a *Admin) handleDeleteSessionToken(ctx *fasthttp.RequestCtx) {
	user, aerr := requireUser(ctx)
	if aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	id, aerr := pathID(ctx)
	if aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	session, err := a.store.GetSessionToken(ctx, id)
	if err != nil {
		apierr.WriteError(ctx, storeError(err))
		return
	}
	if !user.Master && (user.User == nil || session.UserID != user.User.ID) {
		apierr.WriteError(ctx, apierr.AccessDenied("cannot revoke sessions of other users"))
		return
	}
	a.deleteEntity(ctx, id, a.store.DeleteSessionToken)
}

// --- projects ---

type createProjectPayload struct {
	Name string `json:"name"`
}

func (a *Admin) handleCreateProject(ctx *fasthttp.RequestCtx) {
	user, aerr := requireUser(ctx)
	if aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	if !user.HasAdminAccess() {
		apierr.WriteError(ctx, apierr.AccessDenied("application admin rights required"))
		return
	}
	var payload createProjectPayload
	if aerr := decodeBody(ctx, &payload); aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	var owner *uuid.UUID
	if user.User != nil {
		owner = &user.User.ID
	}
	project, err := a.store.CreateProject(ctx, store.CreateProjectParams{Name: payload.Name, Owner: owner})
	if err != nil {
		apierr.WriteError(ctx, storeError(err))
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, project)
}

func (a *Admin) handleGetProject(ctx *fasthttp.RequestCtx) {
	user, aerr := requireUser(ctx)
	if aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	id, aerr := pathID(ctx)
	if aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	project, err := a.store.GetProject(ctx, id)
	if err != nil {
		apierr.WriteError(ctx, storeError(err))
		return
	}
	ok, cerr := user.HasProjectMemberAccess(ctx, a.store, project.ID)
	if aerr := accessCheck(ok, cerr); aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, struct {
		*store.Project
		Usage usage.Stats `json:"usage,omitempty"`
	}{project, a.usageStats(ctx, usage.ResourceProject, project.ID)})
}

func (a *Admin) handleDeleteProject(ctx *fasthttp.RequestCtx) {
	user, aerr := requireUser(ctx)
	if aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	id, aerr := pathID(ctx)
	if aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	project, err := a.store.GetProject(ctx, id)
	if err != nil {
		apierr.WriteError(ctx, storeError(err))
		return
	}
	ok, cerr := user.HasProjectAdminAccess(ctx, a.store, project.ID)
	if aerr := accessCheck(ok, cerr); aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	a.deleteEntity(ctx, id, a.store.DeleteProject)
}

// --- memberships ---

type createMembershipPayload struct {
	ProjectID uuid.UUID `json:"project_id"`
	UserID    uuid.UUID `json:"user_id"`
	Role      string    `json:"role"`
}

func (a *Admin) handleCreateMembership(ctx *fasthttp.RequestCtx) {
	user, aerr := requireUser(ctx)
	if aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	var payload createMembershipPayload
	if aerr := decodeBody(ctx, &payload); aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	role, aerr := parseOptional(payload.Role, store.ParseProjectRole)
	if aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	if _, err := a.store.GetProject(ctx, payload.ProjectID); err != nil {
		apierr.WriteError(ctx, storeError(err))
		return
	}
	ok, cerr := user.HasProjectAdminAccess(ctx, a.store, payload.ProjectID)
	if aerr := accessCheck(ok, cerr); aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	membership, err := a.store.CreateMembership(ctx, store.CreateMembershipParams{
		ProjectID: payload.ProjectID,
		UserID:    payload.UserID,
		Role:      role,
	})
	if err != nil {
		apierr.WriteError(ctx, storeError(err))
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, membership)
}

func (a *Admin) handleGetMembership(ctx *fasthttp.RequestCtx) {
	user, aerr := requireUser(ctx)
	if aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	id, aerr := pathID(ctx)
	if aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	membership, err := a.store.GetMembership(ctx, id)
	if err != nil {
		apierr.WriteError(ctx, storeError(err))
		return
	}
	ok, cerr := user.HasProjectMemberAccess(ctx, a.store, membership.ProjectID)
	if aerr := accessCheck(ok, cerr); aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, membership)
}

func (a *Admin) handleDeleteMembership(ctx *fasthttp.RequestCtx) {
	user, aerr := requireUser(ctx)
	if aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	id, aerr := pathID(ctx)
	if aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	membership, err := a.store.GetMembership(ctx, id)
	if err != nil {
		apierr.WriteError(ctx, storeError(err))
		return
	}
	ok, cerr := user.HasProjectAdminAccess(ctx, a.store, membership.ProjectID)
	if aerr := accessCheck(ok, cerr); aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	a.deleteEntity(ctx, id, a.store.DeleteMembership)
}

// --- project invite codes ---

type createInviteCodePayload struct {
	ProjectID  uuid.UUID `json:"project_id"`
	AssignRole string    `json:"assign_role"`
	Validity   string    `json:"validity"`
	CodeLength int       `json:"code_length"`
}

func (a *Admin) handleCreateInviteCode(ctx *fasthttp.RequestCtx) {
	user, aerr := requireUser(ctx)
	if aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	var payload createInviteCodePayload
	if aerr := decodeBody(ctx, &payload); aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	role, aerr := parseOptional(payload.AssignRole, store.ParseProjectRole)
	if aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	if _, err := a.store.GetProject(ctx, payload.ProjectID); err != nil {
		apierr.WriteError(ctx, storeError(err))
		return
	}
	ok, cerr := user.HasProjectAdminAccess(ctx, a.store, payload.ProjectID)
	if aerr := accessCheck(ok, cerr); aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	code, err := a.store.CreateProjectInviteCode(ctx, store.CreateProjectInviteCodeParams{
		ProjectID:  payload.ProjectID,
		AssignRole: role,
		Validity:   payload.Validity,
		CodeLength: payload.CodeLength,
	})
	if err != nil {
		apierr.WriteError(ctx, storeError(err))
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, code)
}

func (a *Admin) handleGetInviteCode(ctx *fasthttp.RequestCtx) {
	user, aerr := requireUser(ctx)
	if aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	id, aerr := pathID(ctx)
	if aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	code, err := a.store.GetProjectInviteCode(ctx, id)
	if err != nil {
		apierr.WriteError(ctx, storeError(err))
		return
	}
	ok, cerr := user.HasProjectMemberAccess(ctx, a.store, code.ProjectID)
	if aerr := accessCheck(ok, cerr); aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, code)
}

func (a *Admin) handleDeleteInviteCode(ctx *fasthttp.RequestCtx) {
	user, aerr := requireUser(ctx)
	if aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	id, aerr := pathID(ctx)
	if aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	code, err := a.store.GetProjectInviteCode(ctx, id)
	if err != nil {
		apierr.WriteError(ctx, storeError(err))
		return
	}
	ok, cerr := user.HasProjectAdminAccess(ctx, a.store, code.ProjectID)
	if aerr := accessCheck(ok, cerr); aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	a.deleteEntity(ctx, id, a.store.DeleteProjectInviteCode)
}

// --- deployments ---

type createDeploymentPayload struct {
	Name     string `json:"name"`
	Access   string `json:"access"`
	Strategy string `json:"strategy"`

	BudgetLimits  store.BudgetLimits  `json:"budget_limits"`
	RequestLimits store.RequestLimits `json:"request_limits"`
	TokenLimits   store.TokenLimits   `json:"token_limits"`
}

func (a *Admin) handleCreateDeployment(ctx *fasthttp.RequestCtx) {
	user, aerr := requireUser(ctx)
	if aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	if !user.HasAdminAccess() {
		apierr.WriteError(ctx, apierr.AccessDenied("application admin rights required"))
		return
	}
	var payload createDeploymentPayload
	if aerr := decodeBody(ctx, &payload); aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	access, aerr := parseOptional(payload.Access, store.ParseDeploymentAccess)
	if aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	strategy, aerr := parseOptional(payload.Strategy, store.ParseStrategy)
	if aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	deployment, err := a.store.CreateDeployment(ctx, store.CreateDeploymentParams{
		Name:          payload.Name,
		Access:        access,
		Strategy:      strategy,
		BudgetLimits:  payload.BudgetLimits,
		RequestLimits: payload.RequestLimits,
		TokenLimits:   payload.TokenLimits,
	})
	if err != nil {
		apierr.WriteError(ctx, storeError(err))
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, deployment)
}

func (a *Admin) handleGetDeployment(ctx *fasthttp.RequestCtx) {
	user, aerr := requireUser(ctx)
	if aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	if !user.HasAdminAccess() {
		apierr.WriteError(ctx, apierr.AccessDenied("application admin rights required"))
		return
	}
	id, aerr := pathID(ctx)
	if aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	deployment, err := a.store.GetDeployment(ctx, id)
	if err != nil {
		apierr.WriteError(ctx, storeError(err))
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, struct {
		*store.Deployment
		Usage usage.Stats `json:"usage,omitempty"`
	}{deployment, a.usageStats(ctx, usage.ResourceDeployment, deployment.ID)})
}

func (a *Admin) handleSearchDeployments(ctx *fasthttp.RequestCtx) {
	user, aerr := requireUser(ctx)
	if aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	if !user.HasAdminAccess() {
		apierr.WriteError(ctx, apierr.AccessDenied("application admin rights required"))
		return
	}
	name := string(ctx.QueryArgs().Peek("name"))
	deployments, err := a.store.SearchDeployments(ctx, name)
	if err != nil {
		apierr.WriteError(ctx, storeError(err))
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, listResult[*store.Deployment]{Items: deployments, Total: len(deployments)})
}

func (a *Admin) handleDeleteDeployment(ctx *fasthttp.RequestCtx) {
	user, aerr := requireUser(ctx)
	if aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	if !user.HasAdminAccess() {
		apierr.WriteError(ctx, apierr.AccessDenied("application admin rights required"))
		return
	}
	id, aerr := pathID(ctx)
	if aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	a.deleteEntity(ctx, id, a.store.DeleteDeployment)
}

type listResult[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}

// --- connections ---

type createConnectionPayload struct {
	Provider       string `json:"provider"`
	APIKey         string `json:"api_key"`
	Endpoint       string `json:"api_endpoint"`
	APIVersion     string `json:"api_version"`
	DeploymentName string `json:"deployment_name"`
	Model          string `json:"model"`

	BudgetLimits  store.BudgetLimits  `json:"budget_limits"`
	RequestLimits store.RequestLimits `json:"request_limits"`
	TokenLimits   store.TokenLimits   `json:"token_limits"`
}

func (a *Admin) handleCreateConnection(ctx *fasthttp.RequestCtx) {
	user, aerr := requireUser(ctx)
	if aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	if !user.HasAdminAccess() {
		apierr.WriteError(ctx, apierr.AccessDenied("application admin rights required"))
		return
	}
	var payload createConnectionPayload
	if aerr := decodeBody(ctx, &payload); aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	connection, err := a.store.CreateConnection(ctx, store.CreateConnectionParams{
		Provider:       payload.Provider,
		APIKey:         payload.APIKey,
		Endpoint:       payload.Endpoint,
		APIVersion:     payload.APIVersion,
		DeploymentName: payload.DeploymentName,
		Model:          payload.Model,
		BudgetLimits:   payload.BudgetLimits,
		RequestLimits:  payload.RequestLimits,
		TokenLimits:    payload.TokenLimits,
	})
	if err != nil {
		apierr.WriteError(ctx, storeError(err))
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, connection)
}

func (a *Admin) handleGetConnection(ctx *fasthttp.RequestCtx) {
	user, aerr := requireUser(ctx)
	if aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	if !user.HasAdminAccess() {
		apierr.WriteError(ctx, apierr.AccessDenied("application admin rights required"))
		return
	}
	id, aerr := pathID(ctx)
	if aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	connection, err := a.store.GetConnection(ctx, id)
	if err != nil {
		apierr.WriteError(ctx, storeError(err))
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, struct {
		*store.Connection
		Usage usage.Stats `json:"usage,omitempty"`
	}{connection, a.usageStats(ctx, usage.ResourceConnection, connection.ID)})
}

func (a *Admin) handleDeleteConnection(ctx *fasthttp.RequestCtx) {
	user, aerr := requireUser(ctx)
	if aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	if !user.HasAdminAccess() {
		apierr.WriteError(ctx, apierr.AccessDenied("application admin rights required"))
		return
	}
	id, aerr := pathID(ctx)
	if aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	a.deleteEntity(ctx, id, a.store.DeleteConnection)
}

// --- connection-deployment links ---

type createConnectionDeploymentPayload struct {
	ConnectionID uuid.UUID `json:"connection_id"`
	DeploymentID uuid.UUID `json:"deployment_id"`
	Weight       int16     `json:"weight"`
}

func (a *Admin) handleCreateConnectionDeployment(ctx *fasthttp.RequestCtx) {
	user, aerr := requireUser(ctx)
	if aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	if !user.HasAdminAccess() {
		apierr.WriteError(ctx, apierr.AccessDenied("application admin rights required"))
		return
	}
	var payload createConnectionDeploymentPayload
	if aerr := decodeBody(ctx, &payload); aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	link, err := a.store.CreateConnectionDeployment(ctx, payload.ConnectionID, payload.DeploymentID, payload.Weight)
	if err != nil {
		apierr.WriteError(ctx, storeError(err))
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, link)
}

func (a *Admin) handleGetConnectionDeployment(ctx *fasthttp.RequestCtx) {
	user, aerr := requireUser(ctx)
	if aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	if !user.HasAdminAccess() {
		apierr.WriteError(ctx, apierr.AccessDenied("application admin rights required"))
		return
	}
	id, aerr := pathID(ctx)
	if aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	link, err := a.store.GetConnectionDeployment(ctx, id)
	if err != nil {
		apierr.WriteError(ctx, storeError(err))
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, link)
}

func (a *Admin) handleSearchConnectionDeployments(ctx *fasthttp.RequestCtx) {
	user, aerr := requireUser(ctx)
	if aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	if !user.HasAdminAccess() {
		apierr.WriteError(ctx, apierr.AccessDenied("application admin rights required"))
		return
	}
	connectionID, aerr := queryID(ctx, "connection_id")
	if aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	deploymentID, aerr := queryID(ctx, "deployment_id")
	if aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	links, err := a.store.SearchConnectionDeployments(ctx, connectionID, deploymentID)
	if err != nil {
		apierr.WriteError(ctx, storeError(err))
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, listResult[*store.ConnectionDeployment]{Items: links, Total: len(links)})
}

func (a *Admin) handleDeleteConnectionDeployment(ctx *fasthttp.RequestCtx) {
	user, aerr := requireUser(ctx)
	if aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	if !user.HasAdminAccess() {
		apierr.WriteError(ctx, apierr.AccessDenied("application admin rights required"))
		return
	}
	id, aerr := pathID(ctx)
	if aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	a.deleteEntity(ctx, id, a.store.DeleteConnectionDeployment)
}

// queryID parses an optional uuid query parameter.
func queryID(ctx *fasthttp.RequestCtx, name string) (*uuid.UUID, *apierr.Error) {
	raw := string(ctx.QueryArgs().Peek(name))
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, apierr.BadRequest("invalid " + name + " query parameter")
	}
	return &id, nil
}

// --- virtual keys ---

type createVirtualKeyPayload struct {
	ProjectID   uuid.UUID `json:"project_id"`
	Alias       string    `json:"alias"`
	Description string    `json:"description"`
	Blocked     bool      `json:"blocked"`

	BudgetLimits  store.BudgetLimits  `json:"budget_limits"`
	RequestLimits store.RequestLimits `json:"request_limits"`
	TokenLimits   store.TokenLimits   `json:"token_limits"`
}

func (a *Admin) handleCreateVirtualKey(ctx *fasthttp.RequestCtx) {
	user, aerr := requireUser(ctx)
	if aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	var payload createVirtualKeyPayload
	if aerr := decodeBody(ctx, &payload); aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	ok, cerr := user.HasProjectAdminAccess(ctx, a.store, payload.ProjectID)
	if aerr := accessCheck(ok, cerr); aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	key, err := a.store.CreateVirtualKey(ctx, store.CreateVirtualKeyParams{
		ProjectID:     payload.ProjectID,
		Alias:         payload.Alias,
		Description:   payload.Description,
		Blocked:       payload.Blocked,
		BudgetLimits:  payload.BudgetLimits,
		RequestLimits: payload.RequestLimits,
		TokenLimits:   payload.TokenLimits,
	})
	if err != nil {
		apierr.WriteError(ctx, storeError(err))
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, key)
}

func (a *Admin) handleGetVirtualKey(ctx *fasthttp.RequestCtx) {
	user, aerr := requireUser(ctx)
	if aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	id, aerr := pathID(ctx)
	if aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	key, err := a.store.GetVirtualKey(ctx, id)
	if err != nil {
		apierr.WriteError(ctx, storeError(err))
		return
	}
	ok, cerr := user.HasProjectDeveloperAccess(ctx, a.store, key.ProjectID)
	if aerr := accessCheck(ok, cerr); aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, struct {
		*store.VirtualKey
		Usage usage.Stats `json:"usage,omitempty"`
	}{key, a.usageStats(ctx, usage.ResourceVirtualKey, key.ID)})
}

func (a *Admin) handleDeleteVirtualKey(ctx *fasthttp.RequestCtx) {
	user, aerr := requireUser(ctx)
	if aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	id, aerr := pathID(ctx)
	if aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	key, err := a.store.GetVirtualKey(ctx, id)
	if err != nil {
		apierr.WriteError(ctx, storeError(err))
		return
	}
	ok, cerr := user.HasProjectAdminAccess(ctx, a.store, key.ProjectID)
	if aerr := accessCheck(ok, cerr); aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	a.deleteEntity(ctx, id, a.store.DeleteVirtualKey)
}

// --- virtual-key-deployment links ---

type createVirtualKeyDeploymentPayload struct {
	VirtualKeyID uuid.UUID `json:"virtual_key_id"`
	DeploymentID uuid.UUID `json:"deployment_id"`
}

func (a *Admin) handleCreateVirtualKeyDeployment(ctx *fasthttp.RequestCtx) {
	user, aerr := requireUser(ctx)
	if aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	if !user.HasAdminAccess() {
		apierr.WriteError(ctx, apierr.AccessDenied("application admin rights required"))
		return
	}
	var payload createVirtualKeyDeploymentPayload
	if aerr := decodeBody(ctx, &payload); aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	link, err := a.store.CreateVirtualKeyDeployment(ctx, payload.VirtualKeyID, payload.DeploymentID)
	if err != nil {
		apierr.WriteError(ctx, storeError(err))
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, link)
}

func (a *Admin) handleGetVirtualKeyDeployment(ctx *fasthttp.RequestCtx) {
	user, aerr := requireUser(ctx)
	if aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	if !user.HasAdminAccess() {
		apierr.WriteError(ctx, apierr.AccessDenied("application admin rights required"))
		return
	}
	id, aerr := pathID(ctx)
	if aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	link, err := a.store.GetVirtualKeyDeployment(ctx, id)
	if err != nil {
		apierr.WriteError(ctx, storeError(err))
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, link)
}

func (a *Admin) handleSearchVirtualKeyDeployments(ctx *fasthttp.RequestCtx) {
	user, aerr := requireUser(ctx)
	if aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	if !user.HasAdminAccess() {
		apierr.WriteError(ctx, apierr.AccessDenied("application admin rights required"))
		return
	}
	virtualKeyID, aerr := queryID(ctx, "virtual_key_id")
	if aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	deploymentID, aerr := queryID(ctx, "deployment_id")
	if aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	links, err := a.store.SearchVirtualKeyDeployments(ctx, virtualKeyID, deploymentID)
	if err != nil {
		apierr.WriteError(ctx, storeError(err))
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, listResult[*store.VirtualKeyDeployment]{Items: links, Total: len(links)})
}

func (a *Admin) handleDeleteVirtualKeyDeployment(ctx *fasthttp.RequestCtx) {
	user, aerr := requireUser(ctx)
	if aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	if !user.HasAdminAccess() {
		apierr.WriteError(ctx, apierr.AccessDenied("application admin rights required"))
		return
	}
	id, aerr := pathID(ctx)
	if aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	a.deleteEntity(ctx, id, a.store.DeleteVirtualKeyDeployment)
}

// --- resolution debug ---

type graphCandidate struct {
	Connection *store.Connection `json:"connection"`
	Weight     int16             `json:"weight"`
}

type graphResult struct {
	VirtualKey *store.VirtualKey `json:"virtual_key"`
	Project    *store.Project    `json:"project"`
	Deployment *store.Deployment `json:"deployment"`
	Candidates []graphCandidate  `json:"candidates"`
}

// handleGraph resolves a raw virtual key against a deployment name and
// dumps the access path. The response exposes decrypted provider keys, so
// only the master key may call it.
func (a *Admin) handleGraph(ctx *fasthttp.RequestCtx) {
	if _, aerr := requireMaster(ctx); aerr != nil {
		apierr.WriteError(ctx, aerr)
		return
	}
	key, _ := ctx.UserValue("key").(string)
	deployment, _ := ctx.UserValue("deployment").(string)
	resolved, err := a.resolver.Resolve(ctx, key, deployment, false)
	if err != nil {
		apierr.WriteError(ctx, err)
		return
	}
	result := graphResult{
		VirtualKey: resolved.VirtualKey,
		Project:    resolved.Project,
		Deployment: resolved.Deployment,
		Candidates: make([]graphCandidate, 0, len(resolved.Candidates)),
	}
	for _, c := range resolved.Candidates {
		result.Candidates = append(result.Candidates, graphCandidate{Connection: c.Connection, Weight: c.Weight})
	}
	writeJSON(ctx, fasthttp.StatusOK, result)
}

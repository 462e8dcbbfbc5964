package proxy

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/llmur/internal/store"
	"github.com/nulpointcorp/llmur/pkg/apierr"
)

// Admin credential headers. The key header always wins when both are set.
const (
	HeaderMasterKey    = "X-LLMur-Key"
	HeaderSessionToken = "X-LLMur-Session"
)

// Names under which the auth middlewares stash their result on the request.
const (
	virtualKeyValue  = "llmur.virtual_key"
	userContextValue = "llmur.user_context"
)

// AuthStore is the slice of the data facade credential resolution reads.
type AuthStore interface {
	SessionTokenID(token string) uuid.UUID
	GetSessionToken(ctx context.Context, id uuid.UUID) (*store.SessionToken, error)
	GetUser(ctx context.Context, id uuid.UUID) (*store.User, error)
}

// UserContext is the resolved principal of an admin request: either the
// master key or a web app user with a live session.
type UserContext struct {
	Master  bool
	User    *store.User
	Session *store.SessionToken
}

// HasAdminAccess reports whether the principal holds application-wide
// admin rights.
func (u *UserContext) HasAdminAccess() bool {
	if u == nil {
		return false
	}
	return u.Master || (u.User != nil && u.User.Role == store.RoleAdmin)
}

// MembershipSource hands out membership records for project-level checks.
type MembershipSource interface {
	GetMemberships(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*store.Membership, error)
}

// HasProjectAdminAccess reports whether the principal administers the project.
func (u *UserContext) HasProjectAdminAccess(ctx context.Context, src MembershipSource, projectID uuid.UUID) (bool, error) {
	return u.hasProjectRole(ctx, src, projectID, store.ProjectRoleAdmin)
}

// HasProjectDeveloperAccess reports whether the principal may use the
// project's resources.
func (u *UserContext) HasProjectDeveloperAccess(ctx context.Context, src MembershipSource, projectID uuid.UUID) (bool, error) {
	return u.hasProjectRole(ctx, src, projectID, store.ProjectRoleAdmin, store.ProjectRoleDeveloper)
}

// HasProjectMemberAccess reports whether the principal belongs to the
// project at all.
func (u *UserContext) HasProjectMemberAccess(ctx context.Context, src MembershipSource, projectID uuid.UUID) (bool, error) {
	return u.hasProjectRole(ctx, src, projectID,
		store.ProjectRoleAdmin, store.ProjectRoleDeveloper, store.ProjectRoleGuest)
}

func (u *UserContext) hasProjectRole(ctx context.Context, src MembershipSource, projectID uuid.UUID, roles ...store.ProjectRole) (bool, error) {
	if u.HasAdminAccess() {
		return true, nil
	}
	if u == nil || u.User == nil || len(u.User.Memberships) == 0 {
		return false, nil
	}
	memberships, err := src.GetMemberships(ctx, u.User.Memberships)
	if err != nil {
		return false, err
	}
	for _, m := range memberships {
		if m == nil || m.ProjectID != projectID {
			continue
		}
		for _, role := range roles {
			if m.Role == role {
				return true, nil
			}
		}
	}
	return false, nil
}

// Authenticator turns admin credential headers into a UserContext.
type Authenticator struct {
	store      AuthStore
	masterKeys []string
	now        func() time.Time
}

func NewAuthenticator(st AuthStore, masterKeys []string) *Authenticator {
	return &Authenticator{store: st, masterKeys: masterKeys, now: time.Now}
}

// Authenticate resolves the two admin headers. A present master key header
// decides the outcome on its own; the session header is only consulted when
// no key header was sent.
func (a *Authenticator) Authenticate(ctx context.Context, masterKey, sessionToken string) (*UserContext, *apierr.Error) {
	if masterKey != "" {
		for _, known := range a.masterKeys {
			if subtle.ConstantTimeCompare([]byte(known), []byte(masterKey)) == 1 {
				return &UserContext{Master: true}, nil
			}
		}
		return nil, apierr.InvalidCredentials()
	}

	if sessionToken != "" {
		token, err := a.store.GetSessionToken(ctx, a.store.SessionTokenID(sessionToken))
		if errors.Is(err, store.ErrNotFound) {
			return nil, apierr.InvalidCredentials()
		}
		if err != nil {
			return nil, apierr.Internal("resolving session token").WithCause(err)
		}
		if !token.Valid(a.now()) {
			return nil, apierr.InvalidCredentials()
		}
		user, err := a.store.GetUser(ctx, token.UserID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, apierr.InvalidCredentials()
		}
		if err != nil {
			return nil, apierr.Internal("resolving session user").WithCause(err)
		}
		if user.Blocked {
			return nil, apierr.AccessDenied("user is blocked")
		}
		return &UserContext{User: user, Session: token}, nil
	}

	return nil, apierr.Unauthenticated("missing " + HeaderMasterKey + " or " + HeaderSessionToken + " header")
}

// bearerCredential extracts the virtual key from an Authorization header.
// The header must hold exactly "Bearer" followed by a single token.
func bearerCredential(header []byte) (string, *apierr.Error) {
	if len(header) == 0 {
		return "", apierr.Unauthenticated("missing Authorization header")
	}
	fields := strings.Fields(string(header))
	if len(fields) != 2 || fields[0] != "Bearer" {
		return "", apierr.Unauthenticated("malformed Authorization header, expected Bearer credentials")
	}
	return fields[1], nil
}

// credential reports the virtual key the auth middleware extracted for
// this request.
func credential(ctx *fasthttp.RequestCtx) (string, *apierr.Error) {
	switch v := ctx.UserValue(virtualKeyValue).(type) {
	case string:
		return v, nil
	case *apierr.Error:
		return "", v
	}
	return "", apierr.Unauthenticated("missing Authorization header")
}

type userContextResult struct {
	user *UserContext
	err  *apierr.Error
}

// requireUser reports the admin principal the auth middleware resolved, or
// the error that prevented resolution.
func requireUser(ctx *fasthttp.RequestCtx) (*UserContext, *apierr.Error) {
	res, ok := ctx.UserValue(userContextValue).(userContextResult)
	if !ok {
		return nil, apierr.Unauthenticated("missing " + HeaderMasterKey + " or " + HeaderSessionToken + " header")
	}
	if res.err != nil {
		return nil, res.err
	}
	return res.user, nil
}

// requireMaster is requireUser restricted to the master key.
func requireMaster(ctx *fasthttp.RequestCtx) (*UserContext, *apierr.Error) {
	user, aerr := requireUser(ctx)
	if aerr != nil {
		return nil, aerr
	}
	if !user.Master {
		return nil, apierr.AccessDenied("master key required")
	}
	return user, nil
}

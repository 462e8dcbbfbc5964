package proxy

import (
	"context"
	"testing"
	"time"

	"github.com/nulpointcorp/llmur/internal/store"
	"github.com/nulpointcorp/llmur/pkg/apierr"
)

func TestBearerCredential(t *testing.T) {
	cases := []struct {
		name   string
		header string
		key    string
		ok     bool
	}{
		{"valid", "Bearer sk-test", "sk-test", true},
		{"extra whitespace", "Bearer   sk-test", "sk-test", true},
		{"missing", "", "", false},
		{"scheme only", "Bearer", "", false},
		{"lowercase scheme", "bearer sk-test", "", false},
		{"wrong scheme", "Basic sk-test", "", false},
		{"trailing token", "Bearer sk-test extra", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			key, aerr := bearerCredential([]byte(tc.header))
			if tc.ok {
				if aerr != nil {
					t.Fatalf("unexpected error: %v", aerr)
				}
				if key != tc.key {
					t.Errorf("key = %q, want %q", key, tc.key)
				}
				return
			}
			if aerr == nil {
				t.Fatalf("expected rejection, got key %q", key)
			}
			if aerr.Kind != apierr.KindUnauthenticated {
				t.Errorf("kind = %q", aerr.Kind)
			}
		})
	}
}

func TestAuthenticator_MasterKey(t *testing.T) {
	st := newFakeAdminStore()
	auth := NewAuthenticator(st, []string{"key-one", "key-two"})

	user, aerr := auth.Authenticate(context.Background(), "key-two", "")
	if aerr != nil {
		t.Fatalf("unexpected error: %v", aerr)
	}
	if !user.Master || user.User != nil {
		t.Errorf("principal = %+v", user)
	}

	if _, aerr = auth.Authenticate(context.Background(), "key-three", ""); aerr == nil {
		t.Fatal("unknown master key accepted")
	} else if aerr.Kind != apierr.KindInvalidCredentials {
		t.Errorf("kind = %q", aerr.Kind)
	}
}

func TestAuthenticator_MasterKeyShadowsSession(t *testing.T) {
	st := newFakeAdminStore()
	u := st.seedUser("ada@example.com", "pw", store.RoleMember)
	st.seedSession(u, "tok", time.Now().Add(time.Hour))
	auth := NewAuthenticator(st, []string{"master"})

	// A wrong key header fails outright even when the session is valid.
	_, aerr := auth.Authenticate(context.Background(), "wrong", "tok")
	if aerr == nil || aerr.Kind != apierr.KindInvalidCredentials {
		t.Fatalf("error = %v", aerr)
	}
}

func TestAuthenticator_Session(t *testing.T) {
	st := newFakeAdminStore()
	user := st.seedUser("ada@example.com", "pw", store.RoleMember)
	st.seedSession(user, "live", time.Now().Add(time.Hour))
	st.seedSession(user, "expired", time.Now().Add(-time.Minute))
	revoked := st.seedSession(user, "revoked", time.Now().Add(time.Hour))
	revoked.Revoked = true

	blocked := st.seedUser("eve@example.com", "pw", store.RoleMember)
	blocked.Blocked = true
	st.seedSession(blocked, "blocked-tok", time.Now().Add(time.Hour))

	auth := NewAuthenticator(st, nil)

	t.Run("live", func(t *testing.T) {
		principal, aerr := auth.Authenticate(context.Background(), "", "live")
		if aerr != nil {
			t.Fatalf("unexpected error: %v", aerr)
		}
		if principal.Master || principal.User == nil || principal.User.ID != user.ID {
			t.Errorf("principal = %+v", principal)
		}
		if principal.Session == nil {
			t.Error("session record missing from principal")
		}
	})

	t.Run("unknown token", func(t *testing.T) {
		_, aerr := auth.Authenticate(context.Background(), "", "ghost")
		if aerr == nil || aerr.Kind != apierr.KindInvalidCredentials {
			t.Errorf("error = %v", aerr)
		}
	})

	t.Run("expired token", func(t *testing.T) {
		_, aerr := auth.Authenticate(context.Background(), "", "expired")
		if aerr == nil || aerr.Kind != apierr.KindInvalidCredentials {
			t.Errorf("error = %v", aerr)
		}
	})

	t.Run("revoked token", func(t *testing.T) {
		_, aerr := auth.Authenticate(context.Background(), "", "revoked")
		if aerr == nil || aerr.Kind != apierr.KindInvalidCredentials {
			t.Errorf("error = %v", aerr)
		}
	})

	t.Run("blocked user", func(t *testing.T) {
		_, aerr := auth.Authenticate(context.Background(), "", "blocked-tok")
		if aerr == nil || aerr.Kind != apierr.KindAccessDenied {
			t.Errorf("error = %v", aerr)
		}
	})

	t.Run("no credentials", func(t *testing.T) {
		_, aerr := auth.Authenticate(context.Background(), "", "")
		if aerr == nil || aerr.Kind != apierr.KindUnauthenticated {
			t.Errorf("error = %v", aerr)
		}
	})
}

func TestUserContext_AdminAccess(t *testing.T) {
	var nilCtx *UserContext
	if nilCtx.HasAdminAccess() {
		t.Error("nil principal must not have admin access")
	}
	if !(&UserContext{Master: true}).HasAdminAccess() {
		t.Error("master key must have admin access")
	}
	if !(&UserContext{User: &store.User{Role: store.RoleAdmin}}).HasAdminAccess() {
		t.Error("application admins must have admin access")
	}
	if (&UserContext{User: &store.User{Role: store.RoleMember}}).HasAdminAccess() {
		t.Error("plain members must not have admin access")
	}
}

func TestUserContext_ProjectRoles(t *testing.T) {
	st := newFakeAdminStore()
	project := st.seedProject("research")
	other := st.seedProject("ops")

	guest := st.seedUser("guest@example.com", "pw", store.RoleMember)
	dev := st.seedUser("dev@example.com", "pw", store.RoleMember)
	padmin := st.seedUser("lead@example.com", "pw", store.RoleMember)
	st.seedMembership(guest, project.ID, store.ProjectRoleGuest)
	st.seedMembership(dev, project.ID, store.ProjectRoleDeveloper)
	st.seedMembership(padmin, project.ID, store.ProjectRoleAdmin)

	ctx := context.Background()

	check := func(t *testing.T, got bool, err error, want bool) {
		t.Helper()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != want {
			t.Errorf("access = %v, want %v", got, want)
		}
	}

	t.Run("guest", func(t *testing.T) {
		u := &UserContext{User: guest}
		got, err := u.HasProjectMemberAccess(ctx, st, project.ID)
		check(t, got, err, true)
		got, err = u.HasProjectDeveloperAccess(ctx, st, project.ID)
		check(t, got, err, false)
		got, err = u.HasProjectAdminAccess(ctx, st, project.ID)
		check(t, got, err, false)
	})

	t.Run("developer", func(t *testing.T) {
		u := &UserContext{User: dev}
		got, err := u.HasProjectDeveloperAccess(ctx, st, project.ID)
		check(t, got, err, true)
		got, err = u.HasProjectAdminAccess(ctx, st, project.ID)
		check(t, got, err, false)
	})

	t.Run("project admin", func(t *testing.T) {
		u := &UserContext{User: padmin}
		got, err := u.HasProjectAdminAccess(ctx, st, project.ID)
		check(t, got, err, true)
	})

	t.Run("membership does not leak across projects", func(t *testing.T) {
		u := &UserContext{User: padmin}
		got, err := u.HasProjectMemberAccess(ctx, st, other.ID)
		check(t, got, err, false)
	})

	t.Run("master bypasses membership", func(t *testing.T) {
		u := &UserContext{Master: true}
		got, err := u.HasProjectAdminAccess(ctx, st, other.ID)
		check(t, got, err, true)
	})

	t.Run("application admin bypasses membership", func(t *testing.T) {
		u := &UserContext{User: st.seedUser("root@example.com", "pw", store.RoleAdmin)}
		got, err := u.HasProjectAdminAccess(ctx, st, other.ID)
		check(t, got, err, true)
	})
}

package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// PostgresConfig holds the relational store settings.
type PostgresConfig struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
	SSLMode  string

	// MaxConnections bounds the pool; MinConnections is kept idle.
	MaxConnections int
	MinConnections int
}

func (c PostgresConfig) withDefaults() PostgresConfig {
	if c.Port == 0 {
		c.Port = 5432
	}
	if c.SSLMode == "" {
		c.SSLMode = "disable"
	}
	if c.MaxConnections == 0 {
		c.MaxConnections = 25
	}
	if c.MinConnections == 0 {
		c.MinConnections = 5
	}
	return c
}

func (c PostgresConfig) dsn() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.Host, c.Port, c.Database, c.Username, c.Password, c.SSLMode)
}

const (
	defaultQueryTimeout = 5 * time.Second
	dbRetryAttempts     = 3
	dbRetryBackoff      = 50 * time.Millisecond
)

// Postgres is the relational tier. Every operation carries a bounded
// timeout, and transient failures are retried here so callers above the
// facade never see them.
type Postgres struct {
	db      *sql.DB
	logger  *slog.Logger
	observe func(op string, elapsed time.Duration, success bool)
}

// NewPostgres opens the connection pool and verifies it with a ping.
func NewPostgres(cfg PostgresConfig, logger *slog.Logger) (*Postgres, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	db, err := sql.Open("postgres", cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MinConnections)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), defaultQueryTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: connect database: %w", err)
	}

	logger.Info("database_connected",
		slog.String("host", cfg.Host),
		slog.String("database", cfg.Database),
	)

	return &Postgres{db: db, logger: logger}, nil
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

// Ping probes the database, for health checks.
func (p *Postgres) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()
	return p.db.PingContext(ctx)
}

// Stats exposes the pool counters, for health checks.
func (p *Postgres) Stats() sql.DBStats {
	return p.db.Stats()
}

// SetQueryObserver installs a callback fired once per logical operation
// with the total elapsed time, retries included. Install before serving.
func (p *Postgres) SetQueryObserver(fn func(op string, elapsed time.Duration, success bool)) {
	p.observe = fn
}

// withRetry runs fn under a per-attempt timeout, retrying transient
// failures with linear backoff. Non-transient errors, including not-found,
// return immediately.
func (p *Postgres) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	start := time.Now()
	err := p.retryLoop(ctx, op, fn)
	if p.observe != nil {
		// A miss is still a working database.
		p.observe(op, time.Since(start), err == nil || errors.Is(err, ErrNotFound))
	}
	return err
}

func (p *Postgres) retryLoop(ctx context.Context, op string, fn func(context.Context) error) error {
	var err error
	for attempt := 1; attempt <= dbRetryAttempts; attempt++ {
		qctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
		err = fn(qctx)
		cancel()

		if err == nil || !isTransient(err) {
			return err
		}
		if attempt == dbRetryAttempts {
			break
		}

		p.logger.Warn("database_retry",
			slog.String("op", op),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		select {
		case <-time.After(time.Duration(attempt) * dbRetryBackoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// isTransient classifies errors worth a retry: dropped connections,
// serialization failures, deadlocks, and resource exhaustion.
func isTransient(err error) bool {
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code.Class() == "08": // connection exception
			return true
		case pqErr.Code == "40001", pqErr.Code == "40P01": // serialization failure, deadlock
			return true
		case pqErr.Code.Class() == "53": // insufficient resources
			return true
		case pqErr.Code == "57P01": // admin shutdown
			return true
		}
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// mapWriteError folds constraint violations into ErrInvalidRecord so admin
// handlers can answer 400 instead of 500.
func mapWriteError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23503": // foreign key violation
			return fmt.Errorf("%w: %s", ErrInvalidRecord, pqErr.Detail)
		case "23505": // unique violation
			return fmt.Errorf("%w: already exists: %s", ErrInvalidRecord, pqErr.Detail)
		}
	}
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func parseUUIDArray(raw pq.StringArray) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, len(raw))
	for i, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("%w: element %q is not a uuid", ErrInvalidRecord, s)
		}
		out[i] = id
	}
	return out, nil
}

func marshalLimits(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}

func unmarshalLimits(raw []byte, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: limits column: %v", ErrInvalidRecord, err)
	}
	return nil
}

// --- users ---

const userSelect = `
	SELECT u.id, u.email, u.name, u.salt, u.hashed_password, u.email_verified, u.blocked, u.role,
	       COALESCE(array_agg(DISTINCT m.id::text) FILTER (WHERE m.id IS NOT NULL), '{}') AS memberships
	FROM users u
	LEFT JOIN memberships m ON m.user_id = u.id`

func scanUser(row rowScanner) (*User, error) {
	var (
		u   User
		raw pq.StringArray
	)
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Salt, &u.HashedPassword,
		&u.EmailVerified, &u.Blocked, &u.Role, &raw); err != nil {
		return nil, err
	}
	ids, err := parseUUIDArray(raw)
	if err != nil {
		return nil, err
	}
	u.Memberships = ids
	return &u, nil
}

func (p *Postgres) getUser(ctx context.Context, id uuid.UUID) (*User, error) {
	var u *User
	err := p.withRetry(ctx, "get_user", func(ctx context.Context) error {
		row := p.db.QueryRowContext(ctx, userSelect+" WHERE u.id = $1 GROUP BY u.id", id)
		var err error
		u, err = scanUser(row)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: user %s", ErrNotFound, id)
		}
		return err
	})
	return u, err
}

func (p *Postgres) getUserByEmail(ctx context.Context, email string) (*User, error) {
	var u *User
	err := p.withRetry(ctx, "get_user_by_email", func(ctx context.Context) error {
		row := p.db.QueryRowContext(ctx, userSelect+" WHERE u.email = $1 GROUP BY u.id", email)
		var err error
		u, err = scanUser(row)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: user with email %q", ErrNotFound, email)
		}
		return err
	})
	return u, err
}

func (p *Postgres) createUser(ctx context.Context, u *User) error {
	return p.withRetry(ctx, "create_user", func(ctx context.Context) error {
		_, err := p.db.ExecContext(ctx, `
			INSERT INTO users (id, email, name, salt, hashed_password, email_verified, blocked, role)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			u.ID, u.Email, u.Name, u.Salt, u.HashedPassword, u.EmailVerified, u.Blocked, string(u.Role))
		return mapWriteError(err)
	})
}

func (p *Postgres) deleteUser(ctx context.Context, id uuid.UUID) (int64, error) {
	return p.deleteByID(ctx, "delete_user", "users", id)
}

// deleteByID removes one row and reports how many rows went away.
func (p *Postgres) deleteByID(ctx context.Context, op, table string, id uuid.UUID) (int64, error) {
	var n int64
	err := p.withRetry(ctx, op, func(ctx context.Context) error {
		res, err := p.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = $1`, id)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

// --- projects ---

func scanProject(row rowScanner) (*Project, error) {
	var (
		pr    Project
		owner uuid.NullUUID
	)
	if err := row.Scan(&pr.ID, &pr.Name, &owner); err != nil {
		return nil, err
	}
	if owner.Valid {
		pr.Owner = &owner.UUID
	}
	return &pr, nil
}

func (p *Postgres) getProject(ctx context.Context, id uuid.UUID) (*Project, error) {
	var pr *Project
	err := p.withRetry(ctx, "get_project", func(ctx context.Context) error {
		row := p.db.QueryRowContext(ctx, `SELECT id, name, owner FROM projects WHERE id = $1`, id)
		var err error
		pr, err = scanProject(row)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: project %s", ErrNotFound, id)
		}
		return err
	})
	return pr, err
}

func (p *Postgres) getProjects(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*Project, error) {
	out := make(map[uuid.UUID]*Project, len(ids))
	err := p.withRetry(ctx, "get_projects", func(ctx context.Context) error {
		rows, err := p.db.QueryContext(ctx,
			`SELECT id, name, owner FROM projects WHERE id = ANY($1::uuid[])`,
			pq.Array(uuidStrings(ids)))
		if err != nil {
			return err
		}
		defer rows.Close()
		clear(out)
		for rows.Next() {
			pr, err := scanProject(rows)
			if err != nil {
				return err
			}
			out[pr.ID] = pr
		}
		return rows.Err()
	})
	return out, err
}

func (p *Postgres) createProject(ctx context.Context, pr *Project) error {
	return p.withRetry(ctx, "create_project", func(ctx context.Context) error {
		owner := uuid.NullUUID{}
		if pr.Owner != nil {
			owner = uuid.NullUUID{UUID: *pr.Owner, Valid: true}
		}
		_, err := p.db.ExecContext(ctx,
			`INSERT INTO projects (id, name, owner) VALUES ($1, $2, $3)`,
			pr.ID, pr.Name, owner)
		return mapWriteError(err)
	})
}

func (p *Postgres) deleteProject(ctx context.Context, id uuid.UUID) (int64, error) {
	return p.deleteByID(ctx, "delete_project", "projects", id)
}

// --- memberships ---

func scanMembership(row rowScanner) (*Membership, error) {
	var m Membership
	if err := row.Scan(&m.ID, &m.ProjectID, &m.UserID, &m.Role); err != nil {
		return nil, err
	}
	return &m, nil
}

func (p *Postgres) getMembership(ctx context.Context, id uuid.UUID) (*Membership, error) {
	var m *Membership
	err := p.withRetry(ctx, "get_membership", func(ctx context.Context) error {
		row := p.db.QueryRowContext(ctx,
			`SELECT id, project_id, user_id, role FROM memberships WHERE id = $1`, id)
		var err error
		m, err = scanMembership(row)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: membership %s", ErrNotFound, id)
		}
		return err
	})
	return m, err
}

func (p *Postgres) getMemberships(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*Membership, error) {
	out := make(map[uuid.UUID]*Membership, len(ids))
	err := p.withRetry(ctx, "get_memberships", func(ctx context.Context) error {
		rows, err := p.db.QueryContext(ctx,
			`SELECT id, project_id, user_id, role FROM memberships WHERE id = ANY($1::uuid[])`,
			pq.Array(uuidStrings(ids)))
		if err != nil {
			return err
		}
		defer rows.Close()
		clear(out)
		for rows.Next() {
			m, err := scanMembership(rows)
			if err != nil {
				return err
			}
			out[m.ID] = m
		}
		return rows.Err()
	})
	return out, err
}

func (p *Postgres) createMembership(ctx context.Context, m *Membership) error {
	return p.withRetry(ctx, "create_membership", func(ctx context.Context) error {
		_, err := p.db.ExecContext(ctx,
			`INSERT INTO memberships (id, project_id, user_id, role) VALUES ($1, $2, $3, $4)`,
			m.ID, m.ProjectID, m.UserID, string(m.Role))
		return mapWriteError(err)
	})
}

// deleteMembership reports the owning user so its cached membership list can
// be invalidated.
func (p *Postgres) deleteMembership(ctx context.Context, id uuid.UUID) (uuid.UUID, int64, error) {
	var userID uuid.UUID
	var n int64
	err := p.withRetry(ctx, "delete_membership", func(ctx context.Context) error {
		err := p.db.QueryRowContext(ctx,
			`DELETE FROM memberships WHERE id = $1 RETURNING user_id`, id).Scan(&userID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err == nil {
			n = 1
		}
		return err
	})
	return userID, n, err
}

// --- project invite codes ---

func scanInviteCode(row rowScanner) (*ProjectInviteCode, error) {
	var (
		c     ProjectInviteCode
		until sql.NullTime
	)
	if err := row.Scan(&c.ID, &c.ProjectID, &c.Code, &c.AssignRole, &until); err != nil {
		return nil, err
	}
	if until.Valid {
		t := until.Time
		c.ValidUntil = &t
	}
	return &c, nil
}

func (p *Postgres) getInviteCode(ctx context.Context, id uuid.UUID) (*ProjectInviteCode, error) {
	var c *ProjectInviteCode
	err := p.withRetry(ctx, "get_project_invite_code", func(ctx context.Context) error {
		row := p.db.QueryRowContext(ctx,
			`SELECT id, project_id, code, assign_role, valid_until FROM project_invite_codes WHERE id = $1`, id)
		var err error
		c, err = scanInviteCode(row)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: project invite code %s", ErrNotFound, id)
		}
		return err
	})
	return c, err
}

func (p *Postgres) createInviteCode(ctx context.Context, c *ProjectInviteCode) error {
	return p.withRetry(ctx, "create_project_invite_code", func(ctx context.Context) error {
		until := sql.NullTime{}
		if c.ValidUntil != nil {
			until = sql.NullTime{Time: *c.ValidUntil, Valid: true}
		}
		_, err := p.db.ExecContext(ctx,
			`INSERT INTO project_invite_codes (id, project_id, code, assign_role, valid_until)
			 VALUES ($1, $2, $3, $4, $5)`,
			c.ID, c.ProjectID, c.Code, string(c.AssignRole), until)
		return mapWriteError(err)
	})
}

func (p *Postgres) deleteInviteCode(ctx context.Context, id uuid.UUID) (int64, error) {
	return p.deleteByID(ctx, "delete_project_invite_code", "project_invite_codes", id)
}

// --- session tokens ---

func scanSessionToken(row rowScanner) (*SessionToken, error) {
	var t SessionToken
	if err := row.Scan(&t.ID, &t.UserID, &t.ExpiresAt, &t.Revoked, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func (p *Postgres) getSessionToken(ctx context.Context, id uuid.UUID) (*SessionToken, error) {
	var t *SessionToken
	err := p.withRetry(ctx, "get_session_token", func(ctx context.Context) error {
		row := p.db.QueryRowContext(ctx,
			`SELECT id, user_id, expires_at, revoked, created_at, updated_at FROM session_tokens WHERE id = $1`, id)
		var err error
		t, err = scanSessionToken(row)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: session token %s", ErrNotFound, id)
		}
		return err
	})
	return t, err
}

func (p *Postgres) createSessionToken(ctx context.Context, t *SessionToken) error {
	return p.withRetry(ctx, "create_session_token", func(ctx context.Context) error {
		err := p.db.QueryRowContext(ctx,
			`INSERT INTO session_tokens (id, user_id, expires_at) VALUES ($1, $2, $3)
			 RETURNING created_at, updated_at`,
			t.ID, t.UserID, t.ExpiresAt).Scan(&t.CreatedAt, &t.UpdatedAt)
		return mapWriteError(err)
	})
}

func (p *Postgres) deleteSessionToken(ctx context.Context, id uuid.UUID) (int64, error) {
	return p.deleteByID(ctx, "delete_session_token", "session_tokens", id)
}

// --- deployments ---

const deploymentSelect = `
	SELECT d.id, d.name, d.access, d.strategy, d.budget_limits, d.request_limits, d.token_limits,
	       COALESCE(array_agg(DISTINCT dc.id::text) FILTER (WHERE dc.id IS NOT NULL), '{}') AS connections
	FROM deployments d
	LEFT JOIN deployments_connections_map dc ON dc.deployment_id = d.id`

func scanDeployment(row rowScanner) (*Deployment, error) {
	var (
		d                  Deployment
		budget, reqs, toks []byte
		raw                pq.StringArray
	)
	if err := row.Scan(&d.ID, &d.Name, &d.Access, &d.Strategy, &budget, &reqs, &toks, &raw); err != nil {
		return nil, err
	}
	if err := unmarshalLimits(budget, &d.BudgetLimits); err != nil {
		return nil, err
	}
	if err := unmarshalLimits(reqs, &d.RequestLimits); err != nil {
		return nil, err
	}
	if err := unmarshalLimits(toks, &d.TokenLimits); err != nil {
		return nil, err
	}
	ids, err := parseUUIDArray(raw)
	if err != nil {
		return nil, err
	}
	d.Connections = ids
	return &d, nil
}

func (p *Postgres) getDeployment(ctx context.Context, id uuid.UUID) (*Deployment, error) {
	var d *Deployment
	err := p.withRetry(ctx, "get_deployment", func(ctx context.Context) error {
		row := p.db.QueryRowContext(ctx, deploymentSelect+" WHERE d.id = $1 GROUP BY d.id", id)
		var err error
		d, err = scanDeployment(row)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: deployment %s", ErrNotFound, id)
		}
		return err
	})
	return d, err
}

func (p *Postgres) getDeployments(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*Deployment, error) {
	out := make(map[uuid.UUID]*Deployment, len(ids))
	err := p.withRetry(ctx, "get_deployments", func(ctx context.Context) error {
		rows, err := p.db.QueryContext(ctx, deploymentSelect+" WHERE d.id = ANY($1::uuid[]) GROUP BY d.id",
			pq.Array(uuidStrings(ids)))
		if err != nil {
			return err
		}
		defer rows.Close()
		clear(out)
		for rows.Next() {
			d, err := scanDeployment(rows)
			if err != nil {
				return err
			}
			out[d.ID] = d
		}
		return rows.Err()
	})
	return out, err
}

// searchDeployments lists deployments, optionally filtered by exact name.
func (p *Postgres) searchDeployments(ctx context.Context, name string) ([]*Deployment, error) {
	var out []*Deployment
	err := p.withRetry(ctx, "search_deployments", func(ctx context.Context) error {
		rows, err := p.db.QueryContext(ctx,
			deploymentSelect+" WHERE ($1 = '' OR d.name = $1) GROUP BY d.id ORDER BY d.name", name)
		if err != nil {
			return err
		}
		defer rows.Close()
		out = out[:0]
		for rows.Next() {
			d, err := scanDeployment(rows)
			if err != nil {
				return err
			}
			out = append(out, d)
		}
		return rows.Err()
	})
	return out, err
}

func (p *Postgres) createDeployment(ctx context.Context, d *Deployment) error {
	return p.withRetry(ctx, "create_deployment", func(ctx context.Context) error {
		_, err := p.db.ExecContext(ctx, `
			INSERT INTO deployments (id, name, access, strategy, budget_limits, request_limits, token_limits)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			d.ID, d.Name, string(d.Access), string(d.Strategy),
			marshalLimits(d.BudgetLimits), marshalLimits(d.RequestLimits), marshalLimits(d.TokenLimits))
		return mapWriteError(err)
	})
}

func (p *Postgres) deleteDeployment(ctx context.Context, id uuid.UUID) (int64, error) {
	return p.deleteByID(ctx, "delete_deployment", "deployments", id)
}

// --- connections ---

func scanConnection(row rowScanner) (*connectionRecord, error) {
	var (
		rec                connectionRecord
		info               []byte
		budget, reqs, toks []byte
	)
	if err := row.Scan(&rec.ID, &info, &budget, &reqs, &toks); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(info, &rec.Info); err != nil {
		return nil, fmt.Errorf("%w: connection_info column: %v", ErrInvalidRecord, err)
	}
	if err := unmarshalLimits(budget, &rec.BudgetLimits); err != nil {
		return nil, err
	}
	if err := unmarshalLimits(reqs, &rec.RequestLimits); err != nil {
		return nil, err
	}
	if err := unmarshalLimits(toks, &rec.TokenLimits); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (p *Postgres) getConnection(ctx context.Context, id uuid.UUID) (*connectionRecord, error) {
	var rec *connectionRecord
	err := p.withRetry(ctx, "get_connection", func(ctx context.Context) error {
		row := p.db.QueryRowContext(ctx,
			`SELECT id, connection_info, budget_limits, request_limits, token_limits FROM connections WHERE id = $1`, id)
		var err error
		rec, err = scanConnection(row)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: connection %s", ErrNotFound, id)
		}
		return err
	})
	return rec, err
}

func (p *Postgres) getConnections(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*connectionRecord, error) {
	out := make(map[uuid.UUID]*connectionRecord, len(ids))
	err := p.withRetry(ctx, "get_connections", func(ctx context.Context) error {
		rows, err := p.db.QueryContext(ctx,
			`SELECT id, connection_info, budget_limits, request_limits, token_limits
			 FROM connections WHERE id = ANY($1::uuid[])`,
			pq.Array(uuidStrings(ids)))
		if err != nil {
			return err
		}
		defer rows.Close()
		clear(out)
		for rows.Next() {
			rec, err := scanConnection(rows)
			if err != nil {
				return err
			}
			out[rec.ID] = rec
		}
		return rows.Err()
	})
	return out, err
}

func (p *Postgres) createConnection(ctx context.Context, rec *connectionRecord) error {
	info, err := json.Marshal(rec.Info)
	if err != nil {
		return fmt.Errorf("store: marshal connection info: %w", err)
	}
	return p.withRetry(ctx, "create_connection", func(ctx context.Context) error {
		_, err := p.db.ExecContext(ctx, `
			INSERT INTO connections (id, connection_info, budget_limits, request_limits, token_limits)
			VALUES ($1, $2, $3, $4, $5)`,
			rec.ID, info,
			marshalLimits(rec.BudgetLimits), marshalLimits(rec.RequestLimits), marshalLimits(rec.TokenLimits))
		return mapWriteError(err)
	})
}

func (p *Postgres) deleteConnection(ctx context.Context, id uuid.UUID) (int64, error) {
	return p.deleteByID(ctx, "delete_connection", "connections", id)
}

// --- connection deployments ---

func scanConnectionDeployment(row rowScanner) (*ConnectionDeployment, error) {
	var cd ConnectionDeployment
	if err := row.Scan(&cd.ID, &cd.ConnectionID, &cd.DeploymentID, &cd.Weight); err != nil {
		return nil, err
	}
	return &cd, nil
}

func (p *Postgres) getConnectionDeployment(ctx context.Context, id uuid.UUID) (*ConnectionDeployment, error) {
	var cd *ConnectionDeployment
	err := p.withRetry(ctx, "get_connection_deployment", func(ctx context.Context) error {
		row := p.db.QueryRowContext(ctx,
			`SELECT id, connection_id, deployment_id, weight FROM deployments_connections_map WHERE id = $1`, id)
		var err error
		cd, err = scanConnectionDeployment(row)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: connection deployment %s", ErrNotFound, id)
		}
		return err
	})
	return cd, err
}

func (p *Postgres) getConnectionDeployments(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*ConnectionDeployment, error) {
	out := make(map[uuid.UUID]*ConnectionDeployment, len(ids))
	err := p.withRetry(ctx, "get_connection_deployments", func(ctx context.Context) error {
		rows, err := p.db.QueryContext(ctx,
			`SELECT id, connection_id, deployment_id, weight
			 FROM deployments_connections_map WHERE id = ANY($1::uuid[])`,
			pq.Array(uuidStrings(ids)))
		if err != nil {
			return err
		}
		defer rows.Close()
		clear(out)
		for rows.Next() {
			cd, err := scanConnectionDeployment(rows)
			if err != nil {
				return err
			}
			out[cd.ID] = cd
		}
		return rows.Err()
	})
	return out, err
}

func (p *Postgres) searchConnectionDeployments(ctx context.Context, connectionID, deploymentID uuid.NullUUID) ([]*ConnectionDeployment, error) {
	var out []*ConnectionDeployment
	err := p.withRetry(ctx, "search_connection_deployments", func(ctx context.Context) error {
		rows, err := p.db.QueryContext(ctx, `
			SELECT id, connection_id, deployment_id, weight
			FROM deployments_connections_map
			WHERE ($1::uuid IS NULL OR connection_id = $1)
			  AND ($2::uuid IS NULL OR deployment_id = $2)
			ORDER BY id`,
			connectionID, deploymentID)
		if err != nil {
			return err
		}
		defer rows.Close()
		out = out[:0]
		for rows.Next() {
			cd, err := scanConnectionDeployment(rows)
			if err != nil {
				return err
			}
			out = append(out, cd)
		}
		return rows.Err()
	})
	return out, err
}

func (p *Postgres) createConnectionDeployment(ctx context.Context, cd *ConnectionDeployment) error {
	return p.withRetry(ctx, "create_connection_deployment", func(ctx context.Context) error {
		_, err := p.db.ExecContext(ctx,
			`INSERT INTO deployments_connections_map (id, connection_id, deployment_id, weight)
			 VALUES ($1, $2, $3, $4)`,
			cd.ID, cd.ConnectionID, cd.DeploymentID, cd.Weight)
		return mapWriteError(err)
	})
}

// deleteConnectionDeployment reports the owning deployment so its cached
// connection list can be invalidated.
func (p *Postgres) deleteConnectionDeployment(ctx context.Context, id uuid.UUID) (uuid.UUID, int64, error) {
	var deploymentID uuid.UUID
	var n int64
	err := p.withRetry(ctx, "delete_connection_deployment", func(ctx context.Context) error {
		err := p.db.QueryRowContext(ctx,
			`DELETE FROM deployments_connections_map WHERE id = $1 RETURNING deployment_id`, id).Scan(&deploymentID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err == nil {
			n = 1
		}
		return err
	})
	return deploymentID, n, err
}

// --- virtual keys ---

const virtualKeySelect = `
	SELECT vk.id, vk.alias, vk.description, vk.salt, vk.encrypted_key, vk.blocked, vk.project_id,
	       vk.budget_limits, vk.request_limits, vk.token_limits,
	       COALESCE(array_agg(DISTINCT vkd.id::text) FILTER (WHERE vkd.id IS NOT NULL), '{}') AS deployments
	FROM virtual_keys vk
	LEFT JOIN virtual_keys_deployments_map vkd ON vkd.virtual_key_id = vk.id`

func scanVirtualKey(row rowScanner) (*virtualKeyRecord, error) {
	var (
		rec                virtualKeyRecord
		budget, reqs, toks []byte
		raw                pq.StringArray
	)
	if err := row.Scan(&rec.ID, &rec.Alias, &rec.Description, &rec.Salt, &rec.EncryptedKey,
		&rec.Blocked, &rec.ProjectID, &budget, &reqs, &toks, &raw); err != nil {
		return nil, err
	}
	if err := unmarshalLimits(budget, &rec.BudgetLimits); err != nil {
		return nil, err
	}
	if err := unmarshalLimits(reqs, &rec.RequestLimits); err != nil {
		return nil, err
	}
	if err := unmarshalLimits(toks, &rec.TokenLimits); err != nil {
		return nil, err
	}
	ids, err := parseUUIDArray(raw)
	if err != nil {
		return nil, err
	}
	rec.Deployments = ids
	return &rec, nil
}

func (p *Postgres) getVirtualKey(ctx context.Context, id uuid.UUID) (*virtualKeyRecord, error) {
	var rec *virtualKeyRecord
	err := p.withRetry(ctx, "get_virtual_key", func(ctx context.Context) error {
		row := p.db.QueryRowContext(ctx, virtualKeySelect+" WHERE vk.id = $1 GROUP BY vk.id", id)
		var err error
		rec, err = scanVirtualKey(row)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: virtual key %s", ErrNotFound, id)
		}
		return err
	})
	return rec, err
}

func (p *Postgres) createVirtualKey(ctx context.Context, rec *virtualKeyRecord) error {
	return p.withRetry(ctx, "create_virtual_key", func(ctx context.Context) error {
		_, err := p.db.ExecContext(ctx, `
			INSERT INTO virtual_keys (id, alias, description, salt, encrypted_key, blocked, project_id,
			                          budget_limits, request_limits, token_limits)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			rec.ID, rec.Alias, rec.Description, rec.Salt, rec.EncryptedKey, rec.Blocked, rec.ProjectID,
			marshalLimits(rec.BudgetLimits), marshalLimits(rec.RequestLimits), marshalLimits(rec.TokenLimits))
		return mapWriteError(err)
	})
}

func (p *Postgres) deleteVirtualKey(ctx context.Context, id uuid.UUID) (int64, error) {
	return p.deleteByID(ctx, "delete_virtual_key", "virtual_keys", id)
}

// --- virtual key deployments ---

func scanVirtualKeyDeployment(row rowScanner) (*VirtualKeyDeployment, error) {
	var vkd VirtualKeyDeployment
	if err := row.Scan(&vkd.ID, &vkd.VirtualKeyID, &vkd.DeploymentID); err != nil {
		return nil, err
	}
	return &vkd, nil
}

func (p *Postgres) getVirtualKeyDeployment(ctx context.Context, id uuid.UUID) (*VirtualKeyDeployment, error) {
	var vkd *VirtualKeyDeployment
	err := p.withRetry(ctx, "get_virtual_key_deployment", func(ctx context.Context) error {
		row := p.db.QueryRowContext(ctx,
			`SELECT id, virtual_key_id, deployment_id FROM virtual_keys_deployments_map WHERE id = $1`, id)
		var err error
		vkd, err = scanVirtualKeyDeployment(row)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: virtual key deployment %s", ErrNotFound, id)
		}
		return err
	})
	return vkd, err
}

func (p *Postgres) getVirtualKeyDeployments(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*VirtualKeyDeployment, error) {
	out := make(map[uuid.UUID]*VirtualKeyDeployment, len(ids))
	err := p.withRetry(ctx, "get_virtual_key_deployments", func(ctx context.Context) error {
		rows, err := p.db.QueryContext(ctx,
			`SELECT id, virtual_key_id, deployment_id
			 FROM virtual_keys_deployments_map WHERE id = ANY($1::uuid[])`,
			pq.Array(uuidStrings(ids)))
		if err != nil {
			return err
		}
		defer rows.Close()
		clear(out)
		for rows.Next() {
			vkd, err := scanVirtualKeyDeployment(rows)
			if err != nil {
				return err
			}
			out[vkd.ID] = vkd
		}
		return rows.Err()
	})
	return out, err
}

func (p *Postgres) searchVirtualKeyDeployments(ctx context.Context, virtualKeyID, deploymentID uuid.NullUUID) ([]*VirtualKeyDeployment, error) {
	var out []*VirtualKeyDeployment
	err := p.withRetry(ctx, "search_virtual_key_deployments", func(ctx context.Context) error {
		rows, err := p.db.QueryContext(ctx, `
			SELECT id, virtual_key_id, deployment_id
			FROM virtual_keys_deployments_map
			WHERE ($1::uuid IS NULL OR virtual_key_id = $1)
			  AND ($2::uuid IS NULL OR deployment_id = $2)
			ORDER BY id`,
			virtualKeyID, deploymentID)
		if err != nil {
			return err
		}
		defer rows.Close()
		out = out[:0]
		for rows.Next() {
			vkd, err := scanVirtualKeyDeployment(rows)
			if err != nil {
				return err
			}
			out = append(out, vkd)
		}
		return rows.Err()
	})
	return out, err
}

func (p *Postgres) createVirtualKeyDeployment(ctx context.Context, vkd *VirtualKeyDeployment) error {
	return p.withRetry(ctx, "create_virtual_key_deployment", func(ctx context.Context) error {
		_, err := p.db.ExecContext(ctx,
			`INSERT INTO virtual_keys_deployments_map (id, virtual_key_id, deployment_id)
			 VALUES ($1, $2, $3)`,
			vkd.ID, vkd.VirtualKeyID, vkd.DeploymentID)
		return mapWriteError(err)
	})
}

// deleteVirtualKeyDeployment reports the owning virtual key so its cached
// deployment list can be invalidated.
func (p *Postgres) deleteVirtualKeyDeployment(ctx context.Context, id uuid.UUID) (uuid.UUID, int64, error) {
	var virtualKeyID uuid.UUID
	var n int64
	err := p.withRetry(ctx, "delete_virtual_key_deployment", func(ctx context.Context) error {
		err := p.db.QueryRowContext(ctx,
			`DELETE FROM virtual_keys_deployments_map WHERE id = $1 RETURNING virtual_key_id`, id).Scan(&virtualKeyID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err == nil {
			n = 1
		}
		return err
	})
	return virtualKeyID, n, err
}

// --- request logs ---

// insertRequestLogs streams one batch through COPY. Logs are append-only so
// a retried batch at worst duplicates rows with fresh ids filtered out by
// the primary key.
func (p *Postgres) insertRequestLogs(ctx context.Context, logs []*RequestLog) error {
	if len(logs) == 0 {
		return nil
	}
	return p.withRetry(ctx, "insert_request_logs", func(ctx context.Context) error {
		tx, err := p.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		stmt, err := tx.PrepareContext(ctx, pq.CopyIn("request_logs",
			"id", "attempt_number", "virtual_key_id", "project_id", "deployment_id", "connection_id",
			"input_tokens", "output_tokens", "total_tokens", "cost", "http_status_code", "error",
			"request_ts", "response_ts", "method", "path", "provider",
			"deployment_name", "project_name", "virtual_key_alias"))
		if err != nil {
			return err
		}

		for _, l := range logs {
			var errText sql.NullString
			if l.Error != nil {
				errText = sql.NullString{String: *l.Error, Valid: true}
			}
			if _, err := stmt.ExecContext(ctx,
				l.ID, l.AttemptNumber, l.VirtualKeyID, l.ProjectID, l.DeploymentID, l.ConnectionID,
				l.InputTokens, l.OutputTokens, l.TotalTokens, l.Cost, l.HTTPStatusCode, errText,
				l.RequestTS, l.ResponseTS, l.Method, l.Path, l.Provider,
				l.DeploymentName, l.ProjectName, l.VirtualKeyAlias); err != nil {
				stmt.Close()
				return err
			}
		}
		if _, err := stmt.ExecContext(ctx); err != nil {
			stmt.Close()
			return err
		}
		if err := stmt.Close(); err != nil {
			return err
		}
		return tx.Commit()
	})
}

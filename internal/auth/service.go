// service.go - Invite, credential and session operations.
//
// Every operation runs in its own scoped transaction; expected failures
// (bad invite, bad credentials) are sentinel errors, never panics.
package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"ztransfer/internal/db"
)

// Service implements the authentication surface over PostgreSQL.
type Service struct {
	pool       *sql.DB
	inviteTTL  time.Duration
	sessionTTL time.Duration
	now        func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithClock overrides the time source, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService builds an auth service with the given TTLs.
func NewService(pool *sql.DB, inviteTTL, sessionTTL time.Duration, opts ...Option) *Service {
	s := &Service{
		pool:       pool,
		inviteTTL:  inviteTTL,
		sessionTTL: sessionTTL,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CreateInvite issues a single-use invite for email. The raw token is
// returned exactly once; only its digest is stored.
func (s *Service) CreateInvite(ctx context.Context, email, role string, createdBy *int64) (Invite, string, error) {
	raw, hash, err := GenerateToken()
	if err != nil {
		return Invite{}, "", err
	}

	now := s.now()
	inv := Invite{
		TokenHash: hash,
		Email:     normalizeEmail(email),
		Role:      role,
		CreatedBy: createdBy,
		CreatedAt: now,
		ExpiresAt: now.Add(s.inviteTTL),
	}

	err = db.WithTx(ctx, s.pool, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx, `
			INSERT INTO invites (token_hash, email, role, created_by, created_at, expires_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id
		`, inv.TokenHash, inv.Email, inv.Role, inv.CreatedBy, inv.CreatedAt, inv.ExpiresAt).Scan(&inv.ID)
	})
	if err != nil {
		return Invite{}, "", fmt.Errorf("create invite: %w", err)
	}
	return inv, raw, nil
}

// ConsumeInvite creates a user from a raw invite token and marks the invite
// used, atomically. Unknown, expired or email-mismatched invites fail with
// ErrInvalidInvite; consumed invites and emails that already have an account
// fail with ErrInviteAlreadyUsed. A concurrent consumer losing the race on
// the users.email unique constraint gets ErrInviteAlreadyUsed as well.
func (s *Service) ConsumeInvite(ctx context.Context, rawToken, email, password string) (User, error) {
	tokenHash := HashToken(rawToken)
	normalized := normalizeEmail(email)
	now := s.now()

	var user User
	err := db.WithTx(ctx, s.pool, func(tx *sql.Tx) error {
		var inv Invite
		err := tx.QueryRowContext(ctx, `
			SELECT id, email, role, expires_at, used_at
			FROM invites
			WHERE token_hash = $1
			FOR UPDATE
		`, tokenHash).Scan(&inv.ID, &inv.Email, &inv.Role, &inv.ExpiresAt, &inv.UsedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrInvalidInvite
		}
		if err != nil {
			return err
		}

		if inv.UsedAt != nil {
			return ErrInviteAlreadyUsed
		}
		if inv.ExpiresAt.Before(now) {
			return ErrInvalidInvite
		}
		if normalizeEmail(inv.Email) != normalized {
			return ErrInvalidInvite
		}

		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM users WHERE email = $1)`, normalized,
		).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return ErrInviteAlreadyUsed
		}

		passwordHash, err := HashPassword(password)
		if err != nil {
			return err
		}

		user = User{
			Email:     normalized,
			Role:      inv.Role,
			IsActive:  true,
			CreatedAt: now,
		}
		err = tx.QueryRowContext(ctx, `
			INSERT INTO users (email, password_hash, role, is_active, created_at)
			VALUES ($1, $2, $3, TRUE, $4)
			RETURNING id
		`, user.Email, passwordHash, user.Role, user.CreatedAt).Scan(&user.ID)
		if db.IsUniqueViolation(err) {
			return ErrInviteAlreadyUsed
		}
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE invites SET used_at = $1 WHERE id = $2`, now, inv.ID)
		return err
	})
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// AuthenticateUser validates credentials and stamps last_login_at. Unknown
// email, inactive account and wrong password are indistinguishable from the
// outside.
func (s *Service) AuthenticateUser(ctx context.Context, email, password string) (User, error) {
	normalized := normalizeEmail(email)
	now := s.now()

	var user User
	err := db.WithTx(ctx, s.pool, func(tx *sql.Tx) error {
		var passwordHash string
		err := tx.QueryRowContext(ctx, `
			SELECT id, email, password_hash, role, is_active, created_at, last_login_at
			FROM users
			WHERE email = $1
		`, normalized).Scan(&user.ID, &user.Email, &passwordHash, &user.Role,
			&user.IsActive, &user.CreatedAt, &user.LastLoginAt)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrInvalidCredentials
		}
		if err != nil {
			return err
		}
		if !user.IsActive {
			return ErrInvalidCredentials
		}

		ok, err := VerifyPassword(password, passwordHash)
		if err != nil {
			return fmt.Errorf("verify password: %w", err)
		}
		if !ok {
			return ErrInvalidCredentials
		}

		user.LastLoginAt = &now
		_, err = tx.ExecContext(ctx,
			`UPDATE users SET last_login_at = $1 WHERE id = $2`, now, user.ID)
		return err
	})
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// CreateSession persists a new session for userID and returns the raw
// bearer token for the cookie.
func (s *Service) CreateSession(ctx context.Context, userID int64, ip, userAgent string) (string, error) {
	raw, hash, err := GenerateToken()
	if err != nil {
		return "", err
	}

	now := s.now()
	expiresAt := now.Add(s.sessionTTL)

	err = db.WithTx(ctx, s.pool, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sessions (token_hash, user_id, created_at, expires_at, last_seen_at, ip_address, user_agent)
			VALUES ($1, $2, $3, $4, $3, $5, $6)
		`, hash, userID, now, expiresAt, nullString(ip), nullString(userAgent))
		return err
	})
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return raw, nil
}

// RevokeSession marks the session revoked. Unknown tokens are a silent
// no-op, making logout idempotent.
func (s *Service) RevokeSession(ctx context.Context, rawToken string) error {
	tokenHash := HashToken(rawToken)
	now := s.now()

	return db.WithTx(ctx, s.pool, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE sessions SET revoked_at = $1
			WHERE token_hash = $2 AND revoked_at IS NULL
		`, now, tokenHash)
		return err
	})
}

// ResolveUserFromSession returns the user behind a valid session token and
// advances last_seen_at. Unknown, revoked and expired tokens all yield
// (nil, nil); the route layer turns that into 401.
func (s *Service) ResolveUserFromSession(ctx context.Context, rawToken string) (*User, error) {
	tokenHash := HashToken(rawToken)
	now := s.now()

	var user *User
	err := db.WithTx(ctx, s.pool, func(tx *sql.Tx) error {
		var sessionID int64
		var u User
		err := tx.QueryRowContext(ctx, `
			SELECT s.id, u.id, u.email, u.role, u.is_active, u.created_at, u.last_login_at
			FROM sessions s
			JOIN users u ON u.id = s.user_id
			WHERE s.token_hash = $1
			  AND s.revoked_at IS NULL
			  AND s.expires_at > $2
		`, tokenHash, now).Scan(&sessionID, &u.ID, &u.Email, &u.Role,
			&u.IsActive, &u.CreatedAt, &u.LastLoginAt)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE sessions SET last_seen_at = $1 WHERE id = $2`, now, sessionID); err != nil {
			return err
		}
		user = &u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// UsersExist reports whether any account exists. The one-time admin
// bootstrap is open only while this is false.
func (s *Service) UsersExist(ctx context.Context) (bool, error) {
	var exists bool
	err := s.pool.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users)`).Scan(&exists)
	return exists, err
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

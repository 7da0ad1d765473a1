package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"stockpicks/internal/auth"
	"stockpicks/internal/config"
	"stockpicks/internal/events"
	"stockpicks/internal/prices"
)

// PriceBook is the read side of the price cache.
type PriceBook interface {
	Lookup(ctx context.Context, symbol string) (prices.Record, prices.Freshness, error)
	Get(ctx context.Context, symbol string) (prices.Record, prices.Freshness, error)
}

type PriceRefresher interface {
	Refresh(ctx context.Context, symbols []string) prices.Summary
}

type Announcer interface {
	AnnounceWinner(ctx context.Context, e events.WinnerEvent) error
}

type Service struct {
	db        *pgxpool.Pool
	log       *slog.Logger
	prices    PriceBook
	refresher PriceRefresher
	events    events.Publisher
	announcer Announcer
	tokens    *auth.Tokens
	loc       *time.Location
	now       func() time.Time
}

type Option func(*Service)

func WithPrices(p PriceBook) Option { return func(s *Service) { s.prices = p } }

func WithRefresher(r PriceRefresher) Option { return func(s *Service) { s.refresher = r } }

func WithPublisher(p events.Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.events = p
		}
	}
}

func WithAnnouncer(a Announcer) Option { return func(s *Service) { s.announcer = a } }

func WithTokens(t *auth.Tokens) Option { return func(s *Service) { s.tokens = t } }

func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func NewService(db *pgxpool.Pool, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		db:     db,
		log:    logger,
		events: events.Noop{},
		loc:    time.UTC,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SeedUsers creates the configured players if they do not exist yet. A
// password is only set on a seeded user that has none.
func (s *Service) SeedUsers(ctx context.Context, seeds []config.SeedUser) error {
	for _, seed := range seeds {
		username, err := ValidateUsername(seed.Username)
		if err != nil {
			return fmt.Errorf("seed %q: %w", seed.Username, err)
		}
		var hash *string
		if seed.Password != "" {
			h, err := auth.HashPassword(seed.Password)
			if err != nil {
				return fmt.Errorf("seed %q: %w", username, err)
			}
			hash = &h
		}
		tag, err := s.db.Exec(ctx, `
			INSERT INTO users (id, username, password_hash)
			VALUES ($1, $2, $3)
			ON CONFLICT ((lower(username))) DO UPDATE
			SET password_hash = COALESCE(users.password_hash, EXCLUDED.password_hash)
		`, uuid.NewString(), username, hash)
		if err != nil {
			return fmt.Errorf("seed %q: %w", username, err)
		}
		s.log.Debug("seeded user", "username", username, "rows", tag.RowsAffected())
	}
	return nil
}

// Signup registers a new player, or claims a seeded player that has no
// password yet, and opens a session.
func (s *Service) Signup(ctx context.Context, username, password string) (auth.Session, error) {
	username, err := ValidateUsername(username)
	if err != nil {
		return auth.Session{}, err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return auth.Session{}, err
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return auth.Session{}, err
	}
	defer tx.Rollback(ctx)

	var (
		userID   string
		existing *string
	)
	err = tx.QueryRow(ctx, `
		SELECT id, username, password_hash
		FROM users
		WHERE lower(username) = lower($1)
		FOR UPDATE
	`, username).Scan(&userID, &username, &existing)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		userID = uuid.NewString()
		if _, err := tx.Exec(ctx, `
			INSERT INTO users (id, username, password_hash)
			VALUES ($1, $2, $3)
		`, userID, username, hash); err != nil {
			if isUniqueViolation(err) {
				return auth.Session{}, ErrUsernameTaken
			}
			return auth.Session{}, err
		}
	case err != nil:
		return auth.Session{}, err
	case existing != nil && *existing != "":
		return auth.Session{}, ErrUsernameTaken
	default:
		if _, err := tx.Exec(ctx, `UPDATE users SET password_hash = $1 WHERE id = $2`, hash, userID); err != nil {
			return auth.Session{}, err
		}
	}

	sess, err := s.openSession(ctx, tx, userID, username)
	if err != nil {
		return auth.Session{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return auth.Session{}, err
	}
	s.log.Info("user signed up", "user_id", userID, "username", username)
	return sess, nil
}

func (s *Service) Login(ctx context.Context, username, password string) (auth.Session, error) {
	var (
		userID string
		hash   *string
	)
	err := s.db.QueryRow(ctx, `
		SELECT id, username, password_hash
		FROM users
		WHERE lower(username) = lower($1)
	`, strings.TrimSpace(username)).Scan(&userID, &username, &hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return auth.Session{}, ErrInvalidCredentials
	}
	if err != nil {
		return auth.Session{}, err
	}
	if hash == nil || auth.CheckPassword(*hash, password) != nil {
		return auth.Session{}, ErrInvalidCredentials
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return auth.Session{}, err
	}
	defer tx.Rollback(ctx)
	sess, err := s.openSession(ctx, tx, userID, username)
	if err != nil {
		return auth.Session{}, err
	}
	return sess, tx.Commit(ctx)
}

func (s *Service) Logout(ctx context.Context, userID string) error {
	_, err := s.db.Exec(ctx, `UPDATE users SET session_token = NULL WHERE id = $1`, userID)
	return err
}

// Authenticate resolves a bearer token to its user. The token must verify
// and still be the user's current session.
func (s *Service) Authenticate(ctx context.Context, token string) (User, error) {
	if s.tokens == nil {
		return User{}, ErrUnauthorized
	}
	userID, err := s.tokens.Verify(token)
	if err != nil {
		return User{}, ErrUnauthorized
	}
	var u User
	err = s.db.QueryRow(ctx, `
		SELECT id, username, password_hash IS NOT NULL, created_at
		FROM users
		WHERE id = $1 AND session_token = $2
	`, userID, token).Scan(&u.ID, &u.Username, &u.HasPassword, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrUnauthorized
	}
	return u, err
}

func (s *Service) GetUser(ctx context.Context, userID string) (User, error) {
	var u User
	err := s.db.QueryRow(ctx, `
		SELECT id, username, password_hash IS NOT NULL, created_at
		FROM users
		WHERE id = $1
	`, userID).Scan(&u.ID, &u.Username, &u.HasPassword, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	return u, err
}

func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, username, password_hash IS NOT NULL, created_at
		FROM users
		ORDER BY lower(username)
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []User{}
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.HasPassword, &u.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Service) openSession(ctx context.Context, tx pgx.Tx, userID, username string) (auth.Session, error) {
	if s.tokens == nil {
		return auth.Session{}, errors.New("session tokens not configured")
	}
	sess, err := s.tokens.Issue(userID, username)
	if err != nil {
		return auth.Session{}, err
	}
	if _, err := tx.Exec(ctx, `UPDATE users SET session_token = $1 WHERE id = $2`, sess.AccessToken, userID); err != nil {
		return auth.Session{}, fmt.Errorf("store session: %w", err)
	}
	return sess, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isSerializationError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "40001"
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

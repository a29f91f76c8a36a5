// Package postgres implements the session store and conversation log on
// PostgreSQL via pgx. Schema migrations are embedded and applied with goose.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/hanashi-live/hanashi/pkg/chat/character"
	"github.com/hanashi-live/hanashi/pkg/chat/store"
)

//go:embed migrations/*.sql
var migrations embed.FS

// querier is the common interface satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const sessionCols = `id, user_id, character_id, language, started_at, ended_at`

// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool   *pgxpool.Pool
	db     querier
	logger *slog.Logger
}

func New(pool *pgxpool.Pool, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, db: pool, logger: logger}, nil
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Migrate applies embedded schema migrations.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func (s *Store) GetOrCreate(ctx context.Context, userID string) (store.Session, error) {
	// Insert-if-absent against the partial unique index on active sessions,
	// then read back the authoritative row.
	_, err := s.db.Exec(ctx,
		`INSERT INTO sessions (user_id, character_id, language)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (user_id) WHERE ended_at IS NULL DO NOTHING`,
		userID, string(character.Default), string(character.DefaultLanguage),
	)
	if err != nil {
		return store.Session{}, unavailable("create session", err)
	}

	row := s.db.QueryRow(ctx,
		`SELECT `+sessionCols+` FROM sessions WHERE user_id = $1 AND ended_at IS NULL`,
		userID,
	)
	sess, err := scanSession(row)
	if err != nil {
		return store.Session{}, unavailable("get session", err)
	}
	return sess, nil
}

func (s *Store) SwitchCharacter(ctx context.Context, userID string, id character.ID) (store.Session, error) {
	row := s.db.QueryRow(ctx,
		`UPDATE sessions SET character_id = $2, language = $3
		 WHERE user_id = $1 AND ended_at IS NULL
		 RETURNING `+sessionCols,
		userID, string(id), string(character.LanguageFor(id)),
	)
	sess, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Session{}, store.ErrSessionNotFound
	}
	if err != nil {
		return store.Session{}, unavailable("switch character", err)
	}
	return sess, nil
}

func (s *Store) SwitchLanguage(ctx context.Context, userID string, lang character.Language) (store.Session, error) {
	row := s.db.QueryRow(ctx,
		`UPDATE sessions SET language = $2
		 WHERE user_id = $1 AND ended_at IS NULL
		 RETURNING `+sessionCols,
		userID, string(lang),
	)
	sess, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Session{}, store.ErrSessionNotFound
	}
	if err != nil {
		return store.Session{}, unavailable("switch language", err)
	}
	return sess, nil
}

func (s *Store) End(ctx context.Context, userID string) error {
	// Deleting the session row cascades to its messages: ended sessions
	// leave no history behind.
	tag, err := s.db.Exec(ctx,
		`DELETE FROM sessions WHERE user_id = $1 AND ended_at IS NULL`,
		userID,
	)
	if err != nil {
		return unavailable("end session", err)
	}
	if tag.RowsAffected() == 0 {
		s.logger.Debug("end session: no active session", "user_id", userID)
	}
	return nil
}

func (s *Store) AppendUser(ctx context.Context, sessionID, text string) error {
	return s.append(ctx, sessionID, store.SenderUser, text)
}

func (s *Store) AppendCharacter(ctx context.Context, sessionID, text string) error {
	return s.append(ctx, sessionID, store.SenderCharacter, text)
}

func (s *Store) append(ctx context.Context, sessionID string, sender store.Sender, text string) error {
	tag, err := s.db.Exec(ctx,
		`INSERT INTO messages (session_id, sender, content)
		 SELECT id, $2, $3 FROM sessions WHERE id = $1 AND ended_at IS NULL`,
		sessionID, string(sender), text,
	)
	if err != nil {
		return unavailable("append message", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrSessionNotFound
	}
	return nil
}

func (s *Store) RecentContext(ctx context.Context, sessionID string, maxPairs int) ([]store.ContextEntry, error) {
	limit := 2 * maxPairs
	if limit <= 0 {
		return nil, nil
	}

	// Newest-first fetch keeps the LIMIT cheap; reverse to chronological
	// before returning, since callers depend on oldest→newest order.
	rows, err := s.db.Query(ctx,
		`SELECT sender, content FROM messages
		 WHERE session_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`,
		sessionID, limit,
	)
	if err != nil {
		return nil, unavailable("recent context", err)
	}
	defer rows.Close()

	var newestFirst []store.ContextEntry
	for rows.Next() {
		var sender, content string
		if err := rows.Scan(&sender, &content); err != nil {
			return nil, unavailable("scan context entry", err)
		}
		newestFirst = append(newestFirst, store.ContextEntry{Role: store.Sender(sender), Content: content})
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("read context rows", err)
	}

	out := make([]store.ContextEntry, len(newestFirst))
	for i, entry := range newestFirst {
		out[len(newestFirst)-1-i] = entry
	}
	return out, nil
}

func scanSession(row pgx.Row) (store.Session, error) {
	var (
		sess      store.Session
		charID    string
		lang      string
		startedAt time.Time
		endedAt   *time.Time
	)
	if err := row.Scan(&sess.ID, &sess.UserID, &charID, &lang, &startedAt, &endedAt); err != nil {
		return store.Session{}, err
	}
	sess.CharacterID = character.ID(charID)
	sess.Language = character.Language(lang)
	sess.StartedAt = startedAt
	sess.EndedAt = endedAt
	sess.Active = endedAt == nil
	return sess, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, store.ErrUnavailable, err)
}

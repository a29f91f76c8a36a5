// Package store defines the persistent state of the chat system: per-user
// sessions and the append-only conversation log, plus the interfaces its
// backends implement.
//
// SessionStore is the only writer of session fields. Callers that make routing
// decisions (which character answers, in which language) must re-fetch the
// authoritative record instead of trusting a cached copy, because character and
// language can change between a command being issued and being processed.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/hanashi-live/hanashi/pkg/chat/character"
)

var (
	// ErrUnavailable marks failures reaching the backing store. Callers
	// surface these as a generic failure, never as raw driver errors.
	ErrUnavailable = errors.New("storage unavailable")

	// ErrSessionNotFound is returned for operations on a session that does
	// not exist or has already ended.
	ErrSessionNotFound = errors.New("session not found")
)

type Sender string

const (
	SenderUser      Sender = "user"
	SenderCharacter Sender = "character"
)

// Session binds a user identity to an active character and language mode.
// At most one non-ended session exists per user at a time.
type Session struct {
	ID          string
	UserID      string
	CharacterID character.ID
	Language    character.Language
	Active      bool
	StartedAt   time.Time
	EndedAt     *time.Time
}

// Message is one immutable conversation log entry. Messages are never mutated
// or deleted individually; ending a session purges its history in bulk.
type Message struct {
	ID        string
	SessionID string
	Sender    Sender
	Content   string
	CreatedAt time.Time
}

// ContextEntry is one role-tagged turn of bounded recent context, ordered
// oldest→newest when returned from RecentContext.
type ContextEntry struct {
	Role    Sender
	Content string
}

type SessionStore interface {
	// GetOrCreate returns the user's active session, creating one with the
	// default character and language if absent. Idempotent.
	GetOrCreate(ctx context.Context, userID string) (Session, error)

	// SwitchCharacter updates the active character AND the language implied
	// by the character→language mapping as one joint transition.
	SwitchCharacter(ctx context.Context, userID string, id character.ID) (Session, error)

	// SwitchLanguage updates the language mode only.
	SwitchLanguage(ctx context.Context, userID string, lang character.Language) (Session, error)

	// End purges the user's active session and, transitively, its message
	// history. Ending a user with no active session is not an error.
	End(ctx context.Context, userID string) error
}

type ConversationLog interface {
	AppendUser(ctx context.Context, sessionID, text string) error
	AppendCharacter(ctx context.Context, sessionID, text string) error

	// RecentContext returns at most 2*maxPairs entries in chronological
	// order (oldest first). Ordering is a hard contract: the response
	// generator is sensitive to turn order.
	RecentContext(ctx context.Context, sessionID string, maxPairs int) ([]ContextEntry, error)
}

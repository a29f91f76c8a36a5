// Package memory provides an in-process store implementation used in tests and
// when the gateway runs without a database.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hanashi-live/hanashi/pkg/chat/character"
	"github.com/hanashi-live/hanashi/pkg/chat/store"
)

// Store implements store.SessionStore and store.ConversationLog with mutex-
// guarded maps. Safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	byUser   map[string]*store.Session
	messages map[string][]store.Message
	now      func() time.Time
}

func New() *Store {
	return &Store{
		byUser:   make(map[string]*store.Session),
		messages: make(map[string][]store.Message),
		now:      time.Now,
	}
}

// Ping always succeeds; the in-memory store has no backing service.
func (s *Store) Ping(ctx context.Context) error {
	return nil
}

// SetNow overrides the clock. Test hook.
func (s *Store) SetNow(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now != nil {
		s.now = now
	}
}

func (s *Store) GetOrCreate(ctx context.Context, userID string) (store.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.byUser[userID]; ok {
		return *sess, nil
	}
	sess := &store.Session{
		ID:          uuid.NewString(),
		UserID:      userID,
		CharacterID: character.Default,
		Language:    character.DefaultLanguage,
		Active:      true,
		StartedAt:   s.now(),
	}
	s.byUser[userID] = sess
	return *sess, nil
}

func (s *Store) SwitchCharacter(ctx context.Context, userID string, id character.ID) (store.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.byUser[userID]
	if !ok {
		return store.Session{}, store.ErrSessionNotFound
	}
	sess.CharacterID = id
	sess.Language = character.LanguageFor(id)
	return *sess, nil
}

func (s *Store) SwitchLanguage(ctx context.Context, userID string, lang character.Language) (store.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.byUser[userID]
	if !ok {
		return store.Session{}, store.ErrSessionNotFound
	}
	sess.Language = lang
	return *sess, nil
}

func (s *Store) End(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.byUser[userID]
	if !ok {
		return nil
	}
	delete(s.byUser, userID)
	delete(s.messages, sess.ID)
	return nil
}

func (s *Store) AppendUser(ctx context.Context, sessionID, text string) error {
	return s.append(sessionID, store.SenderUser, text)
}

func (s *Store) AppendCharacter(ctx context.Context, sessionID, text string) error {
	return s.append(sessionID, store.SenderCharacter, text)
}

func (s *Store) append(sessionID string, sender store.Sender, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.sessionAlive(sessionID) {
		return store.ErrSessionNotFound
	}
	s.messages[sessionID] = append(s.messages[sessionID], store.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Sender:    sender,
		Content:   text,
		CreatedAt: s.now(),
	})
	return nil
}

func (s *Store) RecentContext(ctx context.Context, sessionID string, maxPairs int) ([]store.ContextEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.messages[sessionID]
	limit := 2 * maxPairs
	if limit <= 0 {
		return nil, nil
	}
	start := len(msgs) - limit
	if start < 0 {
		start = 0
	}
	out := make([]store.ContextEntry, 0, len(msgs)-start)
	for _, m := range msgs[start:] {
		out = append(out, store.ContextEntry{Role: m.Sender, Content: m.Content})
	}
	return out, nil
}

// MessageCount reports stored messages for a session. Test hook.
func (s *Store) MessageCount(sessionID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages[sessionID])
}

func (s *Store) sessionAlive(sessionID string) bool {
	for _, sess := range s.byUser {
		if sess.ID == sessionID {
			return true
		}
	}
	return false
}

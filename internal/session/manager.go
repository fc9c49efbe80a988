package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/antoniostano/samantha/internal/kvstore"
)

const (
	sessionPrefix     = "session:"
	userSessionsPrefix = "user_sessions:"

	// DefaultTTL matches the inactivity window a session survives without
	// activity before the store lets it expire (§4.6).
	DefaultTTL = 30 * time.Minute
)

var ErrNotFound = errors.New("session not found")

// Store is the session store: a TTL-backed record of session state and
// conversation history, keyed by session id with a secondary per-user
// index. Expiration is delegated to the backing kvstore's own TTL where
// available (Redis); CleanupExpired exists for backends, like the
// in-memory fallback, that don't honor TTLs on their own (§4.6, §7).
type Store struct {
	store kvstore.Store
	ttl   time.Duration
}

func NewStore(store kvstore.Store, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{store: store, ttl: ttl}
}

func sessionKey(id string) string      { return sessionPrefix + id }
func userSessionsKey(id string) string { return userSessionsPrefix + id }

func newGuestUserID() string {
	return "guest_" + uuid.NewString()[:8]
}

// Create starts a new session for userID, generating a guest id when
// userID is empty, and returns the stored record.
func (s *Store) Create(ctx context.Context, userID string, metadata map[string]any) (*Data, error) {
	if userID == "" {
		userID = newGuestUserID()
	}
	now := time.Now().UTC()
	d := &Data{
		SessionID:           uuid.NewString(),
		UserID:              userID,
		State:               StateIdle,
		ConversationHistory: []Message{},
		Metadata:            metadata,
		CreatedAt:           now,
		LastActivity:        now,
	}
	if d.Metadata == nil {
		d.Metadata = map[string]any{}
	}

	if err := kvstore.JSONSet(ctx, s.store, sessionKey(d.SessionID), d, s.ttl); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	if err := s.addToUserIndex(ctx, userID, d.SessionID); err != nil {
		return nil, fmt.Errorf("index session for user: %w", err)
	}

	log.Printf("session: created %s for user %s", d.SessionID, userID)
	return d, nil
}

func (s *Store) addToUserIndex(ctx context.Context, userID, sessionID string) error {
	ids, err := s.userSessionIDs(ctx, userID)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if id == sessionID {
			return nil
		}
	}
	ids = append(ids, sessionID)
	return kvstore.JSONSet(ctx, s.store, userSessionsKey(userID), ids, 2*s.ttl)
}

func (s *Store) removeFromUserIndex(ctx context.Context, userID, sessionID string) error {
	ids, err := s.userSessionIDs(ctx, userID)
	if err != nil {
		return err
	}
	filtered := ids[:0]
	for _, id := range ids {
		if id != sessionID {
			filtered = append(filtered, id)
		}
	}
	return kvstore.JSONSet(ctx, s.store, userSessionsKey(userID), filtered, 2*s.ttl)
}

func (s *Store) userSessionIDs(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	found, err := kvstore.JSONGet(ctx, s.store, userSessionsKey(userID), &ids)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return ids, nil
}

// Get returns a session by id, or ErrNotFound if it's absent or expired.
func (s *Store) Get(ctx context.Context, sessionID string) (*Data, error) {
	var d Data
	found, err := kvstore.JSONGet(ctx, s.store, sessionKey(sessionID), &d)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if !found {
		return nil, ErrNotFound
	}
	return &d, nil
}

// Update applies opts to the named session, refreshes its TTL, and
// returns the updated record.
func (s *Store) Update(ctx context.Context, sessionID string, opts UpdateOptions) (*Data, error) {
	d, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	d.LastActivity = time.Now().UTC()
	if opts.State != "" {
		d.State = opts.State
	}
	if opts.AddMessage != nil {
		msg := *opts.AddMessage
		if msg.Timestamp.IsZero() {
			msg.Timestamp = d.LastActivity
		}
		d.ConversationHistory = append(d.ConversationHistory, msg)
	}
	for k, v := range opts.Metadata {
		d.Metadata[k] = v
	}

	if err := kvstore.JSONSet(ctx, s.store, sessionKey(sessionID), d, s.ttl); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	return d, nil
}

// Extend refreshes a session's TTL without otherwise modifying it.
func (s *Store) Extend(ctx context.Context, sessionID string) error {
	_, err := s.Update(ctx, sessionID, UpdateOptions{})
	return err
}

// Delete removes a session and drops it from its user's index.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	d, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := s.removeFromUserIndex(ctx, d.UserID, sessionID); err != nil {
		return fmt.Errorf("unindex session: %w", err)
	}
	if err := s.store.Delete(ctx, sessionKey(sessionID)); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	log.Printf("session: deleted %s", sessionID)
	return nil
}

// SessionsForUser returns the ids of sessions belonging to userID.
func (s *Store) SessionsForUser(ctx context.Context, userID string) ([]string, error) {
	return s.userSessionIDs(ctx, userID)
}

// ListActive returns the ids of every session currently resident in the
// backing store. Cheap on Redis (key scan); linear on the in-memory
// fallback.
func (s *Store) ListActive(ctx context.Context) ([]string, error) {
	keys, err := s.store.KeysPattern(ctx, sessionPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	ids := make([]string, len(keys))
	for i, k := range keys {
		ids[i] = k[len(sessionPrefix):]
	}
	return ids, nil
}

// Count returns the number of active sessions.
func (s *Store) Count(ctx context.Context) (int, error) {
	ids, err := s.ListActive(ctx)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// CleanupExpired sweeps sessions whose last activity is older than the
// store's TTL and deletes them. Backends with native TTL support (Redis)
// will rarely find anything to do here; it exists for the in-memory
// fallback, which never expires keys on its own (§7).
func (s *Store) CleanupExpired(ctx context.Context) (int, error) {
	ids, err := s.ListActive(ctx)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	removed := 0
	for _, id := range ids {
		d, err := s.Get(ctx, id)
		if err != nil {
			continue
		}
		if now.Sub(d.LastActivity) <= s.ttl {
			continue
		}
		if err := s.Delete(ctx, id); err != nil {
			log.Printf("session: cleanup failed for %s: %v", id, err)
			continue
		}
		removed++
	}

	if removed > 0 {
		log.Printf("session: cleaned up %d expired sessions", removed)
	}
	return removed, nil
}

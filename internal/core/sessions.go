package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ahmadiii429861-dot/ahm-ai/internal/store"
	"github.com/ahmadiii429861-dot/ahm-ai/internal/utils"
	"github.com/ahmadiii429861-dot/ahm-ai/pkg/logger"
	"github.com/ahmadiii429861-dot/ahm-ai/pkg/metrics"
)

const (
	DefaultSessionTitle = "New Chat"
	titleMaxRunes       = 30
	titleEllipsis       = "…"
)

// SessionPatch carries the fields UpdateSession merges. Nil fields are left
// untouched.
type SessionPatch struct {
	Title       *string
	TitleManual *bool
	Settings    *store.AISettings
	IsPublic    *bool
	IsArchived  *bool
}

// SessionStore owns the owner → sessions mapping. Every operation is scoped
// by owner, so a session is only ever reachable through the owner it was
// added under. Not safe for concurrent use; App serialises access.
type SessionStore struct {
	kv      KeyValueStore
	logger  *logger.Logger
	byOwner map[string][]store.Session
	now     func() time.Time
}

func NewSessionStore(kv KeyValueStore, log *logger.Logger) *SessionStore {
	s := &SessionStore{kv: kv, logger: log, now: time.Now}

	var loaded map[string][]store.Session
	if !kv.Load(store.KeySessions, &loaded) {
		loaded = nil
	}
	s.byOwner = normalizePartitions(loaded)
	return s
}

// normalizePartitions drops guest and empty partitions, forces each session's
// OwnerID to its partition key and drops IDs already seen under another owner.
func normalizePartitions(in map[string][]store.Session) map[string][]store.Session {
	out := make(map[string][]store.Session, len(in))
	seen := make(map[string]bool)
	for owner, sessions := range in {
		if owner == "" || owner == store.GuestID {
			continue
		}
		for _, sess := range sessions {
			if sess.ID == "" || seen[sess.ID] {
				continue
			}
			seen[sess.ID] = true
			sess.OwnerID = owner
			out[owner] = append(out[owner], sess)
		}
	}
	return out
}

// DeriveTitle is the auto-title for a session whose first user message is text.
func DeriveTitle(text string) string {
	return utils.TruncateRunes(text, titleMaxRunes, titleEllipsis)
}

// NewSession builds an unsaved session for owner with a settings snapshot.
func (s *SessionStore) NewSession(owner string, settings store.AISettings) store.Session {
	now := s.now()
	return store.Session{
		ID:        uuid.NewString(),
		Title:     DefaultSessionTitle,
		Messages:  []store.Message{},
		Settings:  settings,
		OwnerID:   owner,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// AddSession appends session to its owner's collection.
func (s *SessionStore) AddSession(session store.Session) error {
	if session.OwnerID == "" || session.OwnerID == store.GuestID {
		return ErrGuestCannotOwn
	}
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if s.exists(session.ID) {
		return fmt.Errorf("add session %s: %w", session.ID, ErrDuplicateSession)
	}
	if session.Messages == nil {
		session.Messages = []store.Message{}
	}

	s.byOwner[session.OwnerID] = append(s.byOwner[session.OwnerID], session.Clone())
	metrics.SessionsTotal.Inc()
	return s.persist()
}

func (s *SessionStore) List(owner string) []store.Session {
	sessions := s.byOwner[owner]
	out := make([]store.Session, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sess.Clone())
	}
	return out
}

func (s *SessionStore) Get(id, owner string) (store.Session, bool) {
	i, ok := s.index(id, owner)
	if !ok {
		return store.Session{}, false
	}
	return s.byOwner[owner][i].Clone(), true
}

// PublicSessions lists owner's sessions flagged public, archived ones included.
func (s *SessionStore) PublicSessions(owner string) []store.Session {
	var out []store.Session
	for _, sess := range s.byOwner[owner] {
		if sess.IsPublic {
			out = append(out, sess.Clone())
		}
	}
	return out
}

// UpdateSession merges patch into the matching session. It reports false,
// without error, when the session does not exist.
func (s *SessionStore) UpdateSession(id, owner string, patch SessionPatch) (store.Session, bool, error) {
	i, ok := s.index(id, owner)
	if !ok {
		return store.Session{}, false, nil
	}
	sess := &s.byOwner[owner][i]

	if patch.Title != nil {
		sess.Title = *patch.Title
	}
	if patch.TitleManual != nil {
		sess.TitleManual = *patch.TitleManual
	}
	if patch.Settings != nil {
		sess.Settings = *patch.Settings
	}
	if patch.IsPublic != nil {
		sess.IsPublic = *patch.IsPublic
	}
	if patch.IsArchived != nil {
		sess.IsArchived = *patch.IsArchived
	}
	sess.UpdatedAt = s.now()

	return sess.Clone(), true, s.persist()
}

// Rename sets a manual title. Auto-titling never overwrites it afterwards.
func (s *SessionStore) Rename(id, owner, title string) (store.Session, bool, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return store.Session{}, false, ErrInvalidTitle
	}
	manual := true
	return s.UpdateSession(id, owner, SessionPatch{Title: &title, TitleManual: &manual})
}

func (s *SessionStore) UpdateSettings(id, owner string, settings store.AISettings) (store.Session, bool, error) {
	return s.UpdateSession(id, owner, SessionPatch{Settings: &settings})
}

func (s *SessionStore) ArchiveToggle(id, owner string) (store.Session, bool, error) {
	sess, ok := s.Get(id, owner)
	if !ok {
		return store.Session{}, false, nil
	}
	archived := !sess.IsArchived
	return s.UpdateSession(id, owner, SessionPatch{IsArchived: &archived})
}

func (s *SessionStore) TogglePublic(id, owner string) (store.Session, bool, error) {
	sess, ok := s.Get(id, owner)
	if !ok {
		return store.Session{}, false, nil
	}
	public := !sess.IsPublic
	return s.UpdateSession(id, owner, SessionPatch{IsPublic: &public})
}

func (s *SessionStore) DeleteSession(id, owner string) (bool, error) {
	i, ok := s.index(id, owner)
	if !ok {
		return false, nil
	}
	sessions := s.byOwner[owner]
	s.byOwner[owner] = append(sessions[:i:i], sessions[i+1:]...)
	if len(s.byOwner[owner]) == 0 {
		delete(s.byOwner, owner)
	}
	return true, s.persist()
}

// AppendMessage adds msg to the end of the transcript. The first user
// message of a session that was never renamed also sets its title.
func (s *SessionStore) AppendMessage(id, owner string, msg store.Message) (store.Session, bool, error) {
	if msg.Role != store.RoleUser && msg.Role != store.RoleModel {
		return store.Session{}, false, fmt.Errorf("unknown message role %q", msg.Role)
	}
	i, ok := s.index(id, owner)
	if !ok {
		return store.Session{}, false, nil
	}
	sess := &s.byOwner[owner][i]

	if msg.Role == store.RoleUser && !sess.TitleManual && !hasUserMessage(sess.Messages) {
		sess.Title = DeriveTitle(msg.Text)
	}
	sess.Messages = append(sess.Messages, msg)
	sess.UpdatedAt = s.now()
	metrics.MessagesTotal.WithLabelValues(msg.Role).Inc()

	return sess.Clone(), true, s.persist()
}

func hasUserMessage(msgs []store.Message) bool {
	for _, m := range msgs {
		if m.Role == store.RoleUser {
			return true
		}
	}
	return false
}

func (s *SessionStore) index(id, owner string) (int, bool) {
	for i, sess := range s.byOwner[owner] {
		if sess.ID == id {
			return i, true
		}
	}
	return -1, false
}

func (s *SessionStore) exists(id string) bool {
	for owner := range s.byOwner {
		if _, ok := s.index(id, owner); ok {
			return true
		}
	}
	return false
}

func (s *SessionStore) persist() error {
	if err := s.kv.Save(store.KeySessions, s.byOwner); err != nil {
		s.logger.Error("failed to persist chat sessions", zap.Error(err))
		return fmt.Errorf("failed to persist chat sessions: %w", err)
	}
	return nil
}

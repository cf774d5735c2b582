package core

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ahmadiii429861-dot/ahm-ai/internal/store"
	"github.com/ahmadiii429861-dot/ahm-ai/pkg/logger"
)

const missingCredentialBanner = "No API key is configured for the language model. " +
	"Set it in the environment or .env file and restart to enable chatting."

// Status is the credential banner state shown above the transcript.
type Status struct {
	CredentialMissing bool   `json:"credentialMissing"`
	Banner            string `json:"banner,omitempty"`
	SendDisabled      bool   `json:"sendDisabled"`
	Provider          string `json:"provider,omitempty"`
}

// SessionSummary is a session list entry without the transcript.
type SessionSummary struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	IsPublic     bool   `json:"isPublic"`
	IsArchived   bool   `json:"isArchived"`
	MessageCount int    `json:"messageCount"`
	InFlight     bool   `json:"inFlight"`
}

// State is everything the presentation layer needs to render the app.
type State struct {
	User            store.UserProfile `json:"user"`
	IsGuest         bool              `json:"isGuest"`
	Sessions        []SessionSummary  `json:"sessions"`
	ActiveSessionID string            `json:"activeSessionId,omitempty"`
	ActiveSession   *store.Session    `json:"activeSession,omitempty"`
	ShowArchived    bool              `json:"showArchived"`
	Settings        store.AISettings  `json:"settings"`
	Models          []string          `json:"models"`
	Modes           []string          `json:"intelligentModes"`
	Status          Status            `json:"status"`
}

// DirectoryEntry is one profile in the user directory.
type DirectoryEntry struct {
	Profile        store.UserProfile `json:"profile"`
	PublicSessions []SessionSummary  `json:"publicSessions"`
}

// ShareLink is a share URL plus its raw blob.
type ShareLink struct {
	URL  string `json:"url"`
	Blob string `json:"blob"`
}

// App is the explicit application state. mu serialises every transition;
// only the completion call in Send runs without it.
type App struct {
	mu sync.Mutex

	kv         KeyValueStore
	identities *IdentityStore
	sessions   *SessionStore
	completion *CompletionService
	logger     *logger.Logger
	baseURL    string

	settings        store.AISettings
	activeSessionID string
	showArchived    bool
	inFlight        map[string]bool
}

// NewApp loads persisted state from kv. completion may wrap a nil client,
// in which case sending is disabled.
func NewApp(kv KeyValueStore, completion *CompletionService, baseURL string, log *logger.Logger) *App {
	if log == nil {
		log = logger.Global()
	}
	if completion == nil {
		completion = NewCompletionService(nil, 0, log)
	}

	settings := store.DefaultAISettings()
	if !kv.Load(store.KeySettings, &settings) {
		settings = store.DefaultAISettings()
	}

	a := &App{
		kv:         kv,
		identities: NewIdentityStore(kv, log),
		sessions:   NewSessionStore(kv, log),
		completion: completion,
		logger:     log,
		baseURL:    baseURL,
		settings:   settings,
		inFlight:   make(map[string]bool),
	}

	a.mu.Lock()
	a.ensureActiveLocked()
	a.mu.Unlock()

	if !completion.Available() {
		log.Warn("completion credential missing, sending disabled")
	}
	return a
}

func (a *App) Status() Status {
	return a.statusOf(a.completion)
}

func (a *App) statusOf(c *CompletionService) Status {
	if !c.Available() {
		return Status{CredentialMissing: true, Banner: missingCredentialBanner, SendDisabled: true}
	}
	return Status{Provider: c.Provider()}
}

func (a *App) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stateLocked()
}

func (a *App) stateLocked() State {
	user := a.identities.Current()
	st := State{
		User:         user,
		IsGuest:      user.IsGuest(),
		Sessions:     []SessionSummary{},
		ShowArchived: a.showArchived,
		Settings:     a.settings,
		Models:       a.completion.Models(),
		Modes:        IntelligentModes(),
		Status:       a.statusOf(a.completion),
	}
	if user.IsGuest() {
		return st
	}
	for _, sess := range a.visibleLocked() {
		st.Sessions = append(st.Sessions, a.summarize(sess))
	}
	if sess, ok := a.sessions.Get(a.activeSessionID, user.ID); ok {
		st.ActiveSessionID = sess.ID
		st.ActiveSession = &sess
	}
	return st
}

func (a *App) summarize(sess store.Session) SessionSummary {
	return SessionSummary{
		ID:           sess.ID,
		Title:        sess.Title,
		IsPublic:     sess.IsPublic,
		IsArchived:   sess.IsArchived,
		MessageCount: len(sess.Messages),
		InFlight:     a.inFlight[sess.ID],
	}
}

// ensureActiveLocked keeps activeSessionID pointing at an existing session of
// the current owner: the first non-archived one, else a fresh one.
func (a *App) ensureActiveLocked() {
	user := a.identities.Current()
	if user.IsGuest() {
		a.activeSessionID = ""
		return
	}
	if _, ok := a.sessions.Get(a.activeSessionID, user.ID); ok {
		return
	}
	for _, sess := range a.sessions.List(user.ID) {
		if !sess.IsArchived {
			a.activeSessionID = sess.ID
			return
		}
	}

	fresh := a.sessions.NewSession(user.ID, a.settings)
	if err := a.sessions.AddSession(fresh); err != nil {
		a.logger.Error("failed to persist new chat", zap.Error(err))
	}
	a.activeSessionID = fresh.ID
}

func (a *App) visibleLocked() []store.Session {
	var out []store.Session
	for _, sess := range a.sessions.List(a.identities.Current().ID) {
		if !sess.IsArchived || a.showArchived || sess.ID == a.activeSessionID {
			out = append(out, sess)
		}
	}
	return out
}

// VisibleSessions hides archived sessions unless showArchived is on. The
// active session is always listed.
func (a *App) VisibleSessions() []store.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.visibleLocked()
}

func (a *App) ActiveSessionID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.activeSessionID
}

func (a *App) CurrentUser() store.UserProfile {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.identities.Current()
}

// Login registers username if unknown and makes it the current profile.
func (a *App) Login(username string, verified bool) (store.UserProfile, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	profile, created, err := a.identities.RegisterOrLogin(username, verified)
	if err != nil {
		return store.UserProfile{}, false, err
	}
	a.activeSessionID = ""
	a.ensureActiveLocked()
	return profile, created, nil
}

func (a *App) Logout() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.identities.Logout()
	a.activeSessionID = ""
}

func (a *App) UpdateProfile(username string, verified bool) (store.UserProfile, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	current, err := a.currentOwnerLocked()
	if err != nil {
		return store.UserProfile{}, err
	}
	current.Username = username
	current.IsVerified = verified
	return a.identities.UpdateProfile(current)
}

// SetProfilePicture stores dataURL on the current profile. An empty value
// clears it.
func (a *App) SetProfilePicture(dataURL string) (store.UserProfile, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	current, err := a.currentOwnerLocked()
	if err != nil {
		return store.UserProfile{}, err
	}
	current.ProfilePicture = dataURL
	return a.identities.UpdateProfile(current)
}

func (a *App) currentOwnerLocked() (store.UserProfile, error) {
	current := a.identities.Current()
	if current.IsGuest() {
		return store.UserProfile{}, ErrLoginRequired
	}
	return current, nil
}

// Directory lists every known profile with its public sessions.
func (a *App) Directory() []DirectoryEntry {
	a.mu.Lock()
	defer a.mu.Unlock()

	users := a.identities.Users()
	out := make([]DirectoryEntry, 0, len(users))
	for _, u := range users {
		entry := DirectoryEntry{Profile: u, PublicSessions: []SessionSummary{}}
		for _, sess := range a.sessions.PublicSessions(u.ID) {
			entry.PublicSessions = append(entry.PublicSessions, a.summarize(sess))
		}
		out = append(out, entry)
	}
	return out
}

// PublicSession returns a read-only copy of another profile's public session.
func (a *App) PublicSession(ownerID, sessionID string) (SharedChat, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	sess, ok := a.sessions.Get(sessionID, ownerID)
	if !ok || !sess.IsPublic {
		return SharedChat{}, ErrSessionNotFound
	}
	return SharedChat{Title: sess.Title, Messages: sess.Messages}, nil
}

func (a *App) NewChat() (store.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	current, err := a.currentOwnerLocked()
	if err != nil {
		return store.Session{}, err
	}
	sess := a.sessions.NewSession(current.ID, a.settings)
	if err := a.sessions.AddSession(sess); err != nil {
		return store.Session{}, err
	}
	a.activeSessionID = sess.ID
	a.logger.Info("chat created", zap.String("user_id", current.ID), zap.String("session_id", sess.ID))
	return sess, nil
}

func (a *App) Session(id string) (store.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionLocked(id)
}

func (a *App) sessionLocked(id string) (store.Session, error) {
	current, err := a.currentOwnerLocked()
	if err != nil {
		return store.Session{}, err
	}
	sess, ok := a.sessions.Get(id, current.ID)
	if !ok {
		return store.Session{}, ErrSessionNotFound
	}
	return sess, nil
}

func (a *App) SelectSession(id string) (store.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	sess, err := a.sessionLocked(id)
	if err != nil {
		return store.Session{}, err
	}
	a.activeSessionID = sess.ID
	return sess, nil
}

func (a *App) Rename(id, title string) (store.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	current, err := a.currentOwnerLocked()
	if err != nil {
		return store.Session{}, err
	}
	sess, ok, err := a.sessions.Rename(id, current.ID, title)
	return checkFound(sess, ok, err)
}

func (a *App) SetPublic(id string, public bool) (store.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	current, err := a.currentOwnerLocked()
	if err != nil {
		return store.Session{}, err
	}
	sess, ok, err := a.sessions.UpdateSession(id, current.ID, SessionPatch{IsPublic: &public})
	return checkFound(sess, ok, err)
}

func (a *App) TogglePublic(id string) (store.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	current, err := a.currentOwnerLocked()
	if err != nil {
		return store.Session{}, err
	}
	sess, ok, err := a.sessions.TogglePublic(id, current.ID)
	return checkFound(sess, ok, err)
}

// DeleteSession removes the session. Deleting the active one selects a
// replacement.
func (a *App) DeleteSession(id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	current, err := a.currentOwnerLocked()
	if err != nil {
		return err
	}
	ok, err := a.sessions.DeleteSession(id, current.ID)
	if !ok {
		return ErrSessionNotFound
	}
	if id == a.activeSessionID {
		a.activeSessionID = ""
		a.ensureActiveLocked()
	}
	return err
}

// ToggleArchive flips the archived flag. Archiving the active session while
// archived sessions are hidden selects a replacement.
func (a *App) ToggleArchive(id string) (store.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	current, err := a.currentOwnerLocked()
	if err != nil {
		return store.Session{}, err
	}
	sess, ok, err := a.sessions.ArchiveToggle(id, current.ID)
	if !ok {
		return store.Session{}, ErrSessionNotFound
	}
	if sess.IsArchived && id == a.activeSessionID && !a.showArchived {
		a.activeSessionID = ""
		a.ensureActiveLocked()
	}
	return sess, err
}

func (a *App) SetShowArchived(show bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.showArchived = show
}

func (a *App) Settings() store.AISettings {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.settings
}

// UpdateGlobalSettings saves the default settings and snapshots them into the
// active session.
func (a *App) UpdateGlobalSettings(settings store.AISettings) (store.AISettings, error) {
	settings, err := normalizeSettings(settings)
	if err != nil {
		return store.AISettings{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.settings = settings
	if err := a.kv.Save(store.KeySettings, settings); err != nil {
		a.logger.Error("failed to persist settings", zap.Error(err))
		return settings, fmt.Errorf("failed to persist settings: %w", err)
	}

	current := a.identities.Current()
	if !current.IsGuest() && a.activeSessionID != "" {
		if _, _, err := a.sessions.UpdateSettings(a.activeSessionID, current.ID, settings); err != nil {
			return settings, err
		}
	}
	return settings, nil
}

func (a *App) UpdateSessionSettings(id string, settings store.AISettings) (store.Session, error) {
	settings, err := normalizeSettings(settings)
	if err != nil {
		return store.Session{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	current, err := a.currentOwnerLocked()
	if err != nil {
		return store.Session{}, err
	}
	sess, ok, err := a.sessions.UpdateSettings(id, current.ID, settings)
	return checkFound(sess, ok, err)
}

func normalizeSettings(s store.AISettings) (store.AISettings, error) {
	s.Model = strings.TrimSpace(s.Model)
	if s.Model == "" {
		s.Model = store.DefaultModel
	}
	if s.IntelligentMode == "" {
		s.IntelligentMode = store.DefaultAISettings().IntelligentMode
	}
	if _, ok := personas[s.IntelligentMode]; !ok {
		return s, fmt.Errorf("unknown intelligent mode %q: %w", s.IntelligentMode, ErrInvalidSettings)
	}
	if s.Temperature < 0 || s.Temperature > 2 {
		return s, fmt.Errorf("temperature %v out of range [0, 2]: %w", s.Temperature, ErrInvalidSettings)
	}
	if s.TopP < 0 || s.TopP > 1 {
		return s, fmt.Errorf("topP %v out of range [0, 1]: %w", s.TopP, ErrInvalidSettings)
	}
	if s.TopK < 0 {
		return s, fmt.Errorf("topK %d is negative: %w", s.TopK, ErrInvalidSettings)
	}
	return s, nil
}

// Send appends text as a user message, asks the model and appends its reply
// to the same session. The call is not cancelled when ctx is: the reply lands
// in its originating session even if the user moved on meanwhile.
func (a *App) Send(ctx context.Context, sessionID, text string) (store.Message, error) {
	if strings.TrimSpace(text) == "" {
		return store.Message{}, ErrEmptyMessage
	}

	a.mu.Lock()
	if !a.completion.Available() {
		a.mu.Unlock()
		return store.Message{}, ErrSendDisabled
	}
	current, err := a.currentOwnerLocked()
	if err != nil {
		a.mu.Unlock()
		return store.Message{}, err
	}
	if a.inFlight[sessionID] {
		a.mu.Unlock()
		return store.Message{}, ErrRequestInFlight
	}
	sess, ok, err := a.sessions.AppendMessage(sessionID, current.ID, store.Message{Role: store.RoleUser, Text: text})
	if !ok {
		a.mu.Unlock()
		return store.Message{}, ErrSessionNotFound
	}
	if err != nil {
		a.logger.Warn("user message kept in memory only", zap.String("session_id", sessionID), zap.Error(err))
	}
	a.inFlight[sessionID] = true
	a.mu.Unlock()

	reply := a.completion.Reply(context.WithoutCancel(ctx), sess.Messages, sess.Settings)

	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.inFlight, sessionID)

	if _, ok, err := a.sessions.AppendMessage(sessionID, current.ID, reply); !ok {
		a.logger.Info("chat removed before reply arrived", zap.String("session_id", sessionID))
	} else if err != nil {
		a.logger.Warn("model reply kept in memory only", zap.String("session_id", sessionID), zap.Error(err))
	}
	return reply, nil
}

// InFlight reports whether a completion for sessionID is outstanding.
func (a *App) InFlight(sessionID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inFlight[sessionID]
}

// Share encodes one of the current profile's sessions as a share link.
func (a *App) Share(id string) (ShareLink, error) {
	a.mu.Lock()
	sess, err := a.sessionLocked(id)
	a.mu.Unlock()
	if err != nil {
		return ShareLink{}, err
	}

	blob, err := EncodeShare(sess.Title, sess.Messages)
	if err != nil {
		return ShareLink{}, err
	}
	return ShareLink{URL: ShareURL(a.baseURL, blob), Blob: blob}, nil
}

func checkFound(sess store.Session, ok bool, err error) (store.Session, error) {
	if err != nil && !ok {
		return store.Session{}, err
	}
	if !ok {
		return store.Session{}, ErrSessionNotFound
	}
	return sess, err
}

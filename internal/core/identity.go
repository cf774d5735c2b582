package core

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ahmadiii429861-dot/ahm-ai/internal/store"
	"github.com/ahmadiii429861-dot/ahm-ai/pkg/logger"
)

// IdentityStore owns the roster of locally known profiles and the current
// pointer. There are no passwords: knowing a username is enough to become
// that user. It is not safe for concurrent use; App serialises access.
type IdentityStore struct {
	kv      KeyValueStore
	logger  *logger.Logger
	roster  []store.UserProfile
	current store.UserProfile
}

func NewIdentityStore(kv KeyValueStore, log *logger.Logger) *IdentityStore {
	s := &IdentityStore{kv: kv, logger: log, current: store.GuestProfile}

	if !kv.Load(store.KeyUsers, &s.roster) {
		s.roster = nil
	}

	var current store.UserProfile
	if kv.Load(store.KeyCurrentUser, &current) && current.ID != "" && !current.IsGuest() {
		s.restoreCurrent(current)
	}
	return s
}

// restoreCurrent reconciles the persisted pointer with the roster. The roster
// entry wins when the IDs match; an unknown pointer is adopted only if its
// username is still free.
func (s *IdentityStore) restoreCurrent(pointer store.UserProfile) {
	if i, ok := s.indexByID(pointer.ID); ok {
		s.current = s.roster[i]
		if s.current != pointer {
			s.persistCurrent()
		}
		return
	}
	if err := s.checkUsername(pointer.Username, pointer.ID); err != nil {
		s.logger.Warn("discarding current user pointer", zap.String("user_id", pointer.ID), zap.Error(err))
		s.persistCurrent()
		return
	}
	s.roster = append(s.roster, pointer)
	s.persistRoster()
	s.current = pointer
}

func (s *IdentityStore) Current() store.UserProfile {
	return s.current
}

func (s *IdentityStore) IsGuest() bool {
	return s.current.IsGuest()
}

// Users returns a copy of the roster ordered by username.
func (s *IdentityStore) Users() []store.UserProfile {
	users := append([]store.UserProfile(nil), s.roster...)
	sort.SliceStable(users, func(i, j int) bool {
		return strings.ToLower(users[i].Username) < strings.ToLower(users[j].Username)
	})
	return users
}

func (s *IdentityStore) Lookup(id string) (store.UserProfile, bool) {
	i, ok := s.indexByID(id)
	if !ok {
		return store.UserProfile{}, false
	}
	return s.roster[i], true
}

// Login makes profile current, adding it to the roster if unknown.
func (s *IdentityStore) Login(profile store.UserProfile) error {
	if profile.IsGuest() {
		s.Logout()
		return nil
	}
	if profile.ID == "" {
		return fmt.Errorf("login: %w", ErrProfileNotFound)
	}

	if i, ok := s.indexByID(profile.ID); ok {
		profile = s.roster[i]
	} else {
		if err := s.checkUsername(profile.Username, profile.ID); err != nil {
			return err
		}
		s.roster = append(s.roster, profile)
		s.persistRoster()
	}

	s.current = profile
	s.persistCurrent()
	s.logger.Info("profile logged in", zap.String("user_id", profile.ID), zap.String("username", profile.Username))
	return nil
}

// Logout resets to guest. It reports false when already guest.
func (s *IdentityStore) Logout() bool {
	if s.current.IsGuest() {
		return false
	}
	s.logger.Info("profile logged out", zap.String("user_id", s.current.ID))
	s.current = store.GuestProfile
	s.persistCurrent()
	return true
}

// RegisterOrLogin logs in as the profile whose username matches
// case-insensitively, or creates one. The verified flag only applies to
// newly created profiles.
func (s *IdentityStore) RegisterOrLogin(username string, verified bool) (store.UserProfile, bool, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return store.UserProfile{}, false, ErrInvalidUsername
	}

	if i, ok := s.indexByUsername(username); ok {
		existing := s.roster[i]
		return existing, false, s.Login(existing)
	}

	profile := store.UserProfile{
		ID:         uuid.NewString(),
		Username:   username,
		IsVerified: verified,
	}
	if err := s.Login(profile); err != nil {
		return store.UserProfile{}, false, err
	}
	return profile, true, nil
}

// UpdateProfile upserts by ID and refreshes the current pointer when it is
// the current profile.
func (s *IdentityStore) UpdateProfile(profile store.UserProfile) (store.UserProfile, error) {
	if profile.ID == "" || profile.IsGuest() {
		return store.UserProfile{}, ErrProfileNotFound
	}
	profile.Username = strings.TrimSpace(profile.Username)
	if profile.Username == "" {
		return store.UserProfile{}, ErrInvalidUsername
	}
	if err := s.checkUsername(profile.Username, profile.ID); err != nil {
		return store.UserProfile{}, err
	}

	if i, ok := s.indexByID(profile.ID); ok {
		s.roster[i] = profile
	} else {
		s.roster = append(s.roster, profile)
	}
	s.persistRoster()

	if s.current.ID == profile.ID {
		s.current = profile
		s.persistCurrent()
	}
	return profile, nil
}

func (s *IdentityStore) checkUsername(username, ownID string) error {
	if i, ok := s.indexByUsername(username); ok && s.roster[i].ID != ownID {
		return fmt.Errorf("%q: %w", username, ErrUsernameTaken)
	}
	return nil
}

func (s *IdentityStore) indexByID(id string) (int, bool) {
	for i, p := range s.roster {
		if p.ID == id {
			return i, true
		}
	}
	return -1, false
}

func (s *IdentityStore) indexByUsername(username string) (int, bool) {
	for i, p := range s.roster {
		if strings.EqualFold(p.Username, username) {
			return i, true
		}
	}
	return -1, false
}

func (s *IdentityStore) persistRoster() {
	if err := s.kv.Save(store.KeyUsers, s.roster); err != nil {
		s.logger.Error("failed to persist user roster", zap.Error(err))
	}
}

func (s *IdentityStore) persistCurrent() {
	var err error
	if s.current.IsGuest() {
		err = s.kv.Remove(store.KeyCurrentUser)
	} else {
		err = s.kv.Save(store.KeyCurrentUser, s.current)
	}
	if err != nil {
		s.logger.Error("failed to persist current user", zap.Error(err))
	}
}

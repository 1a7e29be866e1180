package workflow

import (
	"sync"
	"time"

	"archviz-studio/internal/canvas"
	"archviz-studio/internal/prompt"
)

type Store struct {
	mu          sync.Mutex
	m           map[stateKey]*Tab
	defaultKind prompt.Kind
}

type stateKey struct {
	ChatID int64
	UserID int64
}

func NewStore(defaultKind prompt.Kind) *Store {
	if !defaultKind.Valid() {
		defaultKind = prompt.KindExterior
	}
	return &Store{m: make(map[stateKey]*Tab), defaultKind: defaultKind}
}

func (s *Store) Get(chatID, userID int64) Tab {
	s.mu.Lock()
	defer s.mu.Unlock()

	return snapshot(s.getOrCreateLocked(chatID, userID))
}

// Apply runs fn on a copy of the tab and stores the copy only if fn succeeds,
// so a rejected transition leaves the stored tab unchanged.
func (s *Store) Apply(chatID, userID int64, fn func(*Tab) error) (Tab, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.getOrCreateLocked(chatID, userID)
	next := snapshot(st)
	if err := fn(&next); err != nil {
		return snapshot(st), err
	}
	next.UpdatedAt = time.Now()
	*st = next
	return snapshot(st), nil
}

// SwitchKind starts a fresh tab for kind.
func (s *Store) SwitchKind(chatID, userID int64, kind prompt.Kind) Tab {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.getOrCreateLocked(chatID, userID)
	*st = NewTab(kind)
	return snapshot(st)
}

func (s *Store) Reset(chatID, userID int64) Tab {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.getOrCreateLocked(chatID, userID)
	st.Reset()
	return snapshot(st)
}

func (s *Store) getOrCreateLocked(chatID, userID int64) *Tab {
	key := stateKey{ChatID: chatID, UserID: userID}
	if st, ok := s.m[key]; ok {
		return st
	}
	st := NewTab(s.defaultKind)
	s.m[key] = &st
	return s.m[key]
}

func snapshot(t *Tab) Tab {
	out := *t
	out.Results = append([]canvas.EncodedImage(nil), t.Results...)
	return out
}

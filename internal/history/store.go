package history

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"archviz-studio/internal/canvas"
)

type Entry struct {
	ID          string
	Kind        string
	Prompt      string
	AspectRatio canvas.AspectRatio
	Images      []canvas.EncodedImage
	CreatedAt   time.Time
}

type Options struct {
	MaxEntries int
	TTL        time.Duration
}

// Store keeps the most recent generations per session. A session expires
// TTL after its last append.
type Store struct {
	mu         sync.Mutex
	cache      *cache.Cache
	maxEntries int
	ttl        time.Duration
}

func NewStore(opts Options) *Store {
	maxEntries := opts.MaxEntries
	if maxEntries <= 0 {
		maxEntries = 20
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	return &Store{
		cache:      cache.New(ttl, ttl/2),
		maxEntries: maxEntries,
		ttl:        ttl,
	}
}

func (s *Store) Append(session string, entries ...Entry) {
	if session == "" || len(entries) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.listLocked(session)
	for _, e := range entries {
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now()
		}
		list = append(list, e)
	}
	if len(list) > s.maxEntries {
		list = list[len(list)-s.maxEntries:]
	}
	s.cache.Set(session, list, s.ttl)
}

// Snapshot returns the session's entries, oldest first.
func (s *Store) Snapshot(session string) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.listLocked(session)
	out := make([]Entry, len(list))
	copy(out, list)
	return out
}

func (s *Store) Last(session string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.listLocked(session)
	if len(list) == 0 {
		return Entry{}, false
	}
	return list[len(list)-1], true
}

func (s *Store) Clear(session string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache.Delete(session)
}

func (s *Store) Sessions() int {
	return s.cache.ItemCount()
}

func (s *Store) listLocked(session string) []Entry {
	v, ok := s.cache.Get(session)
	if !ok {
		return nil
	}
	list, _ := v.([]Entry)
	return list
}

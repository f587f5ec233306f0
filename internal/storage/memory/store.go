package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/numberwatch/internal/watch"
)

// Store implements the watch repositories in-memory.
type Store struct {
	mu            sync.RWMutex
	now           func() time.Time
	nextID        int64
	sources       []watch.Source
	infoNumbers   []watch.InfoNumber
	watches       []watch.UserNumber
	notifications map[int64]watch.NotificationSettings
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		now:           func() time.Time { return time.Now().UTC() },
		notifications: make(map[int64]watch.NotificationSettings),
	}
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

// FindSourceByURL returns the Source stored under url.
func (s *Store) FindSourceByURL(_ context.Context, url string) (watch.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, src := range s.sources {
		if src.URL == url {
			return src, nil
		}
	}
	return watch.Source{}, watch.ErrNotFound
}

// CreateSource stores source and fills its ID and timestamps.
func (s *Store) CreateSource(_ context.Context, source *watch.Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, src := range s.sources {
		if src.URL == source.URL {
			return fmt.Errorf("create source %s: %w", source.URL, watch.ErrDuplicateSource)
		}
	}
	now := s.now()
	source.ID = s.id()
	if source.State == "" {
		source.State = watch.SourceStateOK
	}
	source.CreatedAt = now
	source.UpdatedAt = now
	s.sources = append(s.sources, *source)
	return nil
}

// UpdateSourceState sets the state of the Source with the given id.
func (s *Store) UpdateSourceState(_ context.Context, id int64, state watch.SourceState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	src := s.source(id)
	if src == nil {
		return watch.ErrNotFound
	}
	src.State = state
	src.UpdatedAt = s.now()
	return nil
}

// NextPendingSource returns the oldest unprocessed Source in state OK.
func (s *Store) NextPendingSource(_ context.Context) (watch.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, src := range s.sources {
		if src.Pending() {
			return src, nil
		}
	}
	return watch.Source{}, watch.ErrNotFound
}

// MarkSourceInvalid flags the Source as INVALID_PDF and processed.
func (s *Store) MarkSourceInvalid(_ context.Context, id int64, processedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	src := s.source(id)
	if src == nil {
		return watch.ErrNotFound
	}
	src.State = watch.SourceStateInvalidPDF
	src.ProcessedAt = &processedAt
	src.UpdatedAt = s.now()
	return nil
}

// SaveParsedNumbers stores numbers for the Source and marks it processed.
func (s *Store) SaveParsedNumbers(
	_ context.Context,
	sourceID int64,
	numbers []watch.InfoNumber,
	processedAt time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	src := s.source(sourceID)
	if src == nil {
		return watch.ErrNotFound
	}
	now := s.now()
	for _, n := range numbers {
		n.ID = s.id()
		n.SourceID = sourceID
		n.CreatedAt = now
		s.infoNumbers = append(s.infoNumbers, n)
	}
	src.ProcessedAt = &processedAt
	src.UpdatedAt = now
	return nil
}

// FindInfoNumber returns the first InfoNumber with the given number and year.
func (s *Store) FindInfoNumber(_ context.Context, number int64, year int) (watch.InfoNumber, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, n := range s.infoNumbers {
		if n.Number == number && n.Year == year {
			return n, nil
		}
	}
	return watch.InfoNumber{}, watch.ErrNotFound
}

// ListPendingWatches returns enabled, unmatched watches, least recently searched first.
func (s *Store) ListPendingWatches(_ context.Context, limit int) ([]watch.UserNumber, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var pending []watch.UserNumber
	for _, w := range s.watches {
		if w.Enabled && w.InfoNumberID == nil {
			pending = append(pending, w)
		}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		a, b := pending[i].SearchAt, pending[j].SearchAt
		switch {
		case a == nil && b == nil:
			return pending[i].ID < pending[j].ID
		case a == nil:
			return true
		case b == nil:
			return false
		case a.Equal(*b):
			return pending[i].ID < pending[j].ID
		default:
			return a.Before(*b)
		}
	})
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

// SaveWatchResults persists search timestamps and matches. Rows already matched are left untouched.
func (s *Store) SaveWatchResults(_ context.Context, watches []watch.UserNumber) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range watches {
		for i := range s.watches {
			stored := &s.watches[i]
			if stored.ID != w.ID || stored.InfoNumberID != nil {
				continue
			}
			stored.SearchAt = w.SearchAt
			stored.InfoNumberID = w.InfoNumberID
		}
	}
	return nil
}

// WatchExists reports whether the user already watches id.
func (s *Store) WatchExists(_ context.Context, userID int64, id watch.Identifier) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, w := range s.watches {
		if w.UserID == userID && w.Identifier == id {
			return true, nil
		}
	}
	return false, nil
}

// CreateWatch stores w and fills its ID and creation time.
func (s *Store) CreateWatch(_ context.Context, w *watch.UserNumber) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w.ID = s.id()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = s.now()
	}
	s.watches = append(s.watches, *w)
	return nil
}

// GetWatch returns the watch with the given id.
func (s *Store) GetWatch(_ context.Context, id int64) (watch.UserNumber, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, w := range s.watches {
		if w.ID == id {
			return w, nil
		}
	}
	return watch.UserNumber{}, watch.ErrNotFound
}

// SetWatchEnabled enables or disables a watch owned by userID.
func (s *Store) SetWatchEnabled(_ context.Context, userID, id int64, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.watches {
		if s.watches[i].ID == id && s.watches[i].UserID == userID {
			s.watches[i].Enabled = enabled
			return nil
		}
	}
	return watch.ErrNotFound
}

// DeleteWatch removes a watch owned by userID.
func (s *Store) DeleteWatch(_ context.Context, userID, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, w := range s.watches {
		if w.ID == id && w.UserID == userID {
			s.watches = append(s.watches[:i], s.watches[i+1:]...)
			return nil
		}
	}
	return watch.ErrNotFound
}

// GetNotificationSettings returns the user's contact settings.
func (s *Store) GetNotificationSettings(_ context.Context, userID int64) (watch.NotificationSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	settings, ok := s.notifications[userID]
	if !ok {
		return watch.NotificationSettings{}, watch.ErrNotFound
	}
	return cloneSettings(settings), nil
}

// SaveNotificationSettings upserts the user's contact settings.
func (s *Store) SaveNotificationSettings(_ context.Context, settings watch.NotificationSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications[settings.UserID] = cloneSettings(settings)
	return nil
}

// Sources returns a snapshot of all stored sources.
func (s *Store) Sources() []watch.Source {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]watch.Source(nil), s.sources...)
}

// InfoNumbers returns a snapshot of all stored numbers.
func (s *Store) InfoNumbers() []watch.InfoNumber {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]watch.InfoNumber(nil), s.infoNumbers...)
}

// Watches returns a snapshot of all stored watches.
func (s *Store) Watches() []watch.UserNumber {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]watch.UserNumber(nil), s.watches...)
}

func (s *Store) source(id int64) *watch.Source {
	for i := range s.sources {
		if s.sources[i].ID == id {
			return &s.sources[i]
		}
	}
	return nil
}

func cloneSettings(in watch.NotificationSettings) watch.NotificationSettings {
	out := in
	if in.Verification != nil {
		v := *in.Verification
		out.Verification = &v
	}
	return out
}

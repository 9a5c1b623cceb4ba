package store

import (
	"context"
	"sync"
	"sync/atomic"

	"tokenpulse/internal/domain/models"
	"tokenpulse/internal/domain/repository"
)

// ScrapeStore is the ScrapeCoordinator/TokenResolver's backing document. Its
// SeenSet is seeded from disk at construction and grown in memory
// thereafter; the (source, link) duplicate-check and insert are always
// paired atomically.
type ScrapeStore struct {
	docs *JSONStore[models.Post]

	seenMu sync.Mutex
	seen   map[models.PostKey]struct{}

	nextID atomic.Int64

	listenerMu sync.RWMutex
	onChange   func()
}

var _ repository.ScrapeStore = (*ScrapeStore)(nil)

// NewScrapeStore opens (or creates) the scrape document at path and seeds
// its SeenSet and monotonic id counter from whatever is already stored.
func NewScrapeStore(path string) (*ScrapeStore, error) {
	docs, err := NewJSONStore[models.Post](path)
	if err != nil {
		return nil, err
	}
	s := &ScrapeStore{docs: docs, seen: make(map[models.PostKey]struct{})}

	existing, err := docs.Read()
	if err != nil {
		return nil, err
	}
	var maxID int64
	for _, p := range existing {
		s.seen[p.Key()] = struct{}{}
		if p.ID > maxID {
			maxID = p.ID
		}
	}
	s.nextID.Store(maxID)
	return s, nil
}

// SetChangeListener registers fn to be called after every successful
// Append or UpdateSymbol. Only the ScrapeStore is watched this way — the
// downstream SentimentStore and CoinStore are deliberately excluded from
// the watched set, breaking the cyclic file-change reference the
// supervisor would otherwise have with its own output.
func (s *ScrapeStore) SetChangeListener(fn func()) {
	s.listenerMu.Lock()
	s.onChange = fn
	s.listenerMu.Unlock()
}

func (s *ScrapeStore) notifyChanged() {
	s.listenerMu.RLock()
	fn := s.onChange
	s.listenerMu.RUnlock()
	if fn != nil {
		fn()
	}
}

// Seen reports whether key has already been recorded.
func (s *ScrapeStore) Seen(key models.PostKey) bool {
	s.seenMu.Lock()
	defer s.seenMu.Unlock()
	_, ok := s.seen[key]
	return ok
}

// Append adds p if its key hasn't been seen, atomically checking and
// marking the SeenSet under the same lock guarding the check. Returns
// false (no error) if p was a duplicate.
func (s *ScrapeStore) Append(ctx context.Context, p models.Post) (bool, error) {
	s.seenMu.Lock()
	key := p.Key()
	if _, ok := s.seen[key]; ok {
		s.seenMu.Unlock()
		return false, nil
	}
	s.seen[key] = struct{}{}
	s.seenMu.Unlock()

	err := s.docs.Update(func(current []models.Post) ([]models.Post, error) {
		return MergeScrapeRecord(current, p), nil
	})
	if err != nil {
		// Roll back the SeenSet entry so a retried append isn't
		// permanently treated as a duplicate.
		s.seenMu.Lock()
		delete(s.seen, key)
		s.seenMu.Unlock()
		return false, err
	}
	s.notifyChanged()
	return true, nil
}

// UpdateSymbol performs the read-modify-write that attaches a resolved
// token symbol to an already-stored post.
func (s *ScrapeStore) UpdateSymbol(ctx context.Context, postID int64, symbol string) error {
	err := s.docs.Update(func(current []models.Post) ([]models.Post, error) {
		for i := range current {
			if current[i].ID == postID {
				current[i].TokenSymbol = symbol
				break
			}
		}
		return current, nil
	})
	if err == nil {
		s.notifyChanged()
	}
	return err
}

// Reset overwrites the store with an empty array and clears the in-memory
// SeenSet, used by /api/scraper/start.
func (s *ScrapeStore) Reset(ctx context.Context) error {
	s.seenMu.Lock()
	s.seen = make(map[models.PostKey]struct{})
	s.seenMu.Unlock()
	return s.docs.Write(nil)
}

// All returns every stored post.
func (s *ScrapeStore) All(ctx context.Context) ([]models.Post, error) {
	return s.docs.Read()
}

// NextID returns the next process-wide monotonic post id.
func (s *ScrapeStore) NextID() int64 {
	return s.nextID.Add(1)
}

// Snapshot satisfies ws.SnapshotSource: the posts a freshly connected
// duplex-channel client receives before any live events. A read failure
// yields an empty snapshot rather than blocking the handshake.
func (s *ScrapeStore) Snapshot() []models.Post {
	posts, err := s.docs.Read()
	if err != nil {
		return nil
	}
	return posts
}

// MergeScrapeRecord implements the ScrapeStore merge rule: dedupe by
// (source, link); on a duplicate, keep the existing record but upgrade its
// tokenSymbol/comments from the incoming record if the existing ones are
// empty.
func MergeScrapeRecord(current []models.Post, incoming models.Post) []models.Post {
	key := incoming.Key()
	for i := range current {
		if current[i].Key() != key {
			continue
		}
		if current[i].TokenSymbol == "" && incoming.TokenSymbol != "" {
			current[i].TokenSymbol = incoming.TokenSymbol
		}
		if len(current[i].Comments) == 0 && len(incoming.Comments) > 0 {
			current[i].Comments = incoming.Comments
		}
		return current
	}
	return append(current, incoming)
}

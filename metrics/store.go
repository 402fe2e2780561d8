package metrics

import (
	"sync"
	"time"
)

// Store is an in-memory Recorder that keeps a circular history of finished
// generations and running aggregates. Events other than GenerationFinished and
// reconnects are ignored.
//
// Usage:
//
//	store := NewStore(DefaultStoreConfig())
//	rec := Multi(NewPrometheus(nil), store)
//	// ...
//	summary := store.Summary()
type Store struct {
	mu sync.RWMutex

	history []GenerationRecord // Circular buffer of recent generations
	cap     int                // Maximum records to retain
	head    int                // Write index
	size    int                // Current number of records

	total      int64
	done       int64
	errors     int64
	abandoned  int64
	connects   int64
	byExecutor map[string]*executorStats
}

type executorStats struct {
	count         int64
	doneCount     int64
	totalDuration time.Duration
}

// StoreConfig configures the Store behavior.
type StoreConfig struct {
	// HistoryCapacity is the max number of generations to retain in history
	HistoryCapacity int
}

// DefaultStoreConfig returns a default configuration.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{HistoryCapacity: 100}
}

// NewStore creates a Store with the specified configuration.
func NewStore(config StoreConfig) *Store {
	capacity := config.HistoryCapacity
	if capacity < 1 {
		capacity = 100
	}
	return &Store{
		history:    make([]GenerationRecord, capacity),
		cap:        capacity,
		byExecutor: make(map[string]*executorStats),
	}
}

// GenerationFinished appends rec to the history and updates aggregates.
func (s *Store) GenerationFinished(rec GenerationRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history[s.head] = rec
	s.head = (s.head + 1) % s.cap
	if s.size < s.cap {
		s.size++
	}

	s.total++
	switch rec.Status {
	case "done":
		s.done++
	case "error":
		s.errors++
	default:
		s.abandoned++
	}

	stats, ok := s.byExecutor[rec.Executor]
	if !ok {
		stats = &executorStats{}
		s.byExecutor[rec.Executor] = stats
	}
	stats.count++
	if rec.Status == "done" {
		stats.doneCount++
	}
	stats.totalDuration += rec.Duration
}

// ConnectAttempt counts successful connections after the first as reconnects.
func (s *Store) ConnectAttempt(outcome string) {
	if outcome != ConnectOK {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connects++
}

// Summary returns aggregated statistics.
func (s *Store) Summary() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var reconnects int64
	if s.connects > 1 {
		reconnects = s.connects - 1
	}

	sum := Summary{
		Total:      s.total,
		Done:       s.done,
		Errors:     s.errors,
		Abandoned:  s.abandoned,
		Reconnects: reconnects,
		ByExecutor: make(map[string]*ExecutorStat, len(s.byExecutor)),
	}
	for executor, stats := range s.byExecutor {
		stat := &ExecutorStat{Count: stats.count}
		if stats.count > 0 {
			stat.SuccessRate = float64(stats.doneCount) / float64(stats.count) * 100
			stat.AvgDuration = stats.totalDuration / time.Duration(stats.count)
		}
		sum.ByExecutor[executor] = stat
	}
	return sum
}

// Recent returns up to limit most recent records, oldest first.
func (s *Store) Recent(limit int) []GenerationRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || s.size == 0 {
		return []GenerationRecord{}
	}
	if limit > s.size {
		limit = s.size
	}

	result := make([]GenerationRecord, limit)
	for i := 0; i < limit; i++ {
		idx := (s.head - limit + i + s.cap) % s.cap
		result[i] = s.history[idx]
	}
	return result
}

func (s *Store) SetConnectionState(string) {}
func (s *Store) FrameReceived(string)      {}
func (s *Store) RequestSent(string, error) {}
func (s *Store) Submitted(string)          {}
func (s *Store) PendingChanged(int)        {}
func (s *Store) HandlerFailed(string)      {}

var _ Recorder = (*Store)(nil)

package output

import (
	"github.com/aldas/go-isobus-client"
	"sort"
	"sync"
	"sync/atomic"
)

// Entry is latest decoded message of single PGN and source
type Entry struct {
	PGN          uint32             `json:"pgn"`
	Source       uint8              `json:"source"`
	Timestamp    float64            `json:"timestamp"`
	SignalValues map[string]float64 `json:"signal_values"`
	// Count is number of messages received for the key
	Count uint64 `json:"count"`
}

// Stats are reader counters
type Stats struct {
	Frames   uint64 `json:"frames"`
	Messages uint64 `json:"messages"`
	Errors   uint64 `json:"errors"`
	Keys     int    `json:"keys"`
}

// Store keeps latest decoded values for every PGN and source. It is safe for concurrent use.
type Store struct {
	frames uint64
	errors uint64

	lock    sync.RWMutex
	entries map[isobus.Key]*Entry
	total   uint64
}

// NewStore creates empty store
func NewStore() *Store {
	return &Store{entries: map[isobus.Key]*Entry{}}
}

// Write stores message values as latest values for its key
func (s *Store) Write(msg isobus.Message) error {
	values := make(map[string]float64, len(msg.SignalValues))
	for k, v := range msg.SignalValues {
		values[k] = v
	}
	key := isobus.Key{PGN: msg.PGN, Source: msg.Info.Source}

	s.lock.Lock()
	defer s.lock.Unlock()

	e, ok := s.entries[key]
	if !ok {
		e = &Entry{PGN: key.PGN, Source: key.Source}
		s.entries[key] = e
	}
	e.Timestamp = msg.Info.Timestamp
	e.SignalValues = values
	e.Count++
	s.total++
	return nil
}

// FrameRead increments read frame counter
func (s *Store) FrameRead() {
	atomic.AddUint64(&s.frames, 1)
}

// DecodeFailed increments error counter
func (s *Store) DecodeFailed() {
	atomic.AddUint64(&s.errors, 1)
}

// Entries returns copy of latest entries ordered by PGN and source
func (s *Store) Entries() []Entry {
	s.lock.RLock()
	defer s.lock.RUnlock()

	result := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		result = append(result, e.copy())
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].PGN == result[j].PGN {
			return result[i].Source < result[j].Source
		}
		return result[i].PGN < result[j].PGN
	})
	return result
}

// EntriesByPGN returns latest entries of PGN from all sources ordered by source
func (s *Store) EntriesByPGN(pgn uint32) []Entry {
	all := s.Entries()
	result := make([]Entry, 0, 1)
	for _, e := range all {
		if e.PGN == pgn {
			result = append(result, e)
		}
	}
	return result
}

// Stats returns current counters
func (s *Store) Stats() Stats {
	s.lock.RLock()
	defer s.lock.RUnlock()

	return Stats{
		Frames:   atomic.LoadUint64(&s.frames),
		Messages: s.total,
		Errors:   atomic.LoadUint64(&s.errors),
		Keys:     len(s.entries),
	}
}

func (e *Entry) copy() Entry {
	c := *e
	c.SignalValues = make(map[string]float64, len(e.SignalValues))
	for k, v := range e.SignalValues {
		c.SignalValues[k] = v
	}
	return c
}

// Package history keeps bounded, persisted logs of chat and command records.
//
// Each store owns one whole-file JSON snapshot that is rewritten on every
// mutation (no WAL; record volume is bounded by the configured maximum).
// A missing or corrupt snapshot is treated as empty and never surfaced to
// callers.
package history

import (
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Seigneur-Machiavel/twitch-conn/telemetry"
)

// Record is one stored chat or command line.
type Record struct {
	User string `json:"user"`
	Text string `json:"message"`
}

// Store is a bounded FIFO log of records backed by a snapshot file.
type Store struct {
	mu        sync.Mutex
	path      string
	maxLength int
	records   []Record
	clock     clockwork.Clock

	saveCh chan []byte
	done   chan struct{}
}

// NewStore creates a store persisting to path, keeping at most maxLength
// records. A nil clock uses the real one.
func NewStore(path string, maxLength int, clock clockwork.Clock) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	s := &Store{
		path:      path,
		maxLength: maxLength,
		clock:     clock,
		saveCh:    make(chan []byte, 1),
		done:      make(chan struct{}),
	}
	go s.writeLoop()
	return s
}

// Load reads the persisted snapshot. Any failure logs a warning and leaves
// the store empty; it never returns an error.
func (s *Store) Load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("history: failed to read snapshot", slog.String("path", s.path), slog.Any("err", err))
		}
		return
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		slog.Warn("history: corrupt snapshot, starting empty", slog.String("path", s.path), slog.Any("err", err))
		return
	}
	s.mu.Lock()
	s.records = records
	if len(s.records) > s.maxLength {
		s.records = s.records[len(s.records)-s.maxLength:]
	}
	s.mu.Unlock()
}

// Append adds a record at the tail, evicting the oldest when full, and
// schedules an asynchronous snapshot rewrite (last writer wins).
func (s *Store) Append(rec Record) {
	s.mu.Lock()
	s.records = append(s.records, rec)
	if len(s.records) > s.maxLength {
		s.records = s.records[1:]
	}
	data, err := json.Marshal(s.records)
	s.mu.Unlock()
	if err != nil {
		slog.Error("history: failed to marshal snapshot", slog.Any("err", err))
		return
	}
	s.enqueueSave(data)
}

// Records returns a copy of the current snapshot in arrival order.
func (s *Store) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// Len returns the current number of stored records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Replay schedules a one-shot emission of every currently stored record to
// sink after delay. Repeated calls are independent; callers guard against
// duplicate replays if that matters to them.
func (s *Store) Replay(sink func(Record), delay time.Duration) {
	snapshot := s.Records()
	s.clock.AfterFunc(delay, func() {
		for _, rec := range snapshot {
			sink(rec)
		}
	})
}

// Sync writes the current snapshot synchronously. Used on shutdown.
func (s *Store) Sync() error {
	s.mu.Lock()
	data, err := json.Marshal(s.records)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return writeSnapshot(s.path, data)
}

// Close stops the background writer after flushing any pending snapshot.
func (s *Store) Close() {
	close(s.done)
}

func (s *Store) enqueueSave(data []byte) {
	for {
		select {
		case s.saveCh <- data:
			return
		default:
			// Drop the stale pending snapshot; ours supersedes it.
			select {
			case <-s.saveCh:
			default:
			}
		}
	}
}

func (s *Store) writeLoop() {
	for {
		select {
		case data := <-s.saveCh:
			if err := writeSnapshot(s.path, data); err != nil {
				slog.Error("history: failed to write snapshot", slog.String("path", s.path), slog.Any("err", err))
			}
		case <-s.done:
			// Flush the last pending snapshot, if any.
			select {
			case data := <-s.saveCh:
				if err := writeSnapshot(s.path, data); err != nil {
					slog.Error("history: failed to write snapshot", slog.String("path", s.path), slog.Any("err", err))
				}
			default:
			}
			return
		}
	}
}

func writeSnapshot(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		if telemetry.SnapshotWriteErrors != nil {
			telemetry.SnapshotWriteErrors.Inc()
		}
		return err
	}
	if telemetry.SnapshotWrites != nil {
		telemetry.SnapshotWrites.Inc()
	}
	return nil
}

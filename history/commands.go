package history

import (
	"encoding/json"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// CommandStore keeps one bounded record bucket per command name, persisted
// as a single JSON object snapshot.
type CommandStore struct {
	mu        sync.Mutex
	path      string
	maxLength int
	buckets   map[string][]Record
	clock     clockwork.Clock

	saveCh chan []byte
	done   chan struct{}
}

// NewCommandStore creates a store with one empty bucket per command name.
func NewCommandStore(path string, maxLength int, commands []string, clock clockwork.Clock) *CommandStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	buckets := make(map[string][]Record, len(commands))
	for _, name := range commands {
		buckets[name] = nil
	}
	s := &CommandStore{
		path:      path,
		maxLength: maxLength,
		buckets:   buckets,
		clock:     clock,
		saveCh:    make(chan []byte, 1),
		done:      make(chan struct{}),
	}
	go s.writeLoop()
	return s
}

// Load reads the persisted snapshot. Unknown buckets in the file are kept so
// history survives registry changes; failures leave the store empty.
func (s *CommandStore) Load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("history: failed to read snapshot", slog.String("path", s.path), slog.Any("err", err))
		}
		return
	}
	var buckets map[string][]Record
	if err := json.Unmarshal(data, &buckets); err != nil {
		slog.Warn("history: corrupt snapshot, starting empty", slog.String("path", s.path), slog.Any("err", err))
		return
	}
	s.mu.Lock()
	for name, records := range buckets {
		if len(records) > s.maxLength {
			records = records[len(records)-s.maxLength:]
		}
		s.buckets[name] = records
	}
	s.mu.Unlock()
}

// Append adds a record to the named bucket, evicting its oldest entry when
// full, and schedules an asynchronous snapshot rewrite.
func (s *CommandStore) Append(command string, rec Record) {
	s.mu.Lock()
	bucket := append(s.buckets[command], rec)
	if len(bucket) > s.maxLength {
		bucket = bucket[1:]
	}
	s.buckets[command] = bucket
	data, err := json.Marshal(s.buckets)
	s.mu.Unlock()
	if err != nil {
		slog.Error("history: failed to marshal snapshot", slog.Any("err", err))
		return
	}
	s.enqueueSave(data)
}

// Records returns a copy of the named bucket.
func (s *CommandStore) Records(command string) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket := s.buckets[command]
	out := make([]Record, len(bucket))
	copy(out, bucket)
	return out
}

// Replay schedules a one-shot emission of every stored command record to
// sink after delay, bucket by bucket in command name order.
func (s *CommandStore) Replay(sink func(Record), delay time.Duration) {
	s.mu.Lock()
	names := make([]string, 0, len(s.buckets))
	for name := range s.buckets {
		names = append(names, name)
	}
	sort.Strings(names)
	snapshot := make([]Record, 0)
	for _, name := range names {
		snapshot = append(snapshot, s.buckets[name]...)
	}
	s.mu.Unlock()
	s.clock.AfterFunc(delay, func() {
		for _, rec := range snapshot {
			sink(rec)
		}
	})
}

// Sync writes the current snapshot synchronously. Used on shutdown.
func (s *CommandStore) Sync() error {
	s.mu.Lock()
	data, err := json.Marshal(s.buckets)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return writeSnapshot(s.path, data)
}

// Close stops the background writer after flushing any pending snapshot.
func (s *CommandStore) Close() {
	close(s.done)
}

func (s *CommandStore) enqueueSave(data []byte) {
	for {
		select {
		case s.saveCh <- data:
			return
		default:
			select {
			case <-s.saveCh:
			default:
			}
		}
	}
}

func (s *CommandStore) writeLoop() {
	for {
		select {
		case data := <-s.saveCh:
			if err := writeSnapshot(s.path, data); err != nil {
				slog.Error("history: failed to write snapshot", slog.String("path", s.path), slog.Any("err", err))
			}
		case <-s.done:
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

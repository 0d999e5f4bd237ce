// Package store is the durable owner of every chat entity: users, rooms,
// message history, private messages, reactions, file shares, polls, stats and
// the ban list.
//
// All state lives in one in-memory Document guarded by a single mutex. Every
// mutation is applied in memory and persisted before the lock is released, in
// one of two modes:
//
//   - ModeSnapshot rewrites the whole document on each mutation.
//   - ModeJournal appends the mutation to an append-only log and writes a full
//     snapshot every CompactEvery mutations, truncating the log afterwards.
//
// Persistence failures are logged and counted but never returned; the
// in-memory document stays authoritative for the running process.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/roomcast/internal/metrics"
)

// Mode selects how mutations reach durable storage.
type Mode string

const (
	ModeSnapshot Mode = "snapshot"
	ModeJournal  Mode = "journal"
)

// DefaultCompactEvery is the journal length that triggers a snapshot.
const DefaultCompactEvery = 500

// Options configures a Store.
type Options struct {
	Snapshotter  Snapshotter
	Mode         Mode
	JournalPath  string
	CompactEvery int
	MaxHistory   int
	Logger       zerolog.Logger
	Now          func() time.Time
}

// Store is the thread-safe persistent document.
type Store struct {
	mu           sync.RWMutex
	doc          *Document
	snap         Snapshotter
	journal      *Journal
	mode         Mode
	compactEvery int
	maxHistory   int
	pending      int
	log          zerolog.Logger
	now          func() time.Time
}

// New builds a store. The returned store holds the default rooms until Load
// is called.
func New(opts Options) (*Store, error) {
	if opts.Snapshotter == nil {
		return nil, errors.New("store: snapshotter is required")
	}
	if opts.Mode == "" {
		opts.Mode = ModeSnapshot
	}
	if opts.MaxHistory <= 0 {
		opts.MaxHistory = DefaultMaxHistory
	}
	if opts.CompactEvery <= 0 {
		opts.CompactEvery = DefaultCompactEvery
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Store{
		snap:         opts.Snapshotter,
		mode:         opts.Mode,
		compactEvery: opts.CompactEvery,
		maxHistory:   opts.MaxHistory,
		log:          opts.Logger,
		now:          opts.Now,
	}

	switch opts.Mode {
	case ModeSnapshot:
	case ModeJournal:
		if opts.JournalPath == "" {
			return nil, errors.New("store: journal mode requires a journal path")
		}
		j, err := OpenJournal(opts.JournalPath)
		if err != nil {
			return nil, err
		}
		s.journal = j
	default:
		return nil, fmt.Errorf("store: unknown persistence mode %q", opts.Mode)
	}

	s.doc = s.defaultDocument()
	return s, nil
}

func (s *Store) defaultDocument() *Document {
	d := newDocument(s.maxHistory)
	d.Rooms = defaultRooms(s.now())
	return d
}

// Load replaces the in-memory state with the persisted one. If the current
// snapshot is missing or unreadable the previous generation is tried; if that
// fails too the store starts from the default rooms. In journal mode the
// log is replayed on top of whatever snapshot was loaded. Errors are logged,
// never returned.
func (s *Store) Load() {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readSnapshot(s.snap.Read)
	if err != nil {
		if !errors.Is(err, ErrNoSnapshot) {
			s.log.Error().Err(err).Msg("current snapshot unreadable, trying backup")
		}
		prev, prevErr := s.readSnapshot(s.snap.ReadPrevious)
		switch {
		case prevErr == nil:
			s.log.Warn().Msg("restored state from backup snapshot")
			doc = prev
		case errors.Is(err, ErrNoSnapshot) && errors.Is(prevErr, ErrNoSnapshot):
			s.log.Info().Msg("no snapshot found, starting with default rooms")
			doc = s.defaultDocument()
		default:
			s.log.Error().Err(prevErr).Msg("backup snapshot unreadable, starting with default rooms")
			doc = s.defaultDocument()
		}
	}
	s.doc = doc

	if s.journal != nil {
		replayed := 0
		err := s.journal.Replay(func(r record) error {
			if r.Seq <= s.doc.Seq {
				return nil
			}
			m, err := decodeMutation(r)
			if err != nil {
				return err
			}
			m.apply(s.doc)
			s.doc.Seq = r.Seq
			replayed++
			return nil
		})
		if err != nil {
			s.log.Error().Err(err).Int("replayed", replayed).Msg("journal replay stopped early")
		}
		s.pending = replayed
		// Fold the replayed records into a snapshot so new appends never
		// follow a torn or corrupt line.
		if err := s.compactLocked(); err != nil {
			s.persistFailed("compact", err)
		}
	}

	if len(s.doc.Rooms) == 0 {
		s.doc.Rooms = defaultRooms(s.now())
	}

	s.log.Info().
		Uint64("seq", s.doc.Seq).
		Int("users", len(s.doc.Users)).
		Int("messages", len(s.doc.MessageHistory)).
		Int("rooms", len(s.doc.Rooms)).
		Msg("store loaded")
}

func (s *Store) readSnapshot(read func() ([]byte, error)) (*Document, error) {
	data, err := read()
	if err != nil {
		return nil, err
	}
	doc := &Document{}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	doc.normalize()
	doc.maxHistory = s.maxHistory
	return doc, nil
}

// Save writes a full snapshot. In journal mode it also truncates the log.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.compactLocked()
}

// Close flushes a final snapshot and releases the backends.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if err := s.compactLocked(); err != nil {
		errs = append(errs, err)
	}
	if s.journal != nil {
		if err := s.journal.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.snap.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// commit applies m and persists it. Callers hold s.mu.
func (s *Store) commit(m mutation) {
	m.apply(s.doc)
	s.doc.Seq++

	start := s.now()
	defer func() { metrics.PersistDuration.Observe(s.now().Sub(start).Seconds()) }()

	if s.mode == ModeJournal {
		data, err := json.Marshal(m)
		if err == nil {
			err = s.journal.Append(record{Seq: s.doc.Seq, Op: m.op(), At: start, Data: data})
		}
		if err != nil {
			s.persistFailed(m.op(), err)
			return
		}
		s.pending++
		if s.pending >= s.compactEvery {
			if err := s.compactLocked(); err != nil {
				s.persistFailed("compact", err)
			}
		}
		return
	}

	if err := s.saveLocked(); err != nil {
		s.persistFailed(m.op(), err)
	}
}

func (s *Store) compactLocked() error {
	if err := s.saveLocked(); err != nil {
		return err
	}
	if s.journal != nil {
		if err := s.journal.Truncate(); err != nil {
			return err
		}
	}
	s.pending = 0
	return nil
}

func (s *Store) saveLocked() error {
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	if err := s.snap.Write(data); err != nil {
		return err
	}
	s.log.Debug().Uint64("seq", s.doc.Seq).Int("bytes", len(data)).Msg("snapshot written")
	return nil
}

func (s *Store) persistFailed(op string, err error) {
	metrics.PersistenceFailuresTotal.Inc()
	s.log.Error().Err(err).Str("op", op).Uint64("seq", s.doc.Seq).
		Msg("persistence failed; continuing on in-memory state")
}

// Summary reports document totals.
type Summary struct {
	Seq            uint64 `json:"seq"`
	TotalUsers     int    `json:"total_users"`
	TotalMessages  int    `json:"total_messages"`
	TotalRooms     int    `json:"total_rooms"`
	TotalFiles     int    `json:"total_files"`
	BannedUsers    int    `json:"banned_users"`
	PrivateThreads int    `json:"private_message_threads"`
	PendingJournal int    `json:"pending_journal"`
}

// Summary returns document totals.
func (s *Store) Summary() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Summary{
		Seq:            s.doc.Seq,
		TotalUsers:     len(s.doc.Users),
		TotalMessages:  len(s.doc.MessageHistory),
		TotalRooms:     len(s.doc.Rooms),
		TotalFiles:     len(s.doc.FileShares),
		BannedUsers:    len(s.doc.BannedUsers),
		PrivateThreads: len(s.doc.PrivateMessages),
		PendingJournal: s.pending,
	}
}

// Package conversation owns the fetch, mutate and persist cycle for session
// records. It is the only writer of the state store.
package conversation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/samhotchkiss/otter-relay/internal/session"
	"github.com/samhotchkiss/otter-relay/internal/store"
)

const (
	DefaultTTL          = 24 * time.Hour
	DefaultStoreTimeout = 2 * time.Second
	DefaultHistoryLimit = 10
)

// Options configures a Manager. Zero values take the defaults above.
type Options struct {
	TTL          time.Duration
	StoreTimeout time.Duration
	Logger       *slog.Logger
	Now          func() time.Time
}

// Manager reads and writes session records. Store failures never surface to
// callers: reads degrade to a fresh in-memory session and writes are logged
// and dropped.
type Manager struct {
	store   store.Store
	ttl     time.Duration
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

func NewManager(st store.Store, opts Options) *Manager {
	m := &Manager{
		store:   st,
		ttl:     opts.TTL,
		timeout: opts.StoreTimeout,
		logger:  opts.Logger,
		now:     opts.Now,
	}
	if m.ttl <= 0 {
		m.ttl = DefaultTTL
	}
	if m.timeout <= 0 {
		m.timeout = DefaultStoreTimeout
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

type loadState int

const (
	loadHit loadState = iota
	loadFresh
	loadDegraded
)

// GetOrCreate returns the sender's session, creating and persisting a default
// one on a miss or a corrupt record.
func (m *Manager) GetOrCreate(ctx context.Context, senderID string) session.Session {
	senderID = session.NormalizeSenderID(senderID)
	s, state := m.load(ctx, senderID)
	if state == loadFresh {
		m.save(ctx, &s)
	}
	return s
}

// AppendTurn records a user message and the reply sent for it.
func (m *Manager) AppendTurn(ctx context.Context, senderID, user, assistant string) session.Session {
	return m.mutate(ctx, senderID, func(s *session.Session, now time.Time) {
		s.AppendTurn(user, assistant, now)
	})
}

// SetActiveProject binds projectID to the sender. An empty id unbinds.
func (m *Manager) SetActiveProject(ctx context.Context, senderID, projectID string) session.Session {
	return m.mutate(ctx, senderID, func(s *session.Session, now time.Time) {
		s.SetActiveProject(projectID, now)
	})
}

// UpdateContext merges patch into the sender's context.
func (m *Manager) UpdateContext(ctx context.Context, senderID string, patch session.ContextPatch) session.Session {
	return m.mutate(ctx, senderID, func(s *session.Session, now time.Time) {
		s.UpdateContext(patch, now)
	})
}

// ClearHistory resets history and context.
func (m *Manager) ClearHistory(ctx context.Context, senderID string) session.Session {
	return m.mutate(ctx, senderID, func(s *session.Session, now time.Time) {
		s.ClearHistory(now)
	})
}

// Apply replays a handler's recorded mutation in a single write.
func (m *Manager) Apply(ctx context.Context, senderID string, mutation session.Mutation) session.Session {
	return m.mutate(ctx, senderID, func(s *session.Session, now time.Time) {
		mutation.ApplyTo(s, now)
	})
}

// History returns up to limit of the sender's newest turns, oldest first.
func (m *Manager) History(ctx context.Context, senderID string, limit int) []session.Turn {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	s, _ := m.load(ctx, session.NormalizeSenderID(senderID))
	return s.RecentHistory(limit)
}

func (m *Manager) mutate(ctx context.Context, senderID string, fn func(*session.Session, time.Time)) session.Session {
	senderID = session.NormalizeSenderID(senderID)
	s, state := m.load(ctx, senderID)
	fn(&s, m.now())
	if state == loadDegraded {
		// A failed read must not overwrite whatever the store still holds.
		m.logger.Warn("skipping session write after failed read", "sender", senderID)
		return s
	}
	m.save(ctx, &s)
	return s
}

func (m *Manager) load(ctx context.Context, senderID string) (session.Session, loadState) {
	storeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	data, err := m.store.Get(storeCtx, session.Key(senderID))
	if errors.Is(err, store.ErrNotFound) {
		return session.New(senderID, m.now()), loadFresh
	}
	if err != nil {
		m.logger.Warn("session read failed, using in-memory default", "sender", senderID, "err", err)
		return session.New(senderID, m.now()), loadDegraded
	}

	s, err := session.Decode(data, senderID)
	if err != nil {
		m.logger.Warn("discarding unreadable session record", "sender", senderID, "err", err)
		return session.New(senderID, m.now()), loadFresh
	}
	return s, loadHit
}

func (m *Manager) save(ctx context.Context, s *session.Session) {
	s.Version++
	data, err := session.Encode(*s)
	if err != nil {
		m.logger.Warn("session encode failed", "sender", s.SenderID, "err", err)
		return
	}

	storeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if err := m.store.SetWithTTL(storeCtx, session.Key(s.SenderID), data, m.ttl); err != nil {
		m.logger.Warn("session write failed", "sender", s.SenderID, "err", err)
	}
}

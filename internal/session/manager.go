// Package session keeps one live workout store per signed-in owner.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mansoorceksport/fitsync/internal/domain"
	"github.com/mansoorceksport/fitsync/internal/draft"
	"github.com/mansoorceksport/fitsync/internal/store"
	"github.com/mansoorceksport/fitsync/internal/view"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

var ErrManagerClosed = errors.New("session manager closed")

// Session is everything the HTTP layer needs for one owner
type Session struct {
	OwnerID string
	Store   *store.Store
	Views   *view.Engine
	Draft   *draft.Editor

	lastUsed time.Time // guarded by Manager.mu
}

// View computes the filtered list and stats over the owner's merged collection
func (s *Session) View(f view.Filter) view.Result {
	return s.Views.Compute(s.Store, f)
}

// Manager hands out sessions and subscribes each owner exactly once. Sessions idle
// for longer than the TTL are closed by Run.
type Manager struct {
	adapter domain.RemoteSyncAdapter
	idleTTL time.Duration
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
	starting singleflight.Group

	active metric.Int64UpDownCounter
}

func NewManager(adapter domain.RemoteSyncAdapter, idleTTL time.Duration) *Manager {
	active, err := otel.Meter("github.com/mansoorceksport/fitsync/internal/session").
		Int64UpDownCounter("fitsync.sessions.active", metric.WithDescription("Owners with a live workout subscription"))
	if err != nil {
		log.WithError(err).Warn("failed to create session gauge")
	}
	return &Manager{
		adapter:  adapter,
		idleTTL:  idleTTL,
		now:      time.Now,
		sessions: make(map[string]*Session),
		active:   active,
	}
}

// Acquire returns the owner's session, creating and subscribing it on first use.
// A session whose feed failed is re-subscribed before it is returned.
func (m *Manager) Acquire(ctx context.Context, ownerID string) (*Session, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	if sess, ok := m.sessions[ownerID]; ok && sess.Store.SubscriptionErr() == nil {
		sess.lastUsed = m.now()
		m.mu.Unlock()
		return sess, nil
	}
	m.mu.Unlock()

	v, err, _ := m.starting.Do(ownerID, func() (any, error) {
		return m.establish(ctx, ownerID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

func (m *Manager) establish(ctx context.Context, ownerID string) (*Session, error) {
	m.mu.Lock()
	existing, ok := m.sessions[ownerID]
	m.mu.Unlock()

	if ok {
		if err := existing.Store.Resubscribe(ctx); err != nil {
			return nil, err
		}
		m.touch(existing)
		return existing, nil
	}

	st := store.New(m.adapter, ownerID)
	if err := st.Start(ctx); err != nil {
		st.Close()
		return nil, err
	}
	sess := &Session{
		OwnerID:  ownerID,
		Store:    st,
		Views:    view.NewEngine(),
		Draft:    draft.NewEditor(st),
		lastUsed: m.now(),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		st.Close()
		return nil, ErrManagerClosed
	}
	m.sessions[ownerID] = sess
	m.mu.Unlock()

	if m.active != nil {
		m.active.Add(ctx, 1)
	}
	log.WithField("owner", ownerID).Debug("session opened")
	return sess, nil
}

func (m *Manager) touch(sess *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess.lastUsed = m.now()
}

// Lookup returns the owner's open session without subscribing or touching it. A
// session whose feed failed is still returned; its last snapshot stays readable.
func (m *Manager) Lookup(ownerID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[ownerID]
	return sess, ok
}

// Release closes the owner's session, for example on sign-out
func (m *Manager) Release(ownerID string) {
	m.mu.Lock()
	sess, ok := m.sessions[ownerID]
	delete(m.sessions, ownerID)
	m.mu.Unlock()

	if ok {
		m.closeSession(sess)
	}
}

// Len reports the number of open sessions
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Run closes idle sessions every interval until ctx is done
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Sweep closes every session unused for longer than the idle TTL and returns how
// many it closed
func (m *Manager) Sweep() int {
	cutoff := m.now().Add(-m.idleTTL)

	m.mu.Lock()
	var idle []*Session
	for owner, sess := range m.sessions {
		if sess.lastUsed.Before(cutoff) {
			idle = append(idle, sess)
			delete(m.sessions, owner)
		}
	}
	m.mu.Unlock()

	for _, sess := range idle {
		m.closeSession(sess)
	}
	if len(idle) > 0 {
		log.WithField("count", len(idle)).Info("closed idle sessions")
	}
	return len(idle)
}

// Close releases every session and waits for their in-flight writes to finish
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	all := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		all = append(all, sess)
	}
	m.sessions = map[string]*Session{}
	m.mu.Unlock()

	var g errgroup.Group
	g.SetLimit(8)
	for _, sess := range all {
		g.Go(func() error {
			m.closeSession(sess)
			return nil
		})
	}
	return g.Wait()
}

func (m *Manager) closeSession(sess *Session) {
	sess.Store.Close()
	if m.active != nil {
		m.active.Add(context.Background(), -1)
	}
	log.WithField("owner", sess.OwnerID).Debug("session closed")
}

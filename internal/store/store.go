// Package store holds the canonical workout collection of one owner merged with
// optimistic local mutations.
package store

import (
	"context"
	"crypto/rand"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/mansoorceksport/fitsync/internal/domain"
	"github.com/oklog/ulid/v2"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/mansoorceksport/fitsync/internal/store"

type overlayKind int

const (
	overlayUpdate overlayKind = iota
	overlayDelete
)

// overlay is an optimistic update or delete over one canonical record. Dropping it
// restores the record exactly as the last snapshot delivered it.
type overlay struct {
	kind     overlayKind
	workout  domain.Workout // replacement for overlayUpdate
	index    int            // position in canonical when the mutation was issued
	inflight bool
}

type pendingCreate struct {
	workout  domain.Workout
	remoteID string // reserved before the write
	seq      uint64
}

// Store is the single source of truth for one owner's persisted plus optimistic workouts.
// All methods are safe for concurrent use.
type Store struct {
	adapter domain.RemoteSyncAdapter
	ownerID string

	ctx    context.Context // cancelled by Close; bounds in-flight remote calls
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	canonical   []domain.Workout
	pending     map[string]*pendingCreate
	overlays    map[string]*overlay
	seq         uint64
	version     uint64
	merged      []domain.Workout
	subErr      error
	subscribed  bool
	closed      bool
	unsubscribe domain.Unsubscribe

	tracer    trace.Tracer
	rollbacks metric.Int64Counter
	skipped   metric.Int64Counter
}

// New creates a store for ownerID. Call Start to attach the live feed.
func New(adapter domain.RemoteSyncAdapter, ownerID string) *Store {
	ctx, cancel := context.WithCancel(context.Background())
	meter := otel.Meter(instrumentationName)

	rollbacks, err := meter.Int64Counter("fitsync.store.rollbacks",
		metric.WithDescription("Optimistic mutations rolled back after a remote failure"))
	if err != nil {
		log.WithError(err).Warn("failed to create rollback counter")
	}
	skipped, err := meter.Int64Counter("fitsync.store.skipped_records",
		metric.WithDescription("Remote records skipped because they could not be decoded"))
	if err != nil {
		log.WithError(err).Warn("failed to create skipped record counter")
	}

	return &Store{
		adapter:   adapter,
		ownerID:   ownerID,
		ctx:       ctx,
		cancel:    cancel,
		pending:   make(map[string]*pendingCreate),
		overlays:  make(map[string]*overlay),
		merged:    []domain.Workout{},
		tracer:    otel.Tracer(instrumentationName),
		rollbacks: rollbacks,
		skipped:   skipped,
	}
}

// OwnerID returns the owner whose collection this store mirrors
func (s *Store) OwnerID() string { return s.ownerID }

// Start subscribes to the live collection. It subscribes at most once per store.
func (s *Store) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrStoreClosed
	}
	if s.subscribed {
		s.mu.Unlock()
		return nil
	}
	s.subscribed = true
	s.mu.Unlock()

	unsub, err := s.adapter.Subscribe(ctx, s.ownerID, s.OnRemoteSnapshot, s.onSubscriptionError)
	if err != nil {
		s.mu.Lock()
		s.subErr = &domain.SubscriptionError{OwnerID: s.ownerID, Err: err}
		s.mu.Unlock()
		return s.subErr
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		unsub()
		return domain.ErrStoreClosed
	}
	s.unsubscribe = unsub
	s.mu.Unlock()

	log.WithField("owner", s.ownerID).Info("workout subscription established")
	return nil
}

// Resubscribe replaces a live feed that failed with a new subscription. Pending and
// in-flight mutations are kept. It does nothing while the feed is healthy.
func (s *Store) Resubscribe(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrStoreClosed
	}
	if s.subErr == nil {
		s.mu.Unlock()
		return nil
	}
	old := s.unsubscribe
	s.unsubscribe = nil
	s.subscribed = false
	s.subErr = nil
	s.mu.Unlock()

	if old != nil {
		old()
	}
	log.WithField("owner", s.ownerID).Info("re-establishing workout subscription")
	return s.Start(ctx)
}

// Close releases the subscription and waits for in-flight remote calls to return.
// It is safe to call more than once.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	unsub := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	s.cancel()
	s.wg.Wait()
	log.WithField("owner", s.ownerID).Info("workout subscription released")
}

// SubscriptionErr returns the failure of the live feed, if any
func (s *Store) SubscriptionErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subErr
}

// Version increases every time the merged collection changes
func (s *Store) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Workouts returns the merged collection, newest first
func (s *Store) Workouts() []domain.Workout {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneAll(s.merged)
}

// Snapshot returns the merged collection together with its version
func (s *Store) Snapshot() ([]domain.Workout, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneAll(s.merged), s.version
}

// Lookup finds a visible persisted workout by id
func (s *Store) Lookup(id string) (domain.Workout, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.merged {
		if w.ID == id {
			return w.Clone(), true
		}
	}
	return domain.Workout{}, false
}

// OnRemoteSnapshot replaces the canonical collection with records. Records that
// cannot be decoded are skipped; the rest of the snapshot still applies.
func (s *Store) OnRemoteSnapshot(records []domain.RemoteRecord) {
	decoded := make([]domain.Workout, 0, len(records))
	for _, rec := range records {
		w, err := domain.FromRemoteRecord(rec.ID, rec.Fields)
		if err != nil {
			log.WithFields(log.Fields{"owner": s.ownerID, "id": rec.ID}).WithError(err).Warn("skipping undecodable workout record")
			if s.skipped != nil {
				s.skipped.Add(s.ctx, 1)
			}
			continue
		}
		decoded = append(decoded, w)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	s.canonical = decoded
	ids := make(map[string]struct{}, len(decoded))
	for _, w := range decoded {
		ids[w.ID] = struct{}{}
	}
	for cid, p := range s.pending {
		if _, ok := ids[p.remoteID]; ok {
			delete(s.pending, cid)
		}
	}
	for id, ov := range s.overlays {
		if !ov.inflight {
			delete(s.overlays, id)
		}
	}
	s.changedLocked()
}

func (s *Store) onSubscriptionError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subErr = &domain.SubscriptionError{OwnerID: s.ownerID, Err: err}
	log.WithField("owner", s.ownerID).WithError(err).Error("workout subscription failed, keeping last snapshot")
}

// SubmitCreate validates c and inserts it as a pending entry before sending it to the
// remote store. The record id is reserved up front, so whichever snapshot first carries
// it replaces the pending entry in the same step, even one delivered while Create is
// still running.
func (s *Store) SubmitCreate(ctx context.Context, c domain.Candidate) (*Mutation, error) {
	w, err := domain.ValidateWorkout(c)
	if err != nil {
		return nil, err
	}
	payload, err := domain.ToPersistablePayload(*w)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, domain.ErrStoreClosed
	}
	cid := ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
	rid := s.adapter.NewID(s.ownerID)
	w.CorrelationID = cid
	w.Pending = true
	s.seq++
	s.pending[cid] = &pendingCreate{workout: *w, remoteID: rid, seq: s.seq}
	s.changedLocked()
	s.mu.Unlock()

	m := newMutation("create", cid, "")
	s.run(ctx, m, func(opCtx context.Context) (string, error) {
		if err := s.adapter.Create(opCtx, s.ownerID, rid, payload); err != nil {
			return "", err
		}
		return rid, nil
	}, func(_ string, err error) {
		s.completeCreate(cid, err)
	})
	return m, nil
}

// completeCreate drops the pending entry of a failed create. A successful one stays
// until a snapshot carries its id.
func (s *Store) completeCreate(cid string, err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[cid]; !ok {
		return
	}
	delete(s.pending, cid)
	s.changedLocked()
}

// SubmitUpdate validates c and rewrites record id in the merged view before sending
// the change. A remote failure restores the previous values.
func (s *Store) SubmitUpdate(ctx context.Context, id string, c domain.Candidate) (*Mutation, error) {
	w, err := domain.ValidateWorkout(c)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	idx, err := s.claimLocked(id)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	base := s.canonical[idx]
	w.ID = id
	w.CreatedAt = base.CreatedAt
	payload, err := domain.ToPersistablePayload(*w)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	ov := &overlay{kind: overlayUpdate, workout: *w, index: idx, inflight: true}
	s.overlays[id] = ov
	s.changedLocked()
	s.mu.Unlock()

	m := newMutation("update", "", id)
	s.run(ctx, m, func(opCtx context.Context) (string, error) {
		return id, s.adapter.Update(opCtx, s.ownerID, id, payload)
	}, func(_ string, err error) {
		s.completeOverlay(id, ov, err)
	})
	return m, nil
}

// SubmitDelete hides record id from the merged view before asking the remote store to
// remove it. A remote failure brings it back at its original position.
func (s *Store) SubmitDelete(ctx context.Context, id string) (*Mutation, error) {
	s.mu.Lock()
	idx, err := s.claimLocked(id)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	ov := &overlay{kind: overlayDelete, index: idx, inflight: true}
	s.overlays[id] = ov
	s.changedLocked()
	s.mu.Unlock()

	m := newMutation("delete", "", id)
	s.run(ctx, m, func(opCtx context.Context) (string, error) {
		return id, s.adapter.Remove(opCtx, s.ownerID, id)
	}, func(_ string, err error) {
		s.completeOverlay(id, ov, err)
	})
	return m, nil
}

// claimLocked checks that id is visible and has no mutation in flight, returning its
// canonical index.
func (s *Store) claimLocked(id string) (int, error) {
	if s.closed {
		return -1, domain.ErrStoreClosed
	}
	if ov, ok := s.overlays[id]; ok {
		if ov.inflight {
			return -1, &domain.ConflictError{ID: id}
		}
		if ov.kind == overlayDelete {
			return -1, domain.ErrWorkoutNotFound
		}
	}
	for i, w := range s.canonical {
		if w.ID == id {
			return i, nil
		}
	}
	return -1, domain.ErrWorkoutNotFound
}

func (s *Store) completeOverlay(id string, ov *overlay, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.overlays[id] != ov {
		return
	}
	if err != nil {
		delete(s.overlays, id)
		s.changedLocked()
		log.WithFields(log.Fields{"owner": s.ownerID, "id": id, "index": ov.index}).Debug("restored workout from last snapshot")
		return
	}
	ov.inflight = false
}

// run performs a remote call off the caller's goroutine. The call outlives the
// caller's context but not the store.
func (s *Store) run(ctx context.Context, m *Mutation, call func(context.Context) (string, error), complete func(string, error)) {
	ctx, span := s.tracer.Start(ctx, "store."+m.op, trace.WithAttributes(
		attribute.String("owner.id", s.ownerID),
		attribute.String("workout.id", m.recordID),
		attribute.String("workout.correlation_id", m.correlationID),
	))

	opCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(s.ctx, cancel)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer span.End()
		defer cancel()
		defer stop()

		id, err := call(opCtx)
		if err != nil {
			var rwe *domain.RemoteWriteError
			if !errors.As(err, &rwe) {
				err = &domain.RemoteWriteError{Op: m.op, ID: m.recordID, Err: err}
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			if s.rollbacks != nil {
				s.rollbacks.Add(opCtx, 1, metric.WithAttributes(attribute.String("op", m.op)))
			}
			log.WithFields(log.Fields{
				"owner": s.ownerID,
				"op":    m.op,
				"id":    m.recordID,
			}).WithError(err).Warn("remote write failed, rolled back")
		}
		complete(id, err)
		m.finish(id, err)
	}()
}

// changedLocked rebuilds the merged view and bumps the version
func (s *Store) changedLocked() {
	s.version++

	pend := make([]*pendingCreate, 0, len(s.pending))
	for _, p := range s.pending {
		pend = append(pend, p)
	}
	sort.Slice(pend, func(i, j int) bool { return pend[i].seq > pend[j].seq })

	out := make([]domain.Workout, 0, len(pend)+len(s.canonical))
	for _, p := range pend {
		out = append(out, p.workout)
	}
	for _, w := range s.canonical {
		if ov, ok := s.overlays[w.ID]; ok {
			if ov.kind == overlayDelete {
				continue
			}
			out = append(out, ov.workout)
			continue
		}
		out = append(out, w)
	}
	sortNewestFirst(out)
	s.merged = out
}

// sortNewestFirst orders by timestamp descending with unknown dates first. The sort is
// stable so pending entries stay ahead of equal timestamps.
func sortNewestFirst(ws []domain.Workout) {
	sort.SliceStable(ws, func(i, j int) bool {
		ki, kj := ws[i].DateKnown(), ws[j].DateKnown()
		if ki != kj {
			return !ki
		}
		return ws[i].Timestamp.After(ws[j].Timestamp)
	})
}

func cloneAll(ws []domain.Workout) []domain.Workout {
	out := make([]domain.Workout, len(ws))
	for i, w := range ws {
		out[i] = w.Clone()
	}
	return out
}

package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mansoorceksport/fitsync/internal/domain"
	"github.com/oklog/ulid/v2"
)

// WriteHook runs before every memory write. A non-nil error rejects the write.
// op is one of "create", "update", "remove".
type WriteHook func(ctx context.Context, op, ownerID, id string) error

// MemoryWorkoutAdapter implements domain.RemoteSyncAdapter in process. Snapshots are
// delivered synchronously and in order, before the write call returns.
type MemoryWorkoutAdapter struct {
	mu     sync.Mutex
	owners map[string]*memoryCollection
	hook   WriteHook
	now    func() time.Time
}

type memoryCollection struct {
	docs      map[string]map[string]any
	subs      map[int]*memorySub
	nextSub   int
	deliverMu sync.Mutex
}

type memorySub struct {
	onSnapshot func([]domain.RemoteRecord)
	onError    func(error)
	active     atomic.Bool
}

// NewMemoryWorkoutAdapter creates an empty in-memory backend
func NewMemoryWorkoutAdapter() *MemoryWorkoutAdapter {
	return &MemoryWorkoutAdapter{
		owners: make(map[string]*memoryCollection),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetWriteHook installs a hook run before every write
func (a *MemoryWorkoutAdapter) SetWriteHook(hook WriteHook) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hook = hook
}

func (a *MemoryWorkoutAdapter) collection(ownerID string) *memoryCollection {
	coll, ok := a.owners[ownerID]
	if !ok {
		coll = &memoryCollection{
			docs: make(map[string]map[string]any),
			subs: make(map[int]*memorySub),
		}
		a.owners[ownerID] = coll
	}
	return coll
}

// Subscribers returns the number of live subscriptions of ownerID
func (a *MemoryWorkoutAdapter) Subscribers(ownerID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.collection(ownerID).subs)
}

func (a *MemoryWorkoutAdapter) Subscribe(ctx context.Context, ownerID string, onSnapshot func([]domain.RemoteRecord), onError func(error)) (domain.Unsubscribe, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sub := &memorySub{onSnapshot: onSnapshot, onError: onError}
	sub.active.Store(true)

	a.mu.Lock()
	coll := a.collection(ownerID)
	id := coll.nextSub
	coll.nextSub++
	coll.subs[id] = sub
	a.mu.Unlock()

	coll.deliverMu.Lock()
	a.mu.Lock()
	recs := coll.snapshot()
	a.mu.Unlock()
	onSnapshot(recs)
	coll.deliverMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.active.Store(false)
			a.mu.Lock()
			delete(coll.subs, id)
			a.mu.Unlock()
			// wait out a delivery in progress
			coll.deliverMu.Lock()
			coll.deliverMu.Unlock()
		})
	}, nil
}

// NewID returns a fresh ULID
func (a *MemoryWorkoutAdapter) NewID(string) string {
	return ulid.Make().String()
}

func (a *MemoryWorkoutAdapter) Create(ctx context.Context, ownerID, id string, payload domain.Payload) error {
	if err := a.before(ctx, "create", ownerID, id); err != nil {
		return err
	}
	fields := payload.Fields()
	fields[domain.FieldCreatedAt] = a.now()

	a.mu.Lock()
	coll := a.collection(ownerID)
	if _, exists := coll.docs[id]; exists {
		a.mu.Unlock()
		return &domain.RemoteWriteError{Op: "create", ID: id, Err: domain.ErrAlreadyExists}
	}
	coll.docs[id] = fields
	a.mu.Unlock()

	a.broadcast(ownerID)
	return nil
}

func (a *MemoryWorkoutAdapter) Update(ctx context.Context, ownerID, id string, payload domain.Payload) error {
	if err := a.before(ctx, "update", ownerID, id); err != nil {
		return err
	}

	a.mu.Lock()
	coll := a.collection(ownerID)
	existing, ok := coll.docs[id]
	if !ok {
		a.mu.Unlock()
		return &domain.RemoteWriteError{Op: "update", ID: id, Err: domain.ErrNotFound}
	}
	fields := payload.Fields()
	if createdAt, ok := existing[domain.FieldCreatedAt]; ok {
		fields[domain.FieldCreatedAt] = createdAt
	}
	coll.docs[id] = fields
	a.mu.Unlock()

	a.broadcast(ownerID)
	return nil
}

func (a *MemoryWorkoutAdapter) Remove(ctx context.Context, ownerID, id string) error {
	if err := a.before(ctx, "remove", ownerID, id); err != nil {
		return err
	}

	a.mu.Lock()
	delete(a.collection(ownerID).docs, id)
	a.mu.Unlock()

	a.broadcast(ownerID)
	return nil
}

// Put stores raw document fields as-is, bypassing the payload codec. It is used to
// seed partially written or malformed records.
func (a *MemoryWorkoutAdapter) Put(ownerID, id string, fields map[string]any) {
	a.mu.Lock()
	a.collection(ownerID).docs[id] = fields
	a.mu.Unlock()
	a.broadcast(ownerID)
}

// Fail terminates every subscription of ownerID with err
func (a *MemoryWorkoutAdapter) Fail(ownerID string, err error) {
	a.mu.Lock()
	coll := a.collection(ownerID)
	subs := make([]*memorySub, 0, len(coll.subs))
	for id, sub := range coll.subs {
		subs = append(subs, sub)
		delete(coll.subs, id)
	}
	a.mu.Unlock()

	coll.deliverMu.Lock()
	defer coll.deliverMu.Unlock()
	for _, sub := range subs {
		if sub.active.Swap(false) && sub.onError != nil {
			sub.onError(err)
		}
	}
}

func (a *MemoryWorkoutAdapter) before(ctx context.Context, op, ownerID, id string) error {
	if err := ctx.Err(); err != nil {
		return &domain.RemoteWriteError{Op: op, ID: id, Err: err}
	}
	a.mu.Lock()
	hook := a.hook
	a.mu.Unlock()
	if hook == nil {
		return nil
	}
	if err := hook(ctx, op, ownerID, id); err != nil {
		return &domain.RemoteWriteError{Op: op, ID: id, Err: err}
	}
	return nil
}

func (a *MemoryWorkoutAdapter) broadcast(ownerID string) {
	a.mu.Lock()
	coll := a.collection(ownerID)
	a.mu.Unlock()

	coll.deliverMu.Lock()
	defer coll.deliverMu.Unlock()

	a.mu.Lock()
	recs := coll.snapshot()
	subs := make([]*memorySub, 0, len(coll.subs))
	for _, sub := range coll.subs {
		subs = append(subs, sub)
	}
	a.mu.Unlock()

	for _, sub := range subs {
		if sub.active.Load() {
			sub.onSnapshot(recs)
		}
	}
}

// snapshot must be called with the adapter lock held
func (c *memoryCollection) snapshot() []domain.RemoteRecord {
	recs := make([]domain.RemoteRecord, 0, len(c.docs))
	for id, fields := range c.docs {
		recs = append(recs, domain.RemoteRecord{ID: id, Fields: cloneFields(fields)})
	}
	sortRecords(recs)
	return recs
}

func cloneFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if rows, ok := v.([]any); ok {
			cp := make([]any, len(rows))
			for i, r := range rows {
				if m, ok := r.(map[string]any); ok {
					cp[i] = cloneFields(m)
				} else {
					cp[i] = r
				}
			}
			v = cp
		}
		out[k] = v
	}
	return out
}

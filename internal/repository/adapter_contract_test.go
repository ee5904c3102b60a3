package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mansoorceksport/fitsync/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// missingID is a well-formed id in every backend that no test ever creates
const missingID = "000000000000000000000000"

type recorder struct {
	mu    sync.Mutex
	snaps [][]domain.RemoteRecord
	errs  []error
}

func (r *recorder) onSnapshot(recs []domain.RemoteRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, recs)
}

func (r *recorder) onError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snaps)
}

func (r *recorder) latest() []domain.RemoteRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.snaps) == 0 {
		return nil
	}
	return r.snaps[len(r.snaps)-1]
}

func (r *recorder) find(id string) (domain.RemoteRecord, bool) {
	for _, rec := range r.latest() {
		if rec.ID == id {
			return rec, true
		}
	}
	return domain.RemoteRecord{}, false
}

func testPayload(title, date string) domain.Payload {
	p, err := domain.ToPersistablePayload(domain.Workout{
		Title:     title,
		Type:      domain.WorkoutRun,
		Duration:  30,
		Calories:  300,
		Date:      date,
		Exercises: []domain.Exercise{{Name: "Strides", Sets: 4, Reps: 1}},
	})
	if err != nil {
		panic(err)
	}
	return p
}

// runAdapterContract exercises the behaviour every RemoteSyncAdapter must share
func runAdapterContract(t *testing.T, adapter domain.RemoteSyncAdapter, ownerID string) {
	t.Helper()
	ctx := context.Background()
	const wait, tick = 10 * time.Second, 20 * time.Millisecond

	rec := &recorder{}
	unsub, err := adapter.Subscribe(ctx, ownerID, rec.onSnapshot, rec.onError)
	require.NoError(t, err)
	require.GreaterOrEqual(t, rec.count(), 1, "initial snapshot delivered before Subscribe returns")
	assert.Empty(t, rec.latest())

	older, newer := adapter.NewID(ownerID), adapter.NewID(ownerID)
	require.NotEqual(t, older, newer)
	require.NoError(t, adapter.Create(ctx, ownerID, older, testPayload("Older", "2024-01-01")))
	require.NoError(t, adapter.Create(ctx, ownerID, newer, testPayload("Newer", "2024-02-01")))

	require.Eventually(t, func() bool { return len(rec.latest()) == 2 }, wait, tick)
	snap := rec.latest()
	assert.Equal(t, newer, snap[0].ID, "newest first")
	assert.Equal(t, older, snap[1].ID)

	created, ok := rec.find(older)
	require.True(t, ok)
	w, err := domain.FromRemoteRecord(created.ID, created.Fields)
	require.NoError(t, err)
	assert.Equal(t, "Older", w.Title)
	assert.Equal(t, "2024-01-01", w.Date)
	assert.False(t, w.CreatedAt.IsZero(), "createdAt assigned by the backend")
	require.Len(t, w.Exercises, 1)
	assert.Equal(t, 4, w.Exercises[0].Sets)

	require.NoError(t, adapter.Update(ctx, ownerID, older, testPayload("Renamed", "2024-01-01")))
	require.Eventually(t, func() bool {
		r, ok := rec.find(older)
		return ok && r.Fields[domain.FieldTitle] == "Renamed"
	}, wait, tick)
	updated, _ := rec.find(older)
	u, err := domain.FromRemoteRecord(updated.ID, updated.Fields)
	require.NoError(t, err)
	assert.True(t, u.CreatedAt.Equal(w.CreatedAt), "createdAt survives updates")

	err = adapter.Update(ctx, ownerID, missingID, testPayload("Ghost", "2024-01-01"))
	var rwe *domain.RemoteWriteError
	require.True(t, errors.As(err, &rwe))
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = adapter.Create(ctx, ownerID, older, testPayload("Twin", "2024-01-01"))
	require.True(t, errors.As(err, &rwe), "reusing an id is rejected")
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
	r, _ := rec.find(older)
	assert.Equal(t, "Renamed", r.Fields[domain.FieldTitle])

	require.NoError(t, adapter.Remove(ctx, ownerID, newer))
	require.Eventually(t, func() bool { return len(rec.latest()) == 1 }, wait, tick)
	require.NoError(t, adapter.Remove(ctx, ownerID, newer), "removing twice succeeds")
	require.NoError(t, adapter.Remove(ctx, ownerID, missingID))

	unsub()
	unsub()
	seen := rec.count()
	require.NoError(t, adapter.Create(ctx, ownerID, adapter.NewID(ownerID), testPayload("After", "2024-03-01")))
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, seen, rec.count(), "no delivery after unsubscribe")
	assert.Empty(t, rec.errs)
}

package draft_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mansoorceksport/fitsync/internal/domain"
	"github.com/mansoorceksport/fitsync/internal/draft"
	"github.com/mansoorceksport/fitsync/internal/repository"
	"github.com/mansoorceksport/fitsync/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var fixedNow = func() time.Time { return time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC) }

func newEditor(t *testing.T) (*draft.Editor, *store.Store) {
	t.Helper()
	s := store.New(repository.NewMemoryWorkoutAdapter(), "owner-1")
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(s.Close)
	return draft.NewEditor(s, draft.WithClock(fixedNow)), s
}

func persisted() domain.Workout {
	ts := time.Date(2024, 5, 20, 0, 0, 0, 0, time.UTC)
	return domain.Workout{
		ID:        "w-1",
		Title:     "Leg day",
		Type:      domain.WorkoutWeights,
		Duration:  50,
		Calories:  420,
		Date:      "2024-05-20",
		Timestamp: ts,
		CreatedAt: ts,
		Exercises: []domain.Exercise{
			{LocalKey: domain.NewLocalKey(), Name: "Squat", Sets: 5, Reps: 5, Weight: 100},
			{LocalKey: domain.NewLocalKey(), Name: "Lunge", Sets: 3, Reps: 12, Weight: 20},
			{LocalKey: domain.NewLocalKey(), Name: "Calf raise", Sets: 4, Reps: 15},
		},
	}
}

func fill(t *testing.T, e *draft.Editor, fields map[string]string) {
	t.Helper()
	for k, v := range fields {
		require.NoError(t, e.SetField(k, v))
	}
}

func TestNewEditor_Defaults(t *testing.T) {
	e, _ := newEditor(t)
	d := e.Draft()
	assert.Equal(t, draft.ModeNew, d.Mode)
	assert.Equal(t, "2024-06-01", d.Candidate.Date)
	assert.Equal(t, "Run", d.Candidate.Type)
	assert.Empty(t, d.Candidate.Exercises)
}

func TestStartFromTemplate_CopiesRowsWithFreshKeys(t *testing.T) {
	e, _ := newEditor(t)
	w := persisted()

	d := e.StartFromTemplate(w)

	assert.Equal(t, draft.ModeTemplate, d.Mode)
	assert.Empty(t, d.EditingID)
	assert.Equal(t, "Leg day", d.Candidate.Title)
	assert.Equal(t, "Weights", d.Candidate.Type)
	assert.Empty(t, d.Candidate.Duration)
	assert.Empty(t, d.Candidate.Calories)
	assert.Equal(t, "2024-06-01", d.Candidate.Date)
	require.Len(t, d.Candidate.Exercises, len(w.Exercises))

	original := map[string]bool{}
	for _, ex := range w.Exercises {
		original[ex.LocalKey] = true
	}
	seen := map[string]bool{}
	for i, row := range d.Candidate.Exercises {
		require.NotEmpty(t, row.LocalKey)
		assert.False(t, original[row.LocalKey], "key reused from original")
		assert.False(t, seen[row.LocalKey], "duplicate key")
		seen[row.LocalKey] = true
		assert.Equal(t, w.Exercises[i].Name, row.Name)
	}
	assert.Equal(t, "", d.Candidate.Exercises[2].Weight, "zero weight renders blank")
}

func TestStartEdit_RekeysRows(t *testing.T) {
	e, _ := newEditor(t)
	w := persisted()

	d := e.StartEdit(w)
	assert.Equal(t, draft.ModeEdit, d.Mode)
	assert.Equal(t, "w-1", d.EditingID)
	assert.Equal(t, "50", d.Candidate.Duration)
	assert.Equal(t, "2024-05-20", d.Candidate.Date)
	for i, row := range d.Candidate.Exercises {
		assert.NotEqual(t, w.Exercises[i].LocalKey, row.LocalKey)
	}
}

func TestExerciseRows(t *testing.T) {
	e, _ := newEditor(t)

	k1 := e.AddExerciseRow()
	k2 := e.AddExerciseRow()
	k3 := e.AddExerciseRow()
	assert.NotEqual(t, k1, k2)

	require.NoError(t, e.UpdateExerciseRow(k1, "name", "Bench"))
	require.NoError(t, e.UpdateExerciseRow(k1, "sets", "3"))
	require.NoError(t, e.UpdateExerciseRow(k3, "weight", "22.5"))
	require.NoError(t, e.RemoveExerciseRow(k2))

	rows := e.Draft().Candidate.Exercises
	require.Len(t, rows, 2)
	assert.Equal(t, k1, rows[0].LocalKey)
	assert.Equal(t, "Bench", rows[0].Name)
	assert.Equal(t, "3", rows[0].Sets)
	assert.Equal(t, k3, rows[1].LocalKey)
	assert.Equal(t, "22.5", rows[1].Weight)

	assert.ErrorIs(t, e.RemoveExerciseRow(k2), domain.ErrRowNotFound)
	assert.ErrorIs(t, e.UpdateExerciseRow(k2, "name", "x"), domain.ErrRowNotFound)
	assert.ErrorIs(t, e.UpdateExerciseRow(k1, "tempo", "x"), domain.ErrUnknownField)
	assert.ErrorIs(t, e.SetField("mood", "great"), domain.ErrUnknownField)
}

func TestSetFields_AllOrNothing(t *testing.T) {
	e, _ := newEditor(t)
	before := e.Draft()

	err := e.SetFields(map[string]string{"title": "Tempo run", "mood": "great"})
	assert.ErrorIs(t, err, domain.ErrUnknownField)
	assert.Equal(t, before, e.Draft())

	require.NoError(t, e.SetFields(map[string]string{"title": "Tempo run", "duration": "40"}))
	assert.Equal(t, "Tempo run", e.Draft().Candidate.Title)
	assert.Equal(t, "40", e.Draft().Candidate.Duration)

	key := e.AddExerciseRow()
	err = e.UpdateExerciseRowFields(key, map[string]string{"name": "Strides", "tempo": "fast"})
	assert.ErrorIs(t, err, domain.ErrUnknownField)
	assert.Empty(t, e.Draft().Candidate.Exercises[0].Name)

	require.NoError(t, e.UpdateExerciseRowFields(key, map[string]string{"name": "Strides", "reps": "6"}))
	row := e.Draft().Candidate.Exercises[0]
	assert.Equal(t, "Strides", row.Name)
	assert.Equal(t, "6", row.Reps)
}

func TestSubmit_InvalidDraftIsUntouched(t *testing.T) {
	e, s := newEditor(t)
	fill(t, e, map[string]string{"title": "Stretch", "type": "Yoga", "duration": "0", "calories": "-3"})
	before := e.Draft()
	version := s.Version()

	m, err := e.Submit(context.Background())
	assert.Nil(t, m)
	var verrs domain.ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.True(t, verrs.Has("duration"))
	assert.True(t, verrs.Has("calories"))

	assert.Equal(t, before, e.Draft())
	assert.Equal(t, version, s.Version())
	assert.Empty(t, s.Workouts())
}

func TestSubmit_CreateResetsDraft(t *testing.T) {
	e, s := newEditor(t)
	fill(t, e, map[string]string{"title": "Stretch", "type": "Yoga", "duration": "30", "calories": "200"})
	key := e.AddExerciseRow()
	require.NoError(t, e.UpdateExerciseRow(key, "name", "Sun salutation"))

	m, err := e.Submit(context.Background())
	require.NoError(t, err)
	require.NoError(t, m.Wait(context.Background()))

	assert.Equal(t, draft.ModeNew, e.Draft().Mode)
	assert.Empty(t, e.Draft().Candidate.Title)

	ws := s.Workouts()
	require.Len(t, ws, 1)
	assert.Equal(t, "Stretch", ws[0].Title)
	assert.Equal(t, "2024-06-01", ws[0].Date)
	require.Len(t, ws[0].Exercises, 1)
	assert.Equal(t, "Sun salutation", ws[0].Exercises[0].Name)
}

func TestSubmit_EditUpdatesRecord(t *testing.T) {
	e, s := newEditor(t)
	fill(t, e, map[string]string{"title": "Swim", "type": "Swimming", "duration": "40", "calories": "350"})
	m, err := e.Submit(context.Background())
	require.NoError(t, err)
	require.NoError(t, m.Wait(context.Background()))

	w, ok := s.Lookup(m.RemoteID())
	require.True(t, ok)

	e.StartEdit(w)
	require.NoError(t, e.SetField("duration", "55"))
	m, err = e.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "update", m.Op())
	require.NoError(t, m.Wait(context.Background()))

	ws := s.Workouts()
	require.Len(t, ws, 1)
	assert.Equal(t, 55, ws[0].Duration)
	assert.Equal(t, w.ID, ws[0].ID)
}

func TestSubmit_StoreErrorKeepsDraft(t *testing.T) {
	e, _ := newEditor(t)
	e.StartEdit(persisted()) // w-1 is not in the store

	before := e.Draft()
	_, err := e.Submit(context.Background())
	assert.ErrorIs(t, err, domain.ErrWorkoutNotFound)
	assert.Equal(t, before, e.Draft())
}

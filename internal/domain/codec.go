package domain

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Field names of a workout document in the remote store
const (
	FieldTitle     = "title"
	FieldType      = "type"
	FieldDuration  = "duration"
	FieldCalories  = "calories"
	FieldTimestamp = "timestamp"
	FieldCreatedAt = "createdAt"
	FieldExercises = "exercises"
)

// ExercisePayload is the persisted shape of an exercise row
type ExercisePayload struct {
	Name   string  `json:"name" bson:"name" firestore:"name"`
	Sets   int     `json:"sets" bson:"sets" firestore:"sets"`
	Reps   int     `json:"reps" bson:"reps" firestore:"reps"`
	Weight float64 `json:"weight" bson:"weight" firestore:"weight"`
}

// Payload is what gets written to the remote store. Local keys never appear here.
// A zero CreatedAt means the remote store assigns it.
type Payload struct {
	Title     string            `json:"title" bson:"title" firestore:"title"`
	Type      WorkoutType       `json:"type" bson:"type" firestore:"type"`
	Duration  int               `json:"duration" bson:"duration" firestore:"duration"`
	Calories  int               `json:"calories" bson:"calories" firestore:"calories"`
	Timestamp time.Time         `json:"timestamp" bson:"timestamp" firestore:"timestamp"`
	CreatedAt time.Time         `json:"createdAt,omitempty" bson:"createdAt,omitempty" firestore:"createdAt,omitempty"`
	Exercises []ExercisePayload `json:"exercises" bson:"exercises" firestore:"exercises"`
}

// Fields flattens the payload into a generic document. Zero timestamps are omitted.
func (p Payload) Fields() map[string]any {
	exs := make([]any, len(p.Exercises))
	for i, ex := range p.Exercises {
		exs[i] = map[string]any{
			"name":   ex.Name,
			"sets":   ex.Sets,
			"reps":   ex.Reps,
			"weight": ex.Weight,
		}
	}
	fields := map[string]any{
		FieldTitle:     p.Title,
		FieldType:      string(p.Type),
		FieldDuration:  p.Duration,
		FieldCalories:  p.Calories,
		FieldExercises: exs,
	}
	if !p.Timestamp.IsZero() {
		fields[FieldTimestamp] = p.Timestamp
	}
	if !p.CreatedAt.IsZero() {
		fields[FieldCreatedAt] = p.CreatedAt
	}
	return fields
}

// RemoteRecord is one document as delivered by a RemoteSyncAdapter snapshot
type RemoteRecord struct {
	ID     string
	Fields map[string]any
}

// ToPersistablePayload strips transient fields and converts the date to a timestamp
func ToPersistablePayload(w Workout) (Payload, error) {
	ts, err := time.ParseInLocation(DateLayout, w.Date, time.UTC)
	if err != nil {
		return Payload{}, &EncodingError{ID: w.ID, Field: "date", Err: err}
	}
	p := Payload{
		Title:     w.Title,
		Type:      w.Type,
		Duration:  w.Duration,
		Calories:  w.Calories,
		Timestamp: ts,
		CreatedAt: w.CreatedAt,
		Exercises: make([]ExercisePayload, len(w.Exercises)),
	}
	for i, ex := range w.Exercises {
		p.Exercises[i] = ExercisePayload{Name: ex.Name, Sets: ex.Sets, Reps: ex.Reps, Weight: ex.Weight}
	}
	return p, nil
}

var errWrongType = errors.New("unexpected value type")

// FromRemoteRecord decodes a remote document. A missing timestamp yields DateUnknown
// and missing or non-finite numbers decode as zero; a field of the wrong type is an
// EncodingError for this record only.
func FromRemoteRecord(id string, fields map[string]any) (Workout, error) {
	w := Workout{ID: id, Exercises: []Exercise{}}
	var err error

	if w.Title, err = stringField(fields, FieldTitle); err != nil {
		return Workout{}, &EncodingError{ID: id, Field: FieldTitle, Err: err}
	}
	typ, err := stringField(fields, FieldType)
	if err != nil {
		return Workout{}, &EncodingError{ID: id, Field: FieldType, Err: err}
	}
	w.Type = WorkoutType(typ)
	if w.Duration, err = intField(fields[FieldDuration]); err != nil {
		return Workout{}, &EncodingError{ID: id, Field: FieldDuration, Err: err}
	}
	if w.Calories, err = intField(fields[FieldCalories]); err != nil {
		return Workout{}, &EncodingError{ID: id, Field: FieldCalories, Err: err}
	}
	if w.Timestamp, err = timeField(fields[FieldTimestamp]); err != nil {
		return Workout{}, &EncodingError{ID: id, Field: FieldTimestamp, Err: err}
	}
	w.Date = DateFromTimestamp(w.Timestamp)
	if w.CreatedAt, err = timeField(fields[FieldCreatedAt]); err != nil {
		return Workout{}, &EncodingError{ID: id, Field: FieldCreatedAt, Err: err}
	}

	raw, ok := fields[FieldExercises]
	if !ok || raw == nil {
		return w, nil
	}
	rows, ok := raw.([]any)
	if !ok {
		return Workout{}, &EncodingError{ID: id, Field: FieldExercises, Err: errWrongType}
	}
	for i, r := range rows {
		ex, err := exerciseFromMap(r)
		if err != nil {
			return Workout{}, &EncodingError{ID: id, Field: fmt.Sprintf("%s[%d]", FieldExercises, i), Err: err}
		}
		w.Exercises = append(w.Exercises, ex)
	}
	return w, nil
}

func exerciseFromMap(raw any) (Exercise, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return Exercise{}, errWrongType
	}
	name, err := stringField(m, "name")
	if err != nil {
		return Exercise{}, err
	}
	ex := Exercise{LocalKey: NewLocalKey(), Name: name}
	if ex.Sets, err = intField(m["sets"]); err != nil {
		return Exercise{}, err
	}
	if ex.Reps, err = intField(m["reps"]); err != nil {
		return Exercise{}, err
	}
	if ex.Weight, err = floatField(m["weight"]); err != nil {
		return Exercise{}, err
	}
	return ex, nil
}

func stringField(m map[string]any, key string) (string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", errWrongType
	}
	return s, nil
}

// intField truncates toward zero. Values outside the int range read as 0, like
// non-finite ones.
func intField(v any) (int, error) {
	f, err := floatField(v)
	if err != nil {
		return 0, err
	}
	if f >= float64(math.MaxInt) || f < float64(math.MinInt) {
		return 0, nil
	}
	return int(f), nil
}

func floatField(v any) (float64, error) {
	var f float64
	switch n := v.(type) {
	case nil:
		return 0, nil
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case float32:
		f = float64(n)
	case float64:
		f = n
	default:
		return 0, errWrongType
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, nil
	}
	return f, nil
}

func timeField(v any) (time.Time, error) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return t.UTC(), nil
	case *time.Time:
		if t == nil {
			return time.Time{}, nil
		}
		return t.UTC(), nil
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, err
		}
		return parsed.UTC(), nil
	default:
		return time.Time{}, errWrongType
	}
}

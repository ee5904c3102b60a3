// Package view derives filtered lists and summary statistics from a workout collection.
package view

import (
	"fmt"
	"sync"

	"github.com/mansoorceksport/fitsync/internal/domain"
)

// Filter is either FilterAll or a workout type
type Filter string

const FilterAll Filter = "all"

// ParseFilter accepts "all", an empty string, or a workout type name
func ParseFilter(s string) (Filter, error) {
	if s == "" || s == string(FilterAll) {
		return FilterAll, nil
	}
	if !domain.WorkoutType(s).Valid() {
		return "", fmt.Errorf("unknown filter %q", s)
	}
	return Filter(s), nil
}

// Stats is the aggregate shown above the history list
type Stats struct {
	Count         int `json:"count"`
	TotalDuration int `json:"total_duration"`
	TotalCalories int `json:"total_calories"`
}

// FilteredView keeps the workouts matching f, preserving their order
func FilteredView(ws []domain.Workout, f Filter) []domain.Workout {
	if f == FilterAll || f == "" {
		return ws
	}
	out := make([]domain.Workout, 0, len(ws))
	for _, w := range ws {
		if string(w.Type) == string(f) {
			out = append(out, w)
		}
	}
	return out
}

// Aggregate sums a view. Records decoded from malformed remote data carry zeros, so
// they count but add nothing.
func Aggregate(ws []domain.Workout) Stats {
	st := Stats{Count: len(ws)}
	for _, w := range ws {
		st.TotalDuration += w.Duration
		st.TotalCalories += w.Calories
	}
	return st
}

// Source is a versioned collection, typically a *store.Store
type Source interface {
	Version() uint64
	Snapshot() ([]domain.Workout, uint64)
}

// Result is one computed view
type Result struct {
	Version  uint64           `json:"version"`
	Filter   Filter           `json:"filter"`
	Workouts []domain.Workout `json:"workouts"`
	Stats    Stats            `json:"stats"`
}

type cacheKey struct {
	version uint64
	filter  Filter
}

// Engine memoizes results per (collection version, filter). Entries for older
// versions are dropped as soon as a newer version is seen.
type Engine struct {
	mu     sync.Mutex
	latest uint64
	cache  map[cacheKey]Result
}

func NewEngine() *Engine {
	return &Engine{cache: make(map[cacheKey]Result)}
}

// Compute returns the filtered view and its aggregate for the current state of src.
// Results are shared between callers and must not be modified.
func (e *Engine) Compute(src Source, f Filter) Result {
	if r, ok := e.lookup(cacheKey{version: src.Version(), filter: f}); ok {
		return r
	}

	ws, version := src.Snapshot()
	key := cacheKey{version: version, filter: f}
	if r, ok := e.lookup(key); ok {
		return r
	}

	view := FilteredView(ws, f)
	r := Result{Version: version, Filter: f, Workouts: view, Stats: Aggregate(view)}

	e.mu.Lock()
	defer e.mu.Unlock()
	if version > e.latest {
		e.latest = version
		for k := range e.cache {
			if k.version < version {
				delete(e.cache, k)
			}
		}
	}
	if version == e.latest {
		e.cache[key] = r
	}
	return r
}

func (e *Engine) lookup(key cacheKey) (Result, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.cache[key]
	return r, ok
}

// Len reports the number of memoized results
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.cache)
}

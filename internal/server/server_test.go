package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/mansoorceksport/fitsync/internal/config"
	"github.com/mansoorceksport/fitsync/internal/middleware"
	"github.com/mansoorceksport/fitsync/internal/repository"
	"github.com/mansoorceksport/fitsync/internal/service"
	"github.com/mansoorceksport/fitsync/internal/session"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type memoryExports struct {
	mu      sync.Mutex
	objects map[string][]repository.ExportObject
	bodies  map[string][]byte
}

func (m *memoryExports) Save(_ context.Context, ownerID string, body []byte) (*repository.ExportObject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := "exports/" + ownerID + "/" + time.Now().Format(time.RFC3339Nano) + ".json"
	obj := repository.ExportObject{Key: key, URL: "http://s3.test/" + key, Size: int64(len(body)), CreatedAt: time.Now()}
	m.objects[ownerID] = append([]repository.ExportObject{obj}, m.objects[ownerID]...)
	m.bodies[key] = body
	return &obj, nil
}

func (m *memoryExports) List(_ context.Context, ownerID string) ([]repository.ExportObject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.objects[ownerID], nil
}

type testEnv struct {
	app      *fiber.App
	adapter  *repository.MemoryWorkoutAdapter
	auth     *service.MockAuthClient
	sessions *session.Manager
}

func newTestEnv(t *testing.T, exports service.ExportStore) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	cfg := &config.Config{}
	cfg.Sync.Backend = config.BackendMemory
	cfg.JWT.Secret = "test-secret-key-123"
	cfg.JWT.TTL = time.Hour
	cfg.Redis.IdempotencyTTL = time.Minute

	adapter := repository.NewMemoryWorkoutAdapter()
	sessions := session.NewManager(adapter, time.Hour)
	t.Cleanup(func() { _ = sessions.Close() })

	mockAuth := service.NewMockAuthClient()
	app := NewApp(AppDependencies{
		Config:      cfg,
		Sessions:    sessions,
		RedisClient: redisClient,
		AuthClient:  mockAuth,
		Exports:     exports,
	})
	return &testEnv{app: app, adapter: adapter, auth: mockAuth, sessions: sessions}
}

func (e *testEnv) request(t *testing.T, method, path, token string, body any, headers ...string) *http.Response {
	t.Helper()
	var bodyReader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		bodyReader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, path, bodyReader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func (e *testEnv) signIn(t *testing.T, uid string) string {
	t.Helper()
	e.auth.AddMockUser("firebase_"+uid, uid, uid+"@fitsync.test")
	resp := e.request(t, http.MethodPost, "/v1/auth/session", "firebase_"+uid, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var out map[string]any
	decode(t, resp, &out)
	assert.Equal(t, uid, out["owner_id"])
	return out["token"].(string)
}

func decode(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func workoutBody(title, typ string, duration, calories int) map[string]any {
	return map[string]any{
		"title":    title,
		"type":     typ,
		"duration": duration,
		"calories": calories,
		"date":     "2024-06-01",
		"exercises": []map[string]any{
			{"name": "Squat", "sets": 5, "reps": 5, "weight": "100"},
		},
	}
}

type listResponse struct {
	Version  uint64 `json:"version"`
	Filter   string `json:"filter"`
	Workouts []struct {
		ID       string `json:"id"`
		Title    string `json:"title"`
		Type     string `json:"type"`
		Duration int    `json:"duration"`
		Pending  bool   `json:"pending"`
	} `json:"workouts"`
	Stats struct {
		Count         int `json:"count"`
		TotalDuration int `json:"total_duration"`
		TotalCalories int `json:"total_calories"`
	} `json:"stats"`
}

func (e *testEnv) list(t *testing.T, token, filter string) listResponse {
	t.Helper()
	resp := e.request(t, http.MethodGet, "/v1/me/workouts?filter="+filter, token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out listResponse
	decode(t, resp, &out)
	return out
}

func TestGoldenPath(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.signIn(t, "uid_runner")

	initial := env.list(t, token, "")
	assert.Empty(t, initial.Workouts)
	assert.Equal(t, "all", initial.Filter)

	// Create and wait for the remote id
	resp := env.request(t, http.MethodPost, "/v1/me/workouts?wait=true", token, workoutBody("Morning run", "Run", 30, 300))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created map[string]any
	decode(t, resp, &created)
	assert.Equal(t, "create", created["op"])
	assert.Equal(t, "applied", created["status"])
	runID := created["remote_id"].(string)
	require.NotEmpty(t, runID)

	resp = env.request(t, http.MethodPost, "/v1/me/workouts?wait=true", token, workoutBody("Leg day", "Weights", 50, 400))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	decode(t, resp, &created)
	legID := created["remote_id"].(string)

	all := env.list(t, token, "all")
	require.Len(t, all.Workouts, 2)
	assert.Equal(t, 2, all.Stats.Count)
	assert.Equal(t, 80, all.Stats.TotalDuration)
	assert.Equal(t, 700, all.Stats.TotalCalories)

	runs := env.list(t, token, "Run")
	require.Len(t, runs.Workouts, 1)
	assert.Equal(t, runID, runs.Workouts[0].ID)

	resp = env.request(t, http.MethodGet, "/v1/me/workouts/stats?filter=Weights", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stats map[string]any
	decode(t, resp, &stats)
	assert.Equal(t, float64(1), stats["stats"].(map[string]any)["count"])

	// Update
	resp = env.request(t, http.MethodPut, "/v1/me/workouts/"+runID+"?wait=true", token, workoutBody("Morning run", "Run", 45, 450))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 95, env.list(t, token, "").Stats.TotalDuration)

	// Start a draft from a template, fill it in and submit it
	resp = env.request(t, http.MethodPost, "/v1/me/draft/template/"+legID, token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var draft map[string]any
	decode(t, resp, &draft)
	assert.Equal(t, "template", draft["mode"])
	candidate := draft["candidate"].(map[string]any)
	assert.Equal(t, "Leg day", candidate["title"])
	assert.Empty(t, candidate["duration"])

	resp = env.request(t, http.MethodPatch, "/v1/me/draft", token, map[string]any{"duration": 40, "calories": "380"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.request(t, http.MethodPost, "/v1/me/draft/exercises", token, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var row map[string]any
	decode(t, resp, &row)
	key := row["local_key"].(string)

	resp = env.request(t, http.MethodPatch, "/v1/me/draft/exercises/"+key, token, map[string]any{"name": "Deadlift", "sets": 3, "reps": 5, "weight": 140})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.request(t, http.MethodPost, "/v1/me/draft/submit?wait=true", token, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Len(t, env.list(t, token, "Weights").Workouts, 2)

	resp = env.request(t, http.MethodGet, "/v1/me/draft", token, nil)
	decode(t, resp, &draft)
	assert.Equal(t, "new", draft["mode"], "submit resets the form")

	// Delete
	resp = env.request(t, http.MethodDelete, "/v1/me/workouts/"+runID+"?wait=true", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, env.list(t, token, "Run").Workouts)

	// Sign out drops the live subscription
	require.Equal(t, 1, env.adapter.Subscribers("uid_runner"))
	resp = env.request(t, http.MethodDelete, "/v1/auth/session", token, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Zero(t, env.adapter.Subscribers("uid_runner"))
	assert.Zero(t, env.sessions.Len())
}

func TestCreate_ValidationProblem(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.signIn(t, "uid_a")

	body := workoutBody("", "Dance", 0, -5)
	resp := env.request(t, http.MethodPost, "/v1/me/workouts", token, body)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "application/problem+json", resp.Header.Get("Content-Type"))

	var problem struct {
		Status int `json:"status"`
		Errors []struct {
			Field string `json:"field"`
		} `json:"errors"`
	}
	decode(t, resp, &problem)
	assert.Equal(t, http.StatusUnprocessableEntity, problem.Status)
	fields := make([]string, len(problem.Errors))
	for i, fe := range problem.Errors {
		fields[i] = fe.Field
	}
	assert.ElementsMatch(t, []string{"title", "type", "duration", "calories"}, fields)
	assert.Empty(t, env.list(t, token, "").Workouts, "nothing is inserted")
}

func TestCreate_RemoteFailureRollsBack(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.signIn(t, "uid_a")
	env.adapter.SetWriteHook(func(_ context.Context, op, _, _ string) error {
		if op == "create" {
			return errors.New("quota exceeded")
		}
		return nil
	})

	resp := env.request(t, http.MethodPost, "/v1/me/workouts?wait=true", token, workoutBody("Swim", "Swimming", 30, 250))
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	var problem map[string]any
	decode(t, resp, &problem)
	assert.Equal(t, true, problem["retryable"])
	assert.Empty(t, env.list(t, token, "").Workouts)
}

func TestCreate_RollbackRecordedOnRequestSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	env := newTestEnv(t, nil)
	token := env.signIn(t, "uid_a")
	env.adapter.SetWriteHook(func(_ context.Context, op, _, _ string) error {
		if op == "create" {
			return errors.New("quota exceeded")
		}
		return nil
	})

	resp := env.request(t, http.MethodPost, "/v1/me/workouts?wait=true", token, workoutBody("Swim", "Swimming", 30, 250))
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)

	var found bool
	for _, span := range recorder.Ended() {
		if span.Name() != "POST /v1/me/workouts" {
			continue
		}
		for _, ev := range span.Events() {
			if ev.Name == "mutation.rolled_back" {
				found = true
				assert.Contains(t, ev.Attributes, attribute.String("op", "create"))
			}
		}
	}
	assert.True(t, found, "rollback event on the request span")
}

func TestUpdate_UnknownWorkout(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.signIn(t, "uid_a")

	resp := env.request(t, http.MethodPut, "/v1/me/workouts/missing", token, workoutBody("Ride", "Cycling", 60, 500))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = env.request(t, http.MethodPost, "/v1/me/draft/edit/missing", token, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreate_IdempotentReplay(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.signIn(t, "uid_a")
	body := workoutBody("Yoga flow", "Yoga", 30, 120)

	first := env.request(t, http.MethodPost, "/v1/me/workouts?wait=true", token, body, middleware.CorrelationIDHeader, "retry-1")
	require.Equal(t, http.StatusCreated, first.StatusCode)
	firstBody, err := io.ReadAll(first.Body)
	require.NoError(t, err)

	second := env.request(t, http.MethodPost, "/v1/me/workouts?wait=true", token, body, middleware.CorrelationIDHeader, "retry-1")
	require.Equal(t, http.StatusCreated, second.StatusCode)
	assert.Equal(t, "true", second.Header.Get("X-Idempotent-Replay"))
	secondBody, err := io.ReadAll(second.Body)
	require.NoError(t, err)
	assert.JSONEq(t, string(firstBody), string(secondBody))

	assert.Len(t, env.list(t, token, "").Workouts, 1)
}

func TestOwnersAreIsolated(t *testing.T) {
	env := newTestEnv(t, nil)
	alice := env.signIn(t, "uid_alice")
	bob := env.signIn(t, "uid_bob")

	resp := env.request(t, http.MethodPost, "/v1/me/workouts?wait=true", alice, workoutBody("Run", "Run", 20, 200))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	assert.Len(t, env.list(t, alice, "").Workouts, 1)
	assert.Empty(t, env.list(t, bob, "").Workouts)
}

func TestExport(t *testing.T) {
	exports := &memoryExports{objects: map[string][]repository.ExportObject{}, bodies: map[string][]byte{}}
	env := newTestEnv(t, exports)
	token := env.signIn(t, "uid_a")

	resp := env.request(t, http.MethodPost, "/v1/me/workouts?wait=true", token, workoutBody("Run", "Run", 20, 200))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = env.request(t, http.MethodPost, "/v1/me/workouts/export?filter=Run", token, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var obj repository.ExportObject
	decode(t, resp, &obj)

	var doc service.HistoryExport
	require.NoError(t, json.Unmarshal(exports.bodies[obj.Key], &doc))
	assert.Equal(t, "uid_a", doc.OwnerID)
	assert.Equal(t, 1, doc.Stats.Count)

	resp = env.request(t, http.MethodGet, "/v1/me/workouts/exports", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listed map[string][]repository.ExportObject
	decode(t, resp, &listed)
	assert.Len(t, listed["exports"], 1)
}

func TestDisabledFeatures(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.signIn(t, "uid_a")

	resp := env.request(t, http.MethodPost, "/v1/me/workouts/export", token, nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	chat := map[string]any{"messages": []map[string]string{{"role": "user", "content": "How long should I rest?"}}}
	resp = env.request(t, http.MethodPost, "/v1/me/assistant/chat", token, chat)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp = env.request(t, http.MethodPost, "/v1/me/assistant/chat", token, map[string]any{"messages": []any{}})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestBadInput(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.signIn(t, "uid_a")

	resp := env.request(t, http.MethodGet, "/v1/me/workouts?filter=Dance", token, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.request(t, http.MethodPatch, "/v1/me/draft", token, map[string]any{"mood": "great"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.request(t, http.MethodDelete, "/v1/me/draft/exercises/nope", token, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAuth(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.request(t, http.MethodGet, "/v1/me/workouts", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = env.request(t, http.MethodGet, "/v1/me/workouts", "forged", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = env.request(t, http.MethodPost, "/v1/auth/session", "unknown-firebase-token", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = env.request(t, http.MethodPost, "/v1/auth/session", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestGridAndHealth(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.request(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.request(t, http.MethodGet, "/v1/grid?rows=3", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var grid struct {
		Grid []service.GridRow `json:"grid"`
	}
	decode(t, resp, &grid)
	assert.Len(t, grid.Grid, 3)

	resp = env.request(t, http.MethodPost, "/v1/grid", "", map[string]any{"grid": grid.Grid})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var saved map[string]any
	decode(t, resp, &saved)
	assert.Equal(t, true, saved["ok"])
}

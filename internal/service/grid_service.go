package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mansoorceksport/fitsync/internal/config"
	log "github.com/sirupsen/logrus"
)

const maxGridRows = 500

// GridRow is one row of the editable grid prototype
type GridRow struct {
	ID   int    `json:"id"`
	ColA string `json:"col_A"`
	ColB string `json:"col_B"`
	ColC string `json:"col_C"`
	ColD string `json:"col_D"`
}

// SaveOutcome is whatever the grid endpoint answered; the mock answers {"ok": true}
type SaveOutcome map[string]any

// GridService loads and saves grid rows through GRID_API_URL. Without a URL it serves
// blank mock rows.
type GridService struct {
	baseURL    string
	httpClient *http.Client
}

func NewGridService(cfg config.GridConfig) *GridService {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &GridService{
		baseURL:    strings.TrimRight(cfg.APIURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// FetchInitialGrid returns rows from the remote endpoint, or the mock when the endpoint
// is unset or fails
func (s *GridService) FetchInitialGrid(ctx context.Context, rows int) []GridRow {
	if rows <= 0 {
		rows = 10
	}
	if rows > maxGridRows {
		rows = maxGridRows
	}
	if s.baseURL == "" {
		return mockGrid(rows)
	}

	remote, err := s.fetch(ctx, rows)
	if err != nil {
		log.WithError(err).Warn("grid fetch failed, serving mock rows")
		return mockGrid(rows)
	}
	return remote
}

func (s *GridService) fetch(ctx context.Context, rows int) ([]GridRow, error) {
	url := fmt.Sprintf("%s/grid?rows=%d", s.baseURL, rows)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("grid api error (status %d)", resp.StatusCode)
	}

	var out []GridRow
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return out, nil
}

// SaveGrid posts the rows. Without an endpoint it pretends to succeed; when the
// endpoint fails the outcome is nil.
func (s *GridService) SaveGrid(ctx context.Context, rows []GridRow) SaveOutcome {
	if s.baseURL == "" {
		log.WithField("rows", len(rows)).Info("grid mock save")
		return SaveOutcome{"ok": true}
	}

	outcome, err := s.save(ctx, rows)
	if err != nil {
		log.WithError(err).Warn("grid save failed")
		return nil
	}
	return outcome
}

func (s *GridService) save(ctx context.Context, rows []GridRow) (SaveOutcome, error) {
	payload, err := json.Marshal(map[string]any{"grid": rows})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/grid", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("grid api error (status %d)", resp.StatusCode)
	}

	var outcome SaveOutcome
	if err := json.NewDecoder(resp.Body).Decode(&outcome); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return outcome, nil
}

func mockGrid(rows int) []GridRow {
	out := make([]GridRow, rows)
	for i := range out {
		out[i] = GridRow{ID: i}
	}
	return out
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mansoorceksport/fitsync/internal/domain"
	"github.com/mansoorceksport/fitsync/internal/repository"
	"github.com/mansoorceksport/fitsync/internal/view"
)

var ErrExportDisabled = errors.New("history export is not configured")

// ExportStore persists export documents; *repository.S3ExportRepository satisfies it
type ExportStore interface {
	Save(ctx context.Context, ownerID string, body []byte) (*repository.ExportObject, error)
	List(ctx context.Context, ownerID string) ([]repository.ExportObject, error)
}

// HistoryExport is the document written for one export
type HistoryExport struct {
	OwnerID    string           `json:"owner_id"`
	ExportedAt time.Time        `json:"exported_at"`
	Filter     view.Filter      `json:"filter"`
	Version    uint64           `json:"version"`
	Stats      view.Stats       `json:"stats"`
	Workouts   []domain.Workout `json:"workouts"`
}

// ExportService snapshots an owner's current view to object storage
type ExportService struct {
	store ExportStore
	now   func() time.Time
}

// NewExportService accepts a nil store, in which case every call is ErrExportDisabled
func NewExportService(store ExportStore) *ExportService {
	return &ExportService{store: store, now: time.Now}
}

// Export writes the result as a JSON document. Pending entries are included and
// flagged as such.
func (s *ExportService) Export(ctx context.Context, ownerID string, res view.Result) (*repository.ExportObject, error) {
	if s.store == nil {
		return nil, ErrExportDisabled
	}
	doc := HistoryExport{
		OwnerID:    ownerID,
		ExportedAt: s.now().UTC(),
		Filter:     res.Filter,
		Version:    res.Version,
		Stats:      res.Stats,
		Workouts:   res.Workouts,
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal export: %w", err)
	}
	return s.store.Save(ctx, ownerID, body)
}

// List returns previous exports of ownerID, newest first
func (s *ExportService) List(ctx context.Context, ownerID string) ([]repository.ExportObject, error) {
	if s.store == nil {
		return nil, ErrExportDisabled
	}
	return s.store.List(ctx, ownerID)
}

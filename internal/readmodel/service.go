// Package readmodel assembles the Program Health view from the projection
// tables. It only reads.
package readmodel

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/programhealth/internal/ir"
	"github.com/roach88/programhealth/internal/metrics"
)

// HistoryLimit is how many snapshots per horizon the view carries.
const HistoryLimit = 10

const tracerName = "github.com/roach88/programhealth/internal/readmodel"

// Reader is the read-only slice of the store the view needs.
// Implemented by *store.Store.
type Reader interface {
	ListActiveCapabilityNodes(ctx context.Context, programID string) ([]ir.CapabilityNode, error)
	ListAbsenceRows(ctx context.Context, programID string) ([]map[string]any, error)
	SnapshotHistory(ctx context.Context, programID string, horizon ir.Horizon, limit int) ([]ir.Snapshot, error)
}

// View is the Program Health view model.
type View struct {
	ProgramID string `json:"programId"`

	// Snapshot is the default snapshot (H1, H2, H3, H0 preference) and
	// SnapshotHorizon names the horizon it came from. Both are nil when no
	// horizon has a snapshot.
	Snapshot        *ir.Snapshot `json:"snapshot"`
	SnapshotHorizon *ir.Horizon  `json:"snapshotHorizon"`

	CapabilityNodes          []ir.CapabilityNode          `json:"capabilityNodes"`
	Absences                 []ir.AbsenceDetermination    `json:"absences"`
	LatestSnapshotsByHorizon map[ir.Horizon]*ir.Snapshot  `json:"latestSnapshotsByHorizon"`
	SnapshotHistoryByHorizon map[ir.Horizon][]ir.Snapshot `json:"snapshotHistoryByHorizon"`
}

// Service builds views.
type Service struct {
	reader Reader
	logger *slog.Logger
	tracer trace.Tracer
}

// NewService creates a read model service.
func NewService(reader Reader, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{reader: reader, logger: logger, tracer: otel.Tracer(tracerName)}
}

// ReadProgramHealthView loads active capability nodes, all absences
// (most recent first, normalized) and the latest plus HistoryLimit most
// recent snapshots for every horizon. Any read error is returned as is;
// a failed read never degrades to an empty view.
func (s *Service) ReadProgramHealthView(ctx context.Context, programID string) (*View, error) {
	ctx, span := s.tracer.Start(ctx, "readmodel.ReadProgramHealthView",
		trace.WithAttributes(attribute.String("program_id", programID)),
	)
	defer span.End()

	view, err := s.read(ctx, programID)
	if err != nil {
		metrics.ReadViews.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "read failed")
		return nil, err
	}
	metrics.ReadViews.WithLabelValues("ok").Inc()
	return view, nil
}

func (s *Service) read(ctx context.Context, programID string) (*View, error) {
	if programID == "" {
		return nil, ir.InvalidArgument("readProgramHealthView", "programId is required")
	}

	nodes, err := s.reader.ListActiveCapabilityNodes(ctx, programID)
	if err != nil {
		return nil, err
	}

	rows, err := s.reader.ListAbsenceRows(ctx, programID)
	if err != nil {
		return nil, err
	}
	absences := make([]ir.AbsenceDetermination, 0, len(rows))
	for _, row := range rows {
		absences = append(absences, NormalizeAbsence(row))
	}

	view := &View{
		ProgramID:                programID,
		CapabilityNodes:          nodes,
		Absences:                 absences,
		LatestSnapshotsByHorizon: make(map[ir.Horizon]*ir.Snapshot, len(ir.Horizons)),
		SnapshotHistoryByHorizon: make(map[ir.Horizon][]ir.Snapshot, len(ir.Horizons)),
	}

	for _, h := range ir.Horizons {
		history, err := s.reader.SnapshotHistory(ctx, programID, h, HistoryLimit)
		if err != nil {
			return nil, err
		}
		view.SnapshotHistoryByHorizon[h] = history
		if len(history) > 0 {
			latest := history[0]
			view.LatestSnapshotsByHorizon[h] = &latest
		} else {
			view.LatestSnapshotsByHorizon[h] = nil
		}
	}

	view.Snapshot, view.SnapshotHorizon = DefaultSnapshot(view.LatestSnapshotsByHorizon)
	return view, nil
}

// DefaultSnapshot picks the first horizon in ir.DefaultHorizonOrder that has
// a snapshot.
func DefaultSnapshot(latest map[ir.Horizon]*ir.Snapshot) (*ir.Snapshot, *ir.Horizon) {
	for _, h := range ir.DefaultHorizonOrder {
		if snap := latest[h]; snap != nil {
			horizon := h
			return snap, &horizon
		}
	}
	return nil, nil
}

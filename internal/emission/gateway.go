// Package emission implements the emission gateway: the only sanctioned
// write path into Program Health. It validates a producer request, binds
// the calling actor, and hands the event to the store's single-transaction
// append-and-project procedure.
package emission

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/programhealth/internal/actor"
	"github.com/roach88/programhealth/internal/ir"
	"github.com/roach88/programhealth/internal/metrics"
)

// Op prefixes every error returned by Emit.
const Op = "emitProgramHealthEvent"

const tracerName = "github.com/roach88/programhealth/internal/emission"

// Emitter is the transactional append-and-project procedure.
// Implemented by *store.Store.
type Emitter interface {
	Emit(ctx context.Context, in ir.CanonicalEventInput) (ir.EmitResult, error)
}

// Request is a producer's emission.
type Request struct {
	ProgramID     string         `json:"programId"`
	Sport         ir.Sport       `json:"sport"`
	Horizon       ir.Horizon     `json:"horizon"`
	InputsHash    string         `json:"inputsHash"`
	ResultPayload map[string]any `json:"resultPayload"`
	ScopeID       *string        `json:"scopeId,omitempty"`
	EngineVersion string         `json:"engineVersion,omitempty"`
	Kind          string         `json:"kind,omitempty"`
}

// Gateway is the emission entry point.
type Gateway struct {
	store  Emitter
	schema *PayloadSchema
	logger *slog.Logger
	tracer trace.Tracer
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the gateway logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// NewGateway creates a gateway over store.
func NewGateway(store Emitter, opts ...Option) (*Gateway, error) {
	schema, err := NewPayloadSchema()
	if err != nil {
		return nil, err
	}
	g := &Gateway{
		store:  store,
		schema: schema,
		logger: slog.Default(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Emit validates req, attaches the actor from ctx (if any) and appends and
// projects the event atomically. Errors carry Op as prefix and keep their
// taxonomy code.
func (g *Gateway) Emit(ctx context.Context, req Request) (ir.EmitResult, error) {
	ctx, span := g.tracer.Start(ctx, "emission.Emit",
		trace.WithAttributes(
			attribute.String("program_id", req.ProgramID),
			attribute.String("horizon", string(req.Horizon)),
		),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		metrics.EmissionDuration.Observe(float64(time.Since(start).Milliseconds()))
	}()

	if err := g.validate(req); err != nil {
		metrics.Emissions.WithLabelValues(metrics.OutcomeRejected).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid emission")
		return ir.EmitResult{}, err
	}

	in := ir.CanonicalEventInput{
		ProgramID:     strings.TrimSpace(req.ProgramID),
		Kind:          req.Kind,
		Sport:         req.Sport,
		Horizon:       req.Horizon,
		InputsHash:    strings.TrimSpace(req.InputsHash),
		ResultPayload: req.ResultPayload,
		EngineVersion: req.EngineVersion,
		ScopeID:       req.ScopeID,
		ActorUserID:   actor.UserID(ctx),
	}

	res, err := g.store.Emit(ctx, in)
	if err != nil {
		err = ir.WithOp(Op, err)
		outcome := metrics.OutcomeFailed
		if code := ir.CodeOf(err); code == ir.ErrCodeInvalidArgument || code == ir.ErrCodeDivergentResubmission {
			outcome = metrics.OutcomeRejected
		}
		metrics.Emissions.WithLabelValues(outcome).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, string(ir.CodeOf(err)))
		g.logger.Warn("emission failed",
			"program_id", in.ProgramID,
			"horizon", in.Horizon,
			"code", ir.CodeOf(err),
			"error", err,
		)
		return ir.EmitResult{}, err
	}

	span.SetAttributes(
		attribute.String("canonical_event_id", res.CanonicalEventID),
		attribute.String("ledger_id", res.LedgerID),
		attribute.Bool("deduplicated", res.Deduplicated),
	)

	if res.Deduplicated {
		metrics.Emissions.WithLabelValues(metrics.OutcomeDeduplicated).Inc()
		g.logger.Info("emission deduplicated",
			"program_id", in.ProgramID,
			"horizon", in.Horizon,
			"canonical_event_id", res.CanonicalEventID,
			"ledger_id", res.LedgerID,
		)
		return res, nil
	}

	metrics.Emissions.WithLabelValues(metrics.OutcomeAccepted).Inc()
	metrics.AbsencesUpserted.Add(float64(res.AbsencesUpserted))
	g.logger.Info("emission accepted",
		"program_id", in.ProgramID,
		"horizon", in.Horizon,
		"canonical_event_id", res.CanonicalEventID,
		"ledger_id", res.LedgerID,
		"absences_upserted", res.AbsencesUpserted,
	)
	return res, nil
}

// validate rejects malformed requests before any write.
func (g *Gateway) validate(req Request) error {
	var problems []string
	if strings.TrimSpace(req.ProgramID) == "" {
		problems = append(problems, "programId is required")
	}
	if strings.TrimSpace(req.InputsHash) == "" {
		problems = append(problems, "inputsHash is required")
	}
	if req.ResultPayload == nil {
		problems = append(problems, "resultPayload is required")
	}
	if !req.Sport.Valid() {
		problems = append(problems, "sport must be xc or tf")
	}
	if !req.Horizon.Valid() {
		problems = append(problems, "horizon must be one of H0, H1, H2, H3")
	}
	if req.ResultPayload != nil {
		for _, msg := range g.schema.Validate(req.ResultPayload) {
			problems = append(problems, "resultPayload."+msg)
		}
	}
	if len(problems) == 0 {
		return nil
	}
	return &ir.KernelError{
		Code:    ir.ErrCodeInvalidArgument,
		Op:      Op,
		Message: strings.Join(problems, "; "),
		Details: problems,
	}
}

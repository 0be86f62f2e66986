package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	billing "estate-billing/internal/billing/domain"
	"estate-billing/internal/observability/metrics"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Rejection reasons reported for units that never reach the engine.
const (
	RejectUnknownUnit  = "unknown_unit"
	RejectEmptyUnitID  = "empty_unit_id"
	RejectMissingOwner = "missing_owner"
	RejectInvalidArea  = "invalid_area"
	RejectInvalidWater = "invalid_water_usage"
)

// RunRequest asks for charges of one period.
type RunRequest struct {
	Period  string   `json:"period"`
	UnitIDs []string `json:"unit_ids,omitempty"`
	DryRun  bool     `json:"dry_run"`
}

// RejectedUnit is a unit left out of a run.
type RejectedUnit struct {
	UnitID string `json:"unit_id"`
	Reason string `json:"reason"`
}

// RunResult is the outcome of a charge run.
type RunResult struct {
	RunID          string                 `json:"run_id"`
	Period         billing.Period         `json:"period"`
	DryRun         bool                   `json:"dry_run"`
	Records        []billing.ChargeRecord `json:"records"`
	Rejected       []RejectedUnit         `json:"rejected,omitempty"`
	ZeroWaterUnits []string               `json:"zero_water_units,omitempty"`
	MissingTariffs int                    `json:"missing_tariffs"`
	StartedAt      time.Time              `json:"started_at"`
	FinishedAt     time.Time              `json:"finished_at"`
}

// ChargeRunService loads reference data, runs the engine in batches and
// persists the resulting charge records.
type ChargeRunService struct {
	loader  ReferenceLoader
	store   ChargeStore
	tariffs TariffSource
	events  EventPublisher
	tx      Transactor
	engine  *billing.Engine
	cfg     Config
	clock   Clock
	logger  *log.Logger
}

// RunOption configures the service.
type RunOption func(*ChargeRunService)

// WithTariffSource replaces the tariffs of every loaded snapshot.
func WithTariffSource(source TariffSource) RunOption {
	return func(s *ChargeRunService) {
		s.tariffs = source
	}
}

// WithEventPublisher publishes ChargesCalculated after each persisted run.
func WithEventPublisher(publisher EventPublisher) RunOption {
	return func(s *ChargeRunService) {
		s.events = publisher
	}
}

// WithTransactor saves records and publishes ChargesCalculated in one
// transaction; a failed publish then fails the run and nothing is stored.
// Without it the event is published after the save and failures are only
// logged.
func WithTransactor(tx Transactor) RunOption {
	return func(s *ChargeRunService) {
		s.tx = tx
	}
}

// WithClock overrides the clock.
func WithClock(clock Clock) RunOption {
	return func(s *ChargeRunService) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewChargeRunService constructs the service.
func NewChargeRunService(loader ReferenceLoader, store ChargeStore, cfg Config, logger *log.Logger, opts ...RunOption) (*ChargeRunService, error) {
	if loader == nil {
		return nil, errors.New("charge run service: nil reference loader")
	}
	if store == nil {
		return nil, errors.New("charge run service: nil charge store")
	}
	cfg, err := cfg.normalize()
	if err != nil {
		return nil, err
	}
	s := &ChargeRunService{
		loader: loader,
		store:  store,
		cfg:    cfg,
		clock:  SystemClock{},
		logger: logger,
		engine: billing.NewEngine(
			billing.WithLogger(logger),
			billing.WithSelectionMode(cfg.SelectionMode),
			billing.WithStrictTariffs(cfg.StrictTariffs),
		),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run calculates charges for the requested period and units.
func (s *ChargeRunService) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	started := s.clock.Now()
	period, err := billing.ParsePeriod(strings.TrimSpace(req.Period))
	if err != nil {
		return nil, err
	}
	result := &RunResult{
		RunID:     "run-" + uuid.NewString(),
		Period:    period,
		DryRun:    req.DryRun,
		StartedAt: started,
	}
	s.logf("charge_run_start", result, "")

	records, err := s.run(ctx, period, req, result)
	duration := s.clock.Now().Sub(started)
	if err != nil {
		metrics.ObserveChargeRun(req.DryRun, metrics.ResultError, len(req.UnitIDs), duration)
		s.logf("charge_run_failed", result, err.Error())
		return nil, err
	}

	result.Records = records
	result.FinishedAt = s.clock.Now()
	for _, record := range records {
		if record.Water.Gross == 0 {
			result.ZeroWaterUnits = append(result.ZeroWaterUnits, record.UnitID)
		}
		for _, ref := range record.MissingTariffs {
			kind, _, _ := strings.Cut(ref, ":")
			metrics.IncMissingTariff(kind)
			result.MissingTariffs++
		}
	}
	metrics.AddRecordsCalculated(len(records))
	metrics.ObserveChargeRun(req.DryRun, metrics.ResultSuccess, len(records)+len(result.Rejected), duration)
	s.logf("charge_run_success", result, "")
	s.publish(ctx, result)
	return result, nil
}

func (s *ChargeRunService) run(ctx context.Context, period billing.Period, req RunRequest, result *RunResult) ([]billing.ChargeRecord, error) {
	snapshot, err := s.loader.LoadSnapshot(ctx, period, req.UnitIDs)
	if err != nil {
		return nil, fmt.Errorf("load reference data: %w", err)
	}
	if s.tariffs != nil {
		tariffs, err := s.tariffs.Tariffs(ctx, period)
		if err != nil {
			return nil, fmt.Errorf("load tariffs: %w", err)
		}
		snapshot.Tariffs = tariffs
	}

	inputs, rejected := buildInputs(snapshot, period, req.UnitIDs)
	result.Rejected = rejected
	for _, r := range rejected {
		metrics.IncRejectedUnit(r.Reason)
		if s.logger != nil {
			s.logger.Printf("event=charge_unit_rejected run_id=%s period=%s unit_id=%s reason=%s", result.RunID, period, r.UnitID, r.Reason)
		}
	}

	ref := billing.ReferenceData{WaterReadings: snapshot.WaterReadings, Tariffs: snapshot.Tariffs}
	records, err := s.calculate(ctx, period, inputs, ref)
	if err != nil {
		return nil, err
	}
	if req.DryRun || len(records) == 0 {
		return records, nil
	}
	if s.tx == nil {
		if err := s.store.SaveAll(ctx, result.RunID, records); err != nil {
			return nil, fmt.Errorf("save charges: %w", err)
		}
		metrics.AddRecordsPersisted(len(records))
		return records, nil
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.store.SaveAll(ctx, result.RunID, records); err != nil {
			return fmt.Errorf("save charges: %w", err)
		}
		if s.events == nil {
			return nil
		}
		event := newChargesCalculated(result.RunID, period, records, s.clock.Now())
		if err := s.events.Publish(ctx, event); err != nil {
			return fmt.Errorf("publish charges calculated: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.AddRecordsPersisted(len(records))
	return records, nil
}

// calculate runs the engine over fixed-size batches with bounded
// concurrency. Output order matches input order.
func (s *ChargeRunService) calculate(ctx context.Context, period billing.Period, inputs []billing.CalculationInput, ref billing.ReferenceData) ([]billing.ChargeRecord, error) {
	batches := chunk(inputs, s.cfg.BatchSize)
	results := make([][]billing.ChargeRecord, len(batches))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for i, batch := range batches {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return fmt.Errorf("%w: %v", ErrRunCancelled, err)
			}
			records, err := s.engine.Calculate(period, batch, ref)
			if err != nil {
				return err
			}
			results[i] = records
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	records := make([]billing.ChargeRecord, 0, len(inputs))
	for _, batch := range results {
		records = append(records, batch...)
	}
	return records, nil
}

// buildInputs joins the snapshot into engine inputs and screens out units
// the engine must not see. Requested ids keep their order; otherwise the
// loader's order is used.
func buildInputs(snapshot ReferenceSnapshot, period billing.Period, unitIDs []string) ([]billing.CalculationInput, []RejectedUnit) {
	units := make(map[string]billing.Unit, len(snapshot.Units))
	for _, unit := range snapshot.Units {
		units[unit.ID] = unit
	}
	vehicles := make(map[string][]billing.Vehicle)
	for _, v := range snapshot.Vehicles {
		vehicles[v.UnitID] = append(vehicles[v.UnitID], v)
	}
	adjustments := make(map[string][]billing.Adjustment)
	for _, a := range snapshot.Adjustments {
		if a.Period != period {
			continue
		}
		adjustments[a.UnitID] = append(adjustments[a.UnitID], a)
	}

	ordered := snapshot.Units
	var rejected []RejectedUnit
	if len(unitIDs) > 0 {
		ordered = make([]billing.Unit, 0, len(unitIDs))
		for _, id := range unitIDs {
			id = strings.TrimSpace(id)
			unit, ok := units[id]
			switch {
			case id == "":
				rejected = append(rejected, RejectedUnit{Reason: RejectEmptyUnitID})
			case !ok:
				rejected = append(rejected, RejectedUnit{UnitID: id, Reason: RejectUnknownUnit})
			default:
				ordered = append(ordered, unit)
			}
		}
	}

	inputs := make([]billing.CalculationInput, 0, len(ordered))
	for _, unit := range ordered {
		if reason := screenUnit(unit, snapshot, period); reason != "" {
			rejected = append(rejected, RejectedUnit{UnitID: unit.ID, Reason: reason})
			continue
		}
		inputs = append(inputs, billing.CalculationInput{
			Unit:        unit,
			Owner:       snapshot.Owners[unit.OwnerID],
			Vehicles:    vehicles[unit.ID],
			Adjustments: adjustments[unit.ID],
		})
	}
	return inputs, rejected
}

func screenUnit(unit billing.Unit, snapshot ReferenceSnapshot, period billing.Period) string {
	if unit.ID == "" {
		return RejectEmptyUnitID
	}
	if _, ok := snapshot.Owners[unit.OwnerID]; !ok || unit.OwnerID == "" {
		return RejectMissingOwner
	}
	if !validQuantity(unit.AreaM2) {
		return RejectInvalidArea
	}
	if !validQuantity(billing.WaterUsage(snapshot.WaterReadings, unit.ID, period)) {
		return RejectInvalidWater
	}
	return ""
}

func validQuantity(value float64) bool {
	return !math.IsNaN(value) && !math.IsInf(value, 0) && value >= 0
}

func chunk(inputs []billing.CalculationInput, size int) [][]billing.CalculationInput {
	if size <= 0 {
		size = defaultBatchSize
	}
	var batches [][]billing.CalculationInput
	for start := 0; start < len(inputs); start += size {
		end := min(start+size, len(inputs))
		batches = append(batches, inputs[start:end])
	}
	return batches
}

// publish runs after a non-transactional save; failures are logged only
// because the records are already stored.
func (s *ChargeRunService) publish(ctx context.Context, result *RunResult) {
	if s.events == nil || s.tx != nil || result.DryRun || len(result.Records) == 0 {
		return
	}
	event := newChargesCalculated(result.RunID, result.Period, result.Records, result.FinishedAt)
	if err := s.events.Publish(ctx, event); err != nil {
		s.logf("charge_event_publish_failed", result, err.Error())
	}
}

func (s *ChargeRunService) logf(event string, result *RunResult, errMsg string) {
	if s.logger == nil {
		return
	}
	s.logger.Printf("event=%s run_id=%s period=%s dry_run=%t records=%d rejected=%d missing_tariffs=%d error=%s",
		event, result.RunID, result.Period, result.DryRun, len(result.Records), len(result.Rejected), result.MissingTariffs, errMsg)
}

package strategy

import (
	"context"
	"strings"

	"algotrader/internal/logger"
	"algotrader/internal/store/strategystore"
	"algotrader/internal/types"
)

// ActiveRun reports which strategy, if any, the current backtest run
// references.
type ActiveRun interface {
	Properties(ctx context.Context) (types.BacktestProperties, error)
}

// DriverSignaler asks the connected backtest driver to halt.
type DriverSignaler interface {
	StopDriver(ctx context.Context) (bool, error)
}

// Service owns strategy definitions: storage, schema validation of the
// technical_analysis document, and the stop signal sent to a running
// driver when its strategy is deleted out from under it.
type Service struct {
	store   *strategystore.Store
	schemas *SchemaRegistry
	run     ActiveRun
	driver  DriverSignaler
}

func NewService(store *strategystore.Store, schemas *SchemaRegistry, run ActiveRun, driver DriverSignaler) *Service {
	return &Service{store: store, schemas: schemas, run: run, driver: driver}
}

// Create validates and persists a new strategy.
func (s *Service) Create(ctx context.Context, strat types.Strategy) (types.Strategy, error) {
	if err := s.validate(strat); err != nil {
		return types.Strategy{}, err
	}
	return s.store.Create(ctx, strat)
}

// Update validates and overwrites an existing strategy. A running
// driver picks the new definition up on its next evaluation cycle.
func (s *Service) Update(ctx context.Context, strat types.Strategy) (types.Strategy, error) {
	if err := s.validate(strat); err != nil {
		return types.Strategy{}, err
	}
	return s.store.Update(ctx, strat)
}

// Delete removes a strategy. When the active backtest run references
// it, the connected driver is told to stop before the row goes away, so
// the driver never keeps evaluating a definition that no longer exists.
// The run itself stays as-is so its trades and properties remain
// inspectable.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if _, err := s.store.Get(ctx, id); err != nil {
		return err
	}
	s.stopDriverIfReferenced(ctx, id)
	return s.store.Delete(ctx, id)
}

func (s *Service) stopDriverIfReferenced(ctx context.Context, id int64) {
	if s.run == nil || s.driver == nil {
		return
	}
	props, err := s.run.Properties(ctx)
	if err != nil {
		// No active run means no driver to signal.
		return
	}
	if props.StrategyID == nil || *props.StrategyID != id {
		return
	}
	stopped, err := s.driver.StopDriver(ctx)
	if err != nil {
		logger.Errorf("deleting strategy %d but driver stop failed: %v", id, err)
		return
	}
	if stopped {
		logger.Infof("strategy %d is being deleted; running driver signalled to stop", id)
	}
}

// Get fetches one strategy.
func (s *Service) Get(ctx context.Context, id int64) (types.Strategy, error) {
	return s.store.Get(ctx, id)
}

// List returns all stored strategies.
func (s *Service) List(ctx context.Context) ([]types.Strategy, error) {
	return s.store.List(ctx)
}

func (s *Service) validate(strat types.Strategy) error {
	if strings.TrimSpace(strat.StrategyName) == "" {
		return &types.ValidationError{Field: "strategy_name", Reason: "required"}
	}
	if strat.LookbackRangeWeeks <= 0 {
		return &types.ValidationError{Field: "lookback_range_weeks", Reason: "must be positive"}
	}
	if strat.MaxWeekPeriod <= 0 {
		return &types.ValidationError{Field: "max_week_period", Reason: "must be positive"}
	}
	if s.schemas != nil {
		if err := s.schemas.ValidateAnalysis(strat.TechnicalAnalysis); err != nil {
			return err
		}
	}
	return nil
}

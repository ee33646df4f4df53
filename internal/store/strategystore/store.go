package strategystore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"algotrader/internal/types"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

type strategyModel struct {
	ID                 int64          `gorm:"column:id;primaryKey;autoIncrement"`
	StrategyName       string         `gorm:"column:strategy_name;uniqueIndex;not null"`
	TechnicalAnalysis  datatypes.JSON `gorm:"column:technical_analysis"`
	LookbackRangeWeeks int            `gorm:"column:lookback_range_weeks"`
	MaxWeekPeriod      int            `gorm:"column:max_week_period"`
	CreatedAtUnix      int64          `gorm:"column:created_at"`
	UpdatedAtUnix      int64          `gorm:"column:updated_at"`
}

func (strategyModel) TableName() string { return "strategies" }

// Store persists strategy definitions using Gorm + SQLite.
type Store struct {
	db *gorm.DB
}

// Open initializes the strategy database at path, creating parent
// directories and migrating the schema.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("strategy store: database path is empty")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	// The DSN uses modernc.org/sqlite pragma syntax; select that driver
	// explicitly so the store works without cgo.
	db, err := gorm.Open(sqlite.Dialector{DriverName: "sqlite", DSN: dsn}, &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&strategyModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: allow a small amount of parallelism for concurrent HTTP
	// reads while keeping lock contention low.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Create inserts a new strategy and returns it with its assigned id.
func (s *Store) Create(ctx context.Context, strat types.Strategy) (types.Strategy, error) {
	now := time.Now()
	model := newStrategyModel(strat)
	model.CreatedAtUnix = now.UnixMilli()
	model.UpdatedAtUnix = now.UnixMilli()
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		if isUniqueViolation(err) {
			return types.Strategy{}, &types.ValidationError{
				Field: "strategy_name", Reason: "a strategy with this name already exists",
			}
		}
		return types.Strategy{}, &types.StorageError{Op: "create strategy", Err: err}
	}
	return modelToStrategy(model), nil
}

// Update overwrites the stored definition for strat.StrategyID.
func (s *Store) Update(ctx context.Context, strat types.Strategy) (types.Strategy, error) {
	model := newStrategyModel(strat)
	res := s.db.WithContext(ctx).Model(&strategyModel{}).
		Where("id = ?", strat.StrategyID).
		Updates(map[string]interface{}{
			"strategy_name":        model.StrategyName,
			"technical_analysis":   model.TechnicalAnalysis,
			"lookback_range_weeks": model.LookbackRangeWeeks,
			"max_week_period":      model.MaxWeekPeriod,
			"updated_at":           time.Now().UnixMilli(),
		})
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			return types.Strategy{}, &types.ValidationError{
				Field: "strategy_name", Reason: "a strategy with this name already exists",
			}
		}
		return types.Strategy{}, &types.StorageError{Op: "update strategy", Err: res.Error}
	}
	if res.RowsAffected == 0 {
		return types.Strategy{}, &types.NotFoundError{Entity: "strategy", ID: fmt.Sprint(strat.StrategyID)}
	}
	return s.Get(ctx, strat.StrategyID)
}

// Delete removes the strategy. Callers decide what a removal means for
// anything still referencing it.
func (s *Store) Delete(ctx context.Context, id int64) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&strategyModel{})
	if res.Error != nil {
		return &types.StorageError{Op: "delete strategy", Err: res.Error}
	}
	if res.RowsAffected == 0 {
		return &types.NotFoundError{Entity: "strategy", ID: fmt.Sprint(id)}
	}
	return nil
}

// Get fetches a single strategy by id.
func (s *Store) Get(ctx context.Context, id int64) (types.Strategy, error) {
	var model strategyModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return types.Strategy{}, &types.NotFoundError{Entity: "strategy", ID: fmt.Sprint(id)}
		}
		return types.Strategy{}, &types.StorageError{Op: "get strategy", Err: err}
	}
	return modelToStrategy(model), nil
}

// List returns all strategies ordered by id.
func (s *Store) List(ctx context.Context) ([]types.Strategy, error) {
	var models []strategyModel
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&models).Error; err != nil {
		return nil, &types.StorageError{Op: "list strategies", Err: err}
	}
	out := make([]types.Strategy, 0, len(models))
	for _, m := range models {
		out = append(out, modelToStrategy(m))
	}
	return out, nil
}

func newStrategyModel(strat types.Strategy) strategyModel {
	analysis := strat.TechnicalAnalysis
	if len(analysis) == 0 {
		analysis = []byte("{}")
	}
	return strategyModel{
		ID:                 strat.StrategyID,
		StrategyName:       strings.TrimSpace(strat.StrategyName),
		TechnicalAnalysis:  datatypes.JSON(analysis),
		LookbackRangeWeeks: strat.LookbackRangeWeeks,
		MaxWeekPeriod:      strat.MaxWeekPeriod,
	}
}

func modelToStrategy(m strategyModel) types.Strategy {
	analysis := []byte(m.TechnicalAnalysis)
	if len(analysis) == 0 {
		analysis = []byte("{}")
	}
	return types.Strategy{
		StrategyID:         m.ID,
		StrategyName:       m.StrategyName,
		TechnicalAnalysis:  analysis,
		LookbackRangeWeeks: m.LookbackRangeWeeks,
		MaxWeekPeriod:      m.MaxWeekPeriod,
	}
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

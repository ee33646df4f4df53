package config

import "strings"

const (
	defaultAppEnv           = "dev"
	defaultAppLogLevel      = "info"
	defaultHTTPAddr         = ":8080"
	defaultLedgerPath       = "data/ledger.db"
	defaultStrategyPath     = "data/strategies.db"
	defaultSchemaPath       = "configs/indicators.yaml"
	defaultDriverSource     = "static"
	defaultDriverSymbol     = "BTCUSDT"
	defaultDriverBalance    = 10000
	defaultPositionFraction = 0.25
)

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.App.Env) == "" {
		c.App.Env = defaultAppEnv
	}
	if strings.TrimSpace(c.App.LogLevel) == "" {
		c.App.LogLevel = defaultAppLogLevel
	}
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		c.HTTP.Addr = defaultHTTPAddr
	}
	if strings.TrimSpace(c.Storage.LedgerPath) == "" {
		c.Storage.LedgerPath = defaultLedgerPath
	}
	if strings.TrimSpace(c.Storage.StrategyPath) == "" {
		c.Storage.StrategyPath = defaultStrategyPath
	}
	if strings.TrimSpace(c.Strategy.SchemaPath) == "" {
		c.Strategy.SchemaPath = defaultSchemaPath
	}
	if strings.TrimSpace(c.Driver.Source) == "" {
		c.Driver.Source = defaultDriverSource
	}
	if strings.TrimSpace(c.Driver.Symbol) == "" {
		c.Driver.Symbol = defaultDriverSymbol
	}
	if c.Driver.StartBalance <= 0 {
		c.Driver.StartBalance = defaultDriverBalance
	}
	if c.Driver.PositionFraction <= 0 || c.Driver.PositionFraction > 1 {
		c.Driver.PositionFraction = defaultPositionFraction
	}
}

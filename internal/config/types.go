package config

// Config is the top-level configuration carrier.
type Config struct {
	App      AppConfig      `toml:"app"`
	HTTP     HTTPConfig     `toml:"http"`
	Storage  StorageConfig  `toml:"storage"`
	Strategy StrategyConfig `toml:"strategy"`
	Driver   DriverConfig   `toml:"driver"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	LogPath  string `toml:"log_path"`
}

type HTTPConfig struct {
	Addr           string   `toml:"addr"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

type StorageConfig struct {
	LedgerPath   string `toml:"ledger_path"`
	StrategyPath string `toml:"strategy_path"`
}

type StrategyConfig struct {
	SchemaPath string `toml:"schema_path"`
}

// DriverConfig gates the in-process simulation driver. Disabled by
// default; external drivers connect over /ws/driver instead.
type DriverConfig struct {
	Enabled          bool    `toml:"enabled"`
	Source           string  `toml:"source"` // "binance" | "static"
	Symbol           string  `toml:"symbol"`
	StartDate        string  `toml:"start_date"` // YYYY-MM-DD
	EndDate          string  `toml:"end_date"`   // YYYY-MM-DD
	StartBalance     float64 `toml:"start_balance"`
	PositionFraction float64 `toml:"position_fraction"`
	TickIntervalMS   int     `toml:"tick_interval_ms"`
	StrategyID       int64   `toml:"strategy_id"`
}

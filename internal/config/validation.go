package config

import (
	"fmt"
	"time"
)

func validate(c *Config) error {
	switch c.App.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("app.log_level must be one of debug/info/warn/error, got %q", c.App.LogLevel)
	}
	if err := c.Driver.validate(); err != nil {
		return err
	}
	return nil
}

func (d *DriverConfig) validate() error {
	if !d.Enabled {
		return nil
	}
	switch d.Source {
	case "binance", "static":
	default:
		return fmt.Errorf("driver.source must be binance or static, got %q", d.Source)
	}
	start, err := time.Parse("2006-01-02", d.StartDate)
	if err != nil {
		return fmt.Errorf("driver.start_date must be YYYY-MM-DD: %w", err)
	}
	end, err := time.Parse("2006-01-02", d.EndDate)
	if err != nil {
		return fmt.Errorf("driver.end_date must be YYYY-MM-DD: %w", err)
	}
	if end.Before(start) {
		return fmt.Errorf("driver.end_date precedes driver.start_date")
	}
	return nil
}

// Dates returns the parsed driver window. Callers must validate first.
func (d *DriverConfig) Dates() (start, end time.Time) {
	start, _ = time.ParseInLocation("2006-01-02", d.StartDate, time.UTC)
	end, _ = time.ParseInLocation("2006-01-02", d.EndDate, time.UTC)
	return start, end
}

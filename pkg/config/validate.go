// Package config loads and validates service configuration.
package config

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var supportedDrivers = map[string]bool{
	"postgres": true,
	"pgx":      true,
	"sqlite":   true,
	"memory":   true,
}

// ValidateCore ensures critical configuration is present and sane.
func (c *Config) ValidateCore() error {
	var problems []string

	if !supportedDrivers[c.Database.Driver] {
		problems = append(problems, fmt.Sprintf("DB_DRIVER (unsupported %q)", c.Database.Driver))
	}
	if c.Database.Driver != "memory" && strings.TrimSpace(c.Database.URL) == "" {
		problems = append(problems, "DATABASE_URL")
	}
	if strings.TrimSpace(c.Server.Port) == "" {
		problems = append(problems, "SERVER_PORT")
	}
	if strings.TrimSpace(c.JWT.Secret) == "" || c.JWT.Secret == "change-this-secret" {
		problems = append(problems, "JWT_SECRET")
	}
	if !validRate(c.Commission.DirectRate) {
		problems = append(problems, "COMMISSION_DIRECT_RATE (must be within [0, 1])")
	}
	if !validRate(c.Commission.BinaryRate) {
		problems = append(problems, "COMMISSION_BINARY_RATE (must be within [0, 1])")
	}
	if c.Placement.MaxAttempts < 1 {
		problems = append(problems, "PLACEMENT_MAX_ATTEMPTS (must be positive)")
	}
	if c.Placement.DefaultDepth < 1 || c.Placement.DefaultDepth > c.Placement.MaxDepth {
		problems = append(problems, "DOWNLINE_DEFAULT_DEPTH (must be within [1, DOWNLINE_MAX_DEPTH])")
	}

	if len(problems) > 0 {
		return fmt.Errorf("missing or invalid configuration: %s", strings.Join(problems, ", "))
	}

	return nil
}

func validRate(rate decimal.Decimal) bool {
	return !rate.IsNegative() && rate.LessThanOrEqual(decimal.NewFromInt(1))
}

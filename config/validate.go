package config

import (
	"fmt"
	"strings"
)

// Validate performs business-rule validation on the loaded configuration.
// It must be called after loading; Load calls it automatically.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535 (got %d)", c.Server.Port)
	}
	if strings.TrimSpace(c.Database.Path) == "" {
		return fmt.Errorf("database.path is required")
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("log.format must be json or text (got %q)", c.Log.Format)
	}
	if c.Recalc.Delay < 0 {
		return fmt.Errorf("recalc.delay must be >= 0 (got %s)", c.Recalc.Delay)
	}
	if strings.TrimSpace(c.Recalc.Actor) == "" {
		return fmt.Errorf("recalc.actor is required")
	}
	return nil
}

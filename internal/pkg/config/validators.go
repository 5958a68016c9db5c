// internal/pkg/config/validators.go
package config

import (
	"fmt"
	"reflect"
	"strings"
)

// Validator checks a loaded configuration before the process boots.
type Validator interface {
	Validate(cfg *Config) error
}

// BasicValidator enforces the invariants every environment needs: required
// fields present and the numeric knobs inside sane ranges.
type BasicValidator struct{}

func (v *BasicValidator) Validate(cfg *Config) error {
	if err := requiredFields(reflect.ValueOf(cfg).Elem(), ""); err != nil {
		return err
	}

	if cfg.Database.MaxConnections < cfg.Database.MinConnections {
		return fmt.Errorf("database max_connections must be >= min_connections")
	}
	if cfg.Redis.PoolSize <= 0 {
		return fmt.Errorf("redis pool_size must be positive")
	}
	if cfg.Security.RateLimitRequests <= 0 {
		return fmt.Errorf("rate_limit_requests must be positive")
	}

	// A zero scan limit or debounce would freeze the capture loop on the
	// first scan.
	if cfg.Capture.ScanLimit <= 0 {
		return fmt.Errorf("capture scan limit must be positive")
	}
	if cfg.Capture.ScanWindow <= 0 || cfg.Capture.ScanDebounce <= 0 {
		return fmt.Errorf("capture scan window and debounce must be positive")
	}
	if cfg.Capture.SubmitRetries < 1 {
		return fmt.Errorf("capture submit retries must be at least 1")
	}

	return nil
}

// ProductionValidator rejects development conveniences that must never reach
// a real count event.
type ProductionValidator struct{}

func (v *ProductionValidator) Validate(cfg *Config) error {
	if strings.Contains(cfg.Database.Password, "MISSING_") {
		return fmt.Errorf("%w: database password", ErrMissingRequiredConfig)
	}
	if cfg.Database.SSLMode == "disable" {
		return fmt.Errorf("database SSL must be enabled in production")
	}
	if !cfg.Security.SecureHeaders {
		return fmt.Errorf("secure headers must be enabled in production")
	}

	if len(cfg.Security.AllowedOrigins) == 0 {
		return fmt.Errorf("allowed origins must be configured in production")
	}
	for _, origin := range cfg.Security.AllowedOrigins {
		if origin == "*" {
			return fmt.Errorf("wildcard origin (*) not allowed in production")
		}
	}

	if cfg.Server.TLSEnabled && (cfg.Server.TLSCertFile == "" || cfg.Server.TLSKeyFile == "") {
		return fmt.Errorf("TLS cert and key files must be provided when TLS is enabled")
	}

	return nil
}

// requiredFields walks the struct and rejects any field tagged
// required:"true" that is still zero or a MISSING_ placeholder.
func requiredFields(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		name := t.Field(i).Name
		if prefix != "" {
			name = prefix + "." + name
		}

		if t.Field(i).Tag.Get("required") == "true" && isMissing(field) {
			return fmt.Errorf("%w: %s", ErrMissingRequiredConfig, name)
		}

		if field.Kind() == reflect.Struct {
			if err := requiredFields(field, name); err != nil {
				return err
			}
		}
	}

	return nil
}

func isMissing(v reflect.Value) bool {
	if v.Kind() == reflect.String {
		return v.String() == "" || strings.HasPrefix(v.String(), "MISSING_")
	}
	return v.IsZero()
}

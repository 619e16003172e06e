package config

import (
	"fmt"
	"net"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate performs comprehensive validation of the configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	validatePort(cfg.Listen.Port, "listen.port", result)
	if cfg.Listen.MaxHeaderBytes < 6 {
		result.AddError("listen.max_header_bytes", "must be at least the client header size (6 bytes)")
	}
	if cfg.Listen.HandshakeTimeoutS < 1 {
		result.AddError("listen.handshake_timeout_sec", "must be at least 1 second")
	}

	if strings.TrimSpace(cfg.Patch.Directory) == "" {
		result.AddError("patch.directory", "patch directory is required")
	}
	for _, v := range cfg.Patch.AllowedBuilds {
		if strings.Count(v, ".") != 3 {
			result.AddError("patch.allowed_versions", fmt.Sprintf("malformed version %q, expected major.minor.patch.build", v))
		}
	}

	if strings.TrimSpace(cfg.Account.BaseURL) == "" {
		result.AddError("account.base_url", "account service base URL is required")
	}
	if cfg.Account.TimeoutS < 1 {
		result.AddWarning("account.timeout_sec", "timeout under 1s may cause spurious AUTH_SYSTEM_ERROR results")
	}

	if cfg.Admission.PopulationCap < 0 {
		result.AddError("admission.population_cap", "population cap cannot be negative")
	}

	if cfg.Admin.Enabled {
		validatePort(cfg.Admin.Port, "admin.port", result)
		if cfg.Admin.TLSEnabled {
			if strings.TrimSpace(cfg.Admin.TLSCertFile) == "" || strings.TrimSpace(cfg.Admin.TLSKeyFile) == "" {
				result.AddError("admin.tls", "cert and key files are required when admin.tls_enabled is set")
			}
		}
	}

	if cfg.MQTT.Enabled {
		if strings.TrimSpace(cfg.MQTT.BrokerURL) == "" {
			result.AddError("mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		validatePort(cfg.MQTT.Port, "mqtt.port", result)
	}

	return result
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field, fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}

// IsPortAvailable checks if a port is available for binding.
func IsPortAvailable(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}

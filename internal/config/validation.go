package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"keybox/internal/derivation"
)

// ErrInvalidConfig is returned when validation fails.
var ErrInvalidConfig = errors.New("invalid configuration")

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// ValidateConfig performs comprehensive validation of the configuration.
func ValidateConfig(c *Config) error {
	var errs ValidationErrors

	// Validate version
	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	// Validate keystore configuration
	if keystoreErrs := validateKeystore(&c.Keystore); len(keystoreErrs) > 0 {
		errs = append(errs, keystoreErrs...)
	}

	// Validate passphrase configuration
	if passErrs := validatePassphrase(&c.Passphrase); len(passErrs) > 0 {
		errs = append(errs, passErrs...)
	}

	// Validate derivation configuration
	if derivErrs := validateDerivation(&c.Derivation); len(derivErrs) > 0 {
		errs = append(errs, derivErrs...)
	}

	// Validate logging configuration
	if loggingErrs := validateLogging(&c.Logging); len(loggingErrs) > 0 {
		errs = append(errs, loggingErrs...)
	}

	// Validate audit configuration
	if auditErrs := validateAudit(&c.Audit); len(auditErrs) > 0 {
		errs = append(errs, auditErrs...)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateKeystore(k *KeystoreConfig) ValidationErrors {
	var errs ValidationErrors

	if k.Dir == "" {
		errs = append(errs, ValidationError{
			Field:   "keystore.dir",
			Message: "keystore directory is required",
		})
	} else {
		// The directory may not exist yet; reject only a non-directory in its place
		dir := expandPath(k.Dir)
		if info, err := os.Stat(dir); err == nil && !info.IsDir() {
			errs = append(errs, ValidationError{
				Field:   "keystore.dir",
				Message: fmt.Sprintf("not a directory: %s", dir),
			})
		}
	}

	if k.Container == "" {
		errs = append(errs, ValidationError{
			Field:   "keystore.container",
			Message: "container file name is required",
		})
	} else if filepath.Base(k.Container) != k.Container {
		errs = append(errs, ValidationError{
			Field:   "keystore.container",
			Message: fmt.Sprintf("container must be a file name, not a path: %s", k.Container),
		})
	}

	return errs
}

func validatePassphrase(p *PassphraseConfig) ValidationErrors {
	var errs ValidationErrors

	switch p.Source {
	case "terminal", "secret-service", "env":
		// Valid sources
	default:
		errs = append(errs, ValidationError{
			Field:   "passphrase.source",
			Message: fmt.Sprintf("invalid source: %s (valid: terminal, secret-service, env)", p.Source),
		})
	}

	if p.Source == "env" && p.EnvVar == "" {
		errs = append(errs, ValidationError{
			Field:   "passphrase.env_var",
			Message: "environment variable name is required when source is 'env'",
		})
	}

	if p.Source == "secret-service" && len(p.ServiceAttributes) == 0 {
		errs = append(errs, ValidationError{
			Field:   "passphrase.service_attributes",
			Message: "at least one lookup attribute is required when source is 'secret-service'",
		})
	}

	return errs
}

func validateDerivation(d *DerivationConfig) ValidationErrors {
	var errs ValidationErrors

	// Account and index are raw values; hardening is applied at use
	if d.Account >= derivation.HardenedOffset {
		errs = append(errs, ValidationError{
			Field:   "derivation.account",
			Message: fmt.Sprintf("account must be below %d (hardening is applied automatically)", derivation.HardenedOffset),
		})
	}

	if d.Index >= derivation.HardenedOffset {
		errs = append(errs, ValidationError{
			Field:   "derivation.index",
			Message: fmt.Sprintf("index must be below %d", derivation.HardenedOffset),
		})
	}

	if d.Role != "" {
		if _, err := derivation.ParseRole(d.Role); err != nil {
			errs = append(errs, ValidationError{
				Field:   "derivation.role",
				Message: fmt.Sprintf("unknown role: %s", d.Role),
			})
		}
	}

	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	switch l.Level {
	case "debug", "info", "warn", "error":
		// Valid levels
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level: %s (valid: debug, info, warn, error)", l.Level),
		})
	}

	switch l.Format {
	case "text", "json":
		// Valid formats
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format: %s (valid: text, json)", l.Format),
		})
	}

	switch l.Output {
	case "stdout", "stderr":
		// Valid outputs
	case "file", "both":
		if l.FilePath == "" {
			errs = append(errs, ValidationError{
				Field:   "logging.file_path",
				Message: fmt.Sprintf("file path is required when output is '%s'", l.Output),
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("invalid log output: %s (valid: stdout, stderr, file, both)", l.Output),
		})
	}

	if l.MaxSizeMB < 1 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_size_mb",
			Message: "max size must be at least 1 MB",
		})
	}

	if l.MaxBackups < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_backups",
			Message: "max backups cannot be negative",
		})
	}

	if l.MaxAgeDays < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_age_days",
			Message: "max age cannot be negative",
		})
	}

	return errs
}

func validateAudit(a *AuditConfig) ValidationErrors {
	var errs ValidationErrors

	if !a.Enabled {
		return errs // Skip validation if the audit trail is disabled
	}

	if a.FilePath == "" {
		errs = append(errs, ValidationError{
			Field:   "audit.file_path",
			Message: "file path is required when audit is enabled",
		})
	}

	if a.MaxSizeMB < 1 {
		errs = append(errs, ValidationError{
			Field:   "audit.max_size_mb",
			Message: "max size must be at least 1 MB",
		})
	}

	if a.MaxBackups < 0 {
		errs = append(errs, ValidationError{
			Field:   "audit.max_backups",
			Message: "max backups cannot be negative",
		})
	}

	if a.MaxAgeDays < 0 {
		errs = append(errs, ValidationError{
			Field:   "audit.max_age_days",
			Message: "max age cannot be negative",
		})
	}

	return errs
}

// Helper functions

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

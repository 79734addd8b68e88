package utils

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// String length limits
const (
	MaxIDLength      = 128
	MaxPathLength    = 4096
	MaxCommandLength = 16 * 1024
	MaxEnvEntries    = 256
	MaxEnvKeyLength  = 256
	MaxEnvValueSize  = 32 * 1024
)

// ValidateString validates a string field with length and content checks
func ValidateString(value, fieldName string, minLen, maxLen int, required bool) error {
	if required && value == "" {
		return fmt.Errorf("%s is required", fieldName)
	}

	if value == "" && !required {
		return nil // Optional field, empty is OK
	}

	length := utf8.RuneCountInString(value)
	if length < minLen {
		return fmt.Errorf("%s must be at least %d characters", fieldName, minLen)
	}
	if length > maxLen {
		return fmt.Errorf("%s must not exceed %d characters", fieldName, maxLen)
	}

	// NUL cannot cross into argv, env or paths
	if strings.Contains(value, "\x00") {
		return fmt.Errorf("%s contains invalid characters", fieldName)
	}

	return nil
}

// ValidateID validates a session id. Ids are opaque, so only length and NUL
// bytes are checked.
func ValidateID(id, fieldName string, required bool) error {
	return ValidateString(id, fieldName, 1, MaxIDLength, required)
}

// ValidatePath validates an optional filesystem path or command line
func ValidatePath(path, fieldName string) error {
	return ValidateString(path, fieldName, 1, MaxPathLength, false)
}

// ValidateCommand validates a command line written to a shell
func ValidateCommand(command string) error {
	if len(command) > MaxCommandLength {
		return fmt.Errorf("command must not exceed %d bytes", MaxCommandLength)
	}
	return nil
}

// ValidateEnv validates extra environment variables for a new process
func ValidateEnv(env map[string]string) error {
	if len(env) > MaxEnvEntries {
		return fmt.Errorf("env must not exceed %d entries", MaxEnvEntries)
	}
	for key, value := range env {
		if err := ValidateString(key, "env key", 1, MaxEnvKeyLength, true); err != nil {
			return err
		}
		if strings.Contains(key, "=") {
			return fmt.Errorf("env key %q must not contain '='", key)
		}
		if len(value) > MaxEnvValueSize {
			return fmt.Errorf("env value for %q must not exceed %d bytes", key, MaxEnvValueSize)
		}
		if strings.Contains(value, "\x00") {
			return fmt.Errorf("env value for %q contains invalid characters", key)
		}
	}
	return nil
}

package config

import "fmt"

// ErrorType categorizes configuration failures.
type ErrorType string

const (
	ErrParsing    ErrorType = "PARSING_FAILED"
	ErrEnv        ErrorType = "ENV_FAILED"
	ErrValidation ErrorType = "VALIDATION_FAILED"
)

type ConfigError struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config %s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("config %s: %s", e.Type, e.Message)
}

func (e *ConfigError) Unwrap() error { return e.Err }

package utils

import (
	"fmt"

	"github.com/bytedance/sonic"
)

// Body limits (in bytes)
const (
	MaxBodySize  = 256 * 1024 // largest request body a process call accepts
	MaxBodyDepth = 8
)

// BodyValidator validates request bodies before they are bound.
type BodyValidator struct {
	maxSize  int
	maxDepth int
}

// NewBodyValidator creates a validator with the given limits
func NewBodyValidator(maxSize, maxDepth int) *BodyValidator {
	return &BodyValidator{maxSize: maxSize, maxDepth: maxDepth}
}

// DefaultBodyValidator returns a validator with the package limits
func DefaultBodyValidator() *BodyValidator {
	return NewBodyValidator(MaxBodySize, MaxBodyDepth)
}

// ValidateSize checks if the data size is within limits
func (v *BodyValidator) ValidateSize(data []byte) error {
	if len(data) > v.maxSize {
		return fmt.Errorf("body size %d bytes exceeds maximum %d bytes", len(data), v.maxSize)
	}
	return nil
}

// Validate checks size, then structure and nesting depth.
func (v *BodyValidator) Validate(data []byte) error {
	if err := v.ValidateSize(data); err != nil {
		return err
	}
	var js interface{}
	if err := sonic.Unmarshal(data, &js); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return ValidateDepth(js, v.maxDepth)
}

// ValidateDepth checks if JSON nesting depth is within limits
func ValidateDepth(data interface{}, maxDepth int) error {
	return checkDepth(data, 0, maxDepth)
}

func checkDepth(data interface{}, currentDepth int, maxDepth int) error {
	if currentDepth > maxDepth {
		return fmt.Errorf("JSON nesting depth %d exceeds maximum %d", currentDepth, maxDepth)
	}

	switch v := data.(type) {
	case map[string]interface{}:
		for _, value := range v {
			if err := checkDepth(value, currentDepth+1, maxDepth); err != nil {
				return err
			}
		}
	case []interface{}:
		for _, value := range v {
			if err := checkDepth(value, currentDepth+1, maxDepth); err != nil {
				return err
			}
		}
	}

	return nil
}

package inference

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions.
var (
	// ErrModelNotFound is returned when a model file does not exist.
	ErrModelNotFound = errors.New("inference: model file not found")

	// ErrModelLoad is returned when OpenCV could not load a model.
	ErrModelLoad = errors.New("inference: failed to load model")

	// ErrEmptyFrame is returned when the input frame holds no pixels.
	ErrEmptyFrame = errors.New("inference: empty frame")

	// ErrUnexpectedOutput is returned when a model output has an unknown shape.
	ErrUnexpectedOutput = errors.New("inference: unexpected model output")
)

// EstimateError wraps a failure with the model that produced it.
type EstimateError struct {
	Model string // "pose" or "face"
	Err   error
}

// Error implements the error interface.
func (e *EstimateError) Error() string {
	return fmt.Sprintf("inference [%s]: %v", e.Model, e.Err)
}

// Unwrap returns the underlying error.
func (e *EstimateError) Unwrap() error {
	return e.Err
}

// wrapError wraps an error with model context.
func wrapError(model string, err error) error {
	if err == nil {
		return nil
	}
	var ee *EstimateError
	if errors.As(err, &ee) {
		return err
	}
	return &EstimateError{Model: model, Err: err}
}

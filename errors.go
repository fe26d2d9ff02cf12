package pointq

import (
	"errors"
	"fmt"

	"github.com/hupe1980/pointq/knn"
	"github.com/hupe1980/pointq/query"
	"github.com/hupe1980/pointq/resource"
)

var (
	// ErrInvalidHandle is returned for an unknown query or channel handle.
	ErrInvalidHandle = errors.New("invalid handle")

	// ErrInvalidParameter is returned for malformed arguments. The concrete
	// error is a *ParameterError.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrResourceExhausted is returned when a memory budget is exceeded, such
	// as the spatial sampling grid of a query.
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrUnimplemented is returned for argument combinations the engine does
	// not support.
	ErrUnimplemented = errors.New("unimplemented")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("engine closed")
)

// ParameterError describes a malformed argument.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ParameterError struct {
	Name   string
	Reason string
	cause  error
}

func (e *ParameterError) Error() string {
	return fmt.Sprintf("invalid parameter %s: %s", e.Name, e.Reason)
}

func (e *ParameterError) Unwrap() error { return e.cause }

// Is makes every ParameterError match ErrInvalidParameter.
func (e *ParameterError) Is(target error) bool { return target == ErrInvalidParameter }

// HandleError reports an unknown handle.
type HandleError struct {
	Kind   string
	Handle Handle
}

func (e *HandleError) Error() string {
	return fmt.Sprintf("invalid %s handle %s", e.Kind, e.Handle)
}

func (e *HandleError) Unwrap() error { return ErrInvalidHandle }

// ScopeError reports a cloud ID that is not part of the scene.
type ScopeError struct {
	Cloud uint32
}

func (e *ScopeError) Error() string {
	return fmt.Sprintf("invalid cloud %d in scope", e.Cloud)
}

func (e *ScopeError) Unwrap() error { return ErrInvalidHandle }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	// Resource exhaustion.
	if errors.Is(err, query.ErrGridAllocation) || errors.Is(err, resource.ErrMemoryLimitExceeded) {
		return fmt.Errorf("%w: %w", ErrResourceExhausted, err)
	}

	// Malformed arguments.
	switch {
	case errors.Is(err, query.ErrUnsupportedStride):
		return fmt.Errorf("%w: %w", ErrUnimplemented, err)
	case errors.Is(err, query.ErrBufferSize):
		return &ParameterError{Name: "size", Reason: "must be positive", cause: err}
	case errors.Is(err, query.ErrNoBuffers), errors.Is(err, query.ErrShortBuffer):
		return &ParameterError{Name: "buffers", Reason: err.Error(), cause: err}
	case errors.Is(err, query.ErrInvalidDensity):
		return &ParameterError{Name: "density", Reason: err.Error(), cause: err}
	case errors.Is(err, knn.ErrInvalidK):
		return &ParameterError{Name: "k", Reason: "must be positive", cause: err}
	}

	return err
}

package core

import (
	"errors"
	"fmt"
)

var (
	// ErrSwapchainOutOfDate is the only recoverable device condition: the
	// caller resizes its render targets and retries on the next frame.
	ErrSwapchainOutOfDate = errors.New("swapchain out of date")
	ErrDeviceLost         = errors.New("device lost")
	ErrOutOfMemory        = errors.New("out of device memory")

	ErrNoPasses              = errors.New("frame graph has no passes")
	ErrNoPresentAttachment   = errors.New("no present attachment set")
	ErrGraphCompiled         = errors.New("frame graph already compiled")
	ErrCyclicAttachmentUsage = errors.New("cyclic attachment usage")
	ErrInvalidFormat         = errors.New("invalid format")
	ErrInvalidHandle         = errors.New("invalid handle")
	ErrNoPipelineBound       = errors.New("no pipeline bound")
	ErrNotRecording          = errors.New("command buffer is not recording")
	ErrStaleHandle           = errors.New("stale or freed handle")
	ErrLayoutMismatch        = errors.New("shader interface mismatch")
	ErrUnknown               = errors.New("unknown")
)

// ConfigError reports a programmer or configuration mistake detected by a
// precondition check.
type ConfigError struct {
	Op  string
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// NewConfigError builds a ConfigError whose cause wraps sentinel with the
// formatted detail.
func NewConfigError(op string, sentinel error, format string, args ...interface{}) error {
	if format == "" {
		return &ConfigError{Op: op, Err: sentinel}
	}
	return &ConfigError{Op: op, Err: fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))}
}

// DeviceError is a failure returned by the graphics device. Code is the raw
// backend result code and Result its printable name.
type DeviceError struct {
	Op     string
	Code   int32
	Result string
	Err    error
}

func (e *DeviceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s failed with %s (%d): %s", e.Op, e.Result, e.Code, e.Err)
	}
	return fmt.Sprintf("%s failed with %s (%d)", e.Op, e.Result, e.Code)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// IsRecoverable reports whether err can be handled with a resize-and-retry.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrSwapchainOutOfDate)
}

// IsFatal reports whether err leaves the device in an unusable state.
func IsFatal(err error) bool {
	if err == nil || IsRecoverable(err) {
		return false
	}
	var de *DeviceError
	return errors.Is(err, ErrDeviceLost) || errors.Is(err, ErrOutOfMemory) || errors.As(err, &de)
}

package compute

import (
	"errors"
	"fmt"
)

var (
	// ErrDeviceUnavailable indicates the requested platform or device index is out of range.
	ErrDeviceUnavailable = errors.New("compute device unavailable")

	// ErrKernelLaunch indicates a compute operation failed to complete.
	ErrKernelLaunch = errors.New("kernel launch failure")

	// ErrSessionReleased indicates the session was used after Release.
	ErrSessionReleased = errors.New("compute session released")
)

// KernelError records which operation of a plan failed.
type KernelError struct {
	Plan   string
	Kernel string
	Err    error
}

func (e *KernelError) Error() string {
	return fmt.Sprintf("%s: %s/%s: %v", ErrKernelLaunch, e.Plan, e.Kernel, e.Err)
}

func (e *KernelError) Unwrap() error { return e.Err }

func (e *KernelError) Is(target error) bool { return target == ErrKernelLaunch }

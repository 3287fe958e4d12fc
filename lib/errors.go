package alpineami_lib

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotABlockDevice = errors.New("not a block device")
	ErrDeviceNotBlank  = errors.New("device is not blank")
)

// ValidationError is returned when the target device cannot be used.
// Reason is one of ErrNotABlockDevice or ErrDeviceNotBlank.
type ValidationError struct {
	Device string
	Reason error
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("device %s: %s: %s", e.Device, e.Reason, e.Detail)
	}
	return fmt.Sprintf("device %s: %s", e.Device, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Reason
}

// IntegrityError means the downloaded content does not hash to the expected digest.
type IntegrityError struct {
	URL      string
	Expected string
	Actual   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity check failed for %s: expected %s, got %s", e.URL, e.Expected, e.Actual)
}

// FetchError wraps transport failures and unexpected HTTP statuses.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("unable to fetch %s: %s", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// DeviceNodeTimeout is returned when a partition node did not show up after the table was written.
type DeviceNodeTimeout struct {
	Node     string
	Attempts int
}

func (e *DeviceNodeTimeout) Error() string {
	return fmt.Sprintf("device node %s did not appear after %d attempts", e.Node, e.Attempts)
}

// ReleaseMismatch means the installed base system is not the requested release.
type ReleaseMismatch struct {
	Requested string
	Installed string
}

func (e *ReleaseMismatch) Error() string {
	return fmt.Sprintf("requested release %s, but %s was installed", e.Requested, e.Installed)
}

// CommandFailed is returned for any subprocess that exits non-zero.
type CommandFailed struct {
	Command []string
	Status  int
}

func (e *CommandFailed) Error() string {
	return fmt.Sprintf("command '%s' failed with exit status %d", strings.Join(e.Command, " "), e.Status)
}

type UnsupportedArchitecture struct {
	Arch string
}

func (e *UnsupportedArchitecture) Error() string {
	return fmt.Sprintf("unsupported architecture: %s", e.Arch)
}

type UnknownBootloader struct {
	Name string
}

func (e *UnknownBootloader) Error() string {
	return fmt.Sprintf("unknown bootloader: %q", e.Name)
}

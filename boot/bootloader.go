package alpineami_boot

import (
	alpineami_lib "github.com/metastable/alpine-ec2-ami/lib"
)

// Session runs commands as if the target root was the real root
type Session interface {
	Root() string
	Run(command ...string) error
}

// Bootloader is implemented once per variant.
type Bootloader interface {
	// Variant this bootloader implements
	Variant() Variant

	// Package that provides the installer. It is added without running its scripts.
	Package() string

	// Configure rewrites the boot configuration of the target root.
	Configure(root string, kernelOpts string, kernelModules []string) error

	// Install runs the installer inside the chroot session.
	Install(session Session) error
}

type Options struct {
	Device string // target block device, for boot code written outside of partitions
	Arch   string // image CPU architecture
	Exec   alpineami_lib.Executor
}

// NewBootloader dispatches on the variant tag only.
func NewBootloader(variant Variant, opts Options) (Bootloader, error) {
	switch variant {
	case VARIANT_LEGACY:
		return NewLegacyBootloader(opts.Device, opts.Exec), nil
	case VARIANT_EFI:
		return NewEfiBootloader(opts.Arch), nil
	default:
		return nil, &alpineami_lib.UnknownBootloader{Name: variant.String()}
	}
}

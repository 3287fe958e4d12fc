package alpineami_boot

import (
	"fmt"
	"strings"

	alpineami_lib "github.com/metastable/alpine-ec2-ami/lib"
)

// Variant is the boot mechanism of the image. It is decided once per run.
type Variant uint64

const ( // bootloader variant enum
	VARIANT_LEGACY Variant = iota + 1
	VARIANT_EFI
)

// EfiFirmwarePath exists only when the host was booted through EFI
var EfiFirmwarePath = "/sys/firmware/efi"

func (v Variant) String() string {
	switch v {
	case VARIANT_LEGACY:
		return "legacy"
	case VARIANT_EFI:
		return "efi"
	default:
		return fmt.Sprintf("unknown(%d)", uint64(v))
	}
}

var VariantMap = map[string]Variant{
	"legacy":   VARIANT_LEGACY,
	"syslinux": VARIANT_LEGACY,
	"efi":      VARIANT_EFI,
	"grub-efi": VARIANT_EFI,
}

// ParseVariant maps a configured name onto a variant
func ParseVariant(name string) (Variant, error) {
	if v, ok := VariantMap[strings.ToLower(strings.TrimSpace(name))]; ok {
		return v, nil
	}
	return 0, &alpineami_lib.UnknownBootloader{Name: name}
}

// DetectVariant picks EFI when the firmware exposes an EFI interface, legacy otherwise
func DetectVariant() Variant {
	if alpineami_lib.FileExists(EfiFirmwarePath) {
		return VARIANT_EFI
	}
	return VARIANT_LEGACY
}

// SelectVariant resolves "auto" (or nothing) through firmware detection.
func SelectVariant(name string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "auto":
		return DetectVariant(), nil
	}
	return ParseVariant(name)
}

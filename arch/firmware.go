package alpineami_arch

import (
	"fmt"
	"strings"

	alpineami_lib "github.com/metastable/alpine-ec2-ami/lib"
)

// Arch describes how the EFI firmware and GRUB name a CPU architecture.
type Arch struct {
	Name       string // as reported by the kernel, e.g. "x86_64"
	GrubTarget string // grub-install --target
	EfiSuffix  string // suffix of the loader image, e.g. "x64" for bootx64.efi
}

// LoaderName returns the file name grub-install produces under EFI/<bootloader-id>/
func (a *Arch) LoaderName() string {
	return fmt.Sprintf("grub%s.efi", a.EfiSuffix)
}

// FallbackName returns the file name firmware looks for under EFI/boot/
func (a *Arch) FallbackName() string {
	return fmt.Sprintf("boot%s.efi", a.EfiSuffix)
}

type Firmware struct {
	Arch_x86_64  *Arch
	Arch_AARCH64 *Arch

	Architectures []*Arch
}

func NewFirmware() *Firmware {
	fw := new(Firmware)

	fw.Arch_x86_64 = &Arch{
		Name:       "x86_64",
		GrubTarget: "x86_64-efi",
		EfiSuffix:  "x64",
	}

	fw.Arch_AARCH64 = &Arch{
		Name:       "aarch64",
		GrubTarget: "arm64-efi",
		EfiSuffix:  "aa64",
	}

	// Supported architectures
	fw.Architectures = []*Arch{fw.Arch_x86_64, fw.Arch_AARCH64}

	return fw
}

// Normalize maps Go and Debian style names onto kernel names
func Normalize(arch string) string {
	arch = strings.ToLower(strings.TrimSpace(arch))
	switch arch {
	case "amd64", "x86-64":
		return "x86_64"
	case "arm64":
		return "aarch64"
	}
	return arch
}

// GetArch if the architecture naming matches
func (fw Firmware) GetArch(arch string) (*Arch, error) {
	name := Normalize(arch)
	for _, a := range fw.Architectures {
		if a.Name == name {
			return a, nil
		}
	}
	return nil, &alpineami_lib.UnsupportedArchitecture{Arch: arch}
}

// HostArch returns the normalized architecture of the build host, which is also the image architecture.
func HostArch() (string, error) {
	arch, err := alpineami_lib.GetCurrentArchitecture()
	if err != nil {
		return "", err
	}
	return Normalize(arch), nil
}

package alpineami_arch

import (
	"errors"
	"testing"

	alpineami_lib "github.com/metastable/alpine-ec2-ami/lib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetArch(t *testing.T) {
	cases := []struct {
		input    string
		target   string
		loader   string
		fallback string
	}{
		{"x86_64", "x86_64-efi", "grubx64.efi", "bootx64.efi"},
		{"amd64", "x86_64-efi", "grubx64.efi", "bootx64.efi"},
		{"aarch64", "arm64-efi", "grubaa64.efi", "bootaa64.efi"},
		{"ARM64", "arm64-efi", "grubaa64.efi", "bootaa64.efi"},
	}

	fw := NewFirmware()
	for _, c := range cases {
		a, err := fw.GetArch(c.input)
		require.NoError(t, err, c.input)
		assert.Equal(t, c.target, a.GrubTarget)
		assert.Equal(t, c.loader, a.LoaderName())
		assert.Equal(t, c.fallback, a.FallbackName())
	}
}

func TestGetArchUnsupported(t *testing.T) {
	for _, name := range []string{"ppc64le", "s390x", "armv7", ""} {
		_, err := NewFirmware().GetArch(name)
		var unsupported *alpineami_lib.UnsupportedArchitecture
		require.True(t, errors.As(err, &unsupported), name)
		assert.Equal(t, name, unsupported.Arch)
	}
}

package alpineami_boot

import (
	"fmt"
	"os"
	"path"
	"strings"

	wzlib_logger "github.com/infra-whizz/wzlib/logger"
	"github.com/isbm/go-shutil"
	alpineami_arch "github.com/metastable/alpine-ec2-ami/arch"
	alpineami_lib "github.com/metastable/alpine-ec2-ami/lib"
)

const (
	EfiLabel     = "EFI"
	EfiMountPath = "/boot/efi"
)

// EfiBootloader installs grub-efi into the EFI system partition.
type EfiBootloader struct {
	arch         string
	bootloaderID string
	grubDefault  string
	grubConfig   string
	firmware     *alpineami_arch.Firmware

	wzlib_logger.WzLogger
}

func NewEfiBootloader(arch string) *EfiBootloader {
	eb := new(EfiBootloader)
	eb.arch = arch
	eb.bootloaderID = "alpine"
	eb.grubDefault = "/etc/default/grub"
	eb.grubConfig = "/boot/grub/grub.cfg"
	eb.firmware = alpineami_arch.NewFirmware()
	return eb
}

func (eb *EfiBootloader) Variant() Variant {
	return VARIANT_EFI
}

func (eb *EfiBootloader) Package() string {
	return "grub-efi"
}

// Configure /etc/default/grub with the kernel command line and no boot menu pause.
func (eb *EfiBootloader) Configure(root string, kernelOpts string, kernelModules []string) error {
	if _, err := eb.firmware.GetArch(eb.arch); err != nil {
		return err
	}

	target := path.Join(root, eb.grubDefault)
	data, err := readOptional(target)
	if err != nil {
		return err
	}

	data = setKeys(data, []keyValue{{"GRUB_TIMEOUT", "0"}})
	cmdline := strings.TrimSpace(fmt.Sprintf("modules=%s %s", strings.Join(kernelModules, ","), kernelOpts))
	data += fmt.Sprintf("GRUB_CMDLINE_LINUX_DEFAULT=%q\n", cmdline)

	if err := os.MkdirAll(path.Dir(target), 0755); err != nil {
		return err
	}
	eb.GetLogger().Debugf("Writing %s", target)
	return os.WriteFile(target, []byte(data), 0644)
}

// Install grub without touching NVRAM, add the fallback loader and generate grub.cfg
func (eb *EfiBootloader) Install(session Session) error {
	a, err := eb.firmware.GetArch(eb.arch)
	if err != nil {
		return err
	}

	if err := session.Run("grub-install", "--target="+a.GrubTarget, "--efi-directory="+EfiMountPath,
		"--bootloader-id="+eb.bootloaderID, "--boot-directory=/boot", "--no-nvram"); err != nil {
		return err
	}

	// Some firmware ignores boot entries and only looks at the fallback path
	efiRoot := path.Join(session.Root(), EfiMountPath, "EFI")
	loader := path.Join(efiRoot, eb.bootloaderID, a.LoaderName())
	fallback := path.Join(efiRoot, "boot", a.FallbackName())
	if err := os.MkdirAll(path.Dir(fallback), 0755); err != nil {
		return err
	}
	eb.GetLogger().Debugf("Copying %s to %s", loader, fallback)
	if err := shutil.CopyFile(loader, fallback, false); err != nil {
		return fmt.Errorf("unable to install fallback loader: %w", err)
	}

	config := path.Join(session.Root(), eb.grubConfig)
	if alpineami_lib.FileExists(config) {
		eb.GetLogger().Debugf("Keeping previous %s as backup", eb.grubConfig)
		if err := shutil.CopyFile(config, config+".backup", false); err != nil {
			return err
		}
	}

	return session.Run("grub-mkconfig", "-o", eb.grubConfig)
}

package alpineami_boot

import (
	"fmt"
	"os"
	"path"
	"strings"

	wzlib_logger "github.com/infra-whizz/wzlib/logger"
	alpineami_lib "github.com/metastable/alpine-ec2-ami/lib"
)

const (
	RootLabel     = "/"
	SerialConsole = "ttyS0"
)

// LegacyBootloader installs syslinux (extlinux) for BIOS boot.
type LegacyBootloader struct {
	device   string
	exec     alpineami_lib.Executor
	confPath string
	mbrPath  string

	wzlib_logger.WzLogger
}

func NewLegacyBootloader(device string, exec alpineami_lib.Executor) *LegacyBootloader {
	lb := new(LegacyBootloader)
	lb.device = device
	lb.exec = exec
	lb.confPath = "/etc/update-extlinux.conf"
	lb.mbrPath = "/usr/share/syslinux/mbr.bin"
	return lb
}

func (lb *LegacyBootloader) Variant() Variant {
	return VARIANT_LEGACY
}

func (lb *LegacyBootloader) Package() string {
	return "syslinux"
}

// Configure update-extlinux. The root is referenced by label, since device names
// differ between instance families (NVMe vs Xen block devices).
func (lb *LegacyBootloader) Configure(root string, kernelOpts string, kernelModules []string) error {
	target := path.Join(root, lb.confPath)
	data, err := readOptional(target)
	if err != nil {
		return err
	}

	data = setKeys(data, []keyValue{
		{"root", "LABEL=" + RootLabel},
		{"default_kernel_opts", fmt.Sprintf("%q", kernelOpts)},
		{"modules", strings.Join(kernelModules, ",")},
		{"serial_port", SerialConsole},
		{"default", "virt"},
		{"timeout", "1"},
	})

	lb.GetLogger().Debugf("Writing %s", target)
	return os.WriteFile(target, []byte(data), 0644)
}

// Install extlinux into /boot and the syslinux boot code into the MBR of the device
func (lb *LegacyBootloader) Install(session Session) error {
	if lb.device == "" {
		return fmt.Errorf("no target device for the boot code")
	}

	if err := session.Run("extlinux", "--install", "/boot"); err != nil {
		return err
	}

	// update-extlinux validation problems are reported only
	if err := session.Run("update-extlinux", "--warn-only"); err != nil {
		return err
	}

	lb.GetLogger().Infof("Writing syslinux boot code to %s", lb.device)
	return lb.exec.Run(nil, "dd", "bs=440", "count=1", "conv=notrunc",
		"if="+path.Join(session.Root(), lb.mbrPath), "of="+lb.device)
}

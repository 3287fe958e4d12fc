package alpineami_disk

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	wzlib_logger "github.com/infra-whizz/wzlib/logger"
	alpineami_lib "github.com/metastable/alpine-ec2-ami/lib"
)

type signature struct {
	name   string
	offset int64
	magic  []byte
}

// Known partition table and filesystem signatures. Anything matching means the device is in use.
var signatures = []signature{
	{"gpt", 512, []byte("EFI PART")},
	{"ext2/3/4", 1080, []byte{0x53, 0xef}},
	{"xfs", 0, []byte("XFSB")},
	{"btrfs", 0x10040, []byte("_BHRfS_M")},
	{"swap", 4086, []byte("SWAPSPACE2")},
	{"swap", 4086, []byte("SWAP-SPACE")},
	{"luks", 0, []byte("LUKS\xba\xbe")},
	{"iso9660", 0x8001, []byte("CD001")},
	{"squashfs", 0, []byte("hsqs")},
	{"vfat", 0x52, []byte("FAT32")},
	{"vfat", 0x36, []byte("FAT1")},
}

// readFull reports false when the reader is too short for the buffer
func readFull(r io.ReaderAt, buf []byte, offset int64) (bool, error) {
	n, err := r.ReadAt(buf, offset)
	if n == len(buf) {
		return true, nil
	}
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return false, nil
	}
	return false, err
}

// ProbeSignature returns the name of the first signature found, or an empty string for a blank device.
func ProbeSignature(r io.ReaderAt) (string, error) {
	mbr := make([]byte, 512)
	ok, err := readFull(r, mbr, 0)
	if err != nil {
		return "", err
	}
	if ok && mbr[0x1FE] == 0x55 && mbr[0x1FF] == 0xAA {
		return "mbr", nil
	}

	for _, s := range signatures {
		buf := make([]byte, len(s.magic))
		ok, err := readFull(r, buf, s.offset)
		if err != nil {
			return "", err
		}
		if ok && bytes.Equal(buf, s.magic) {
			return s.name, nil
		}
	}

	return "", nil
}

// BlockDeviceValidator refuses anything that is not an unused, blank block device.
type BlockDeviceValidator struct {
	stat     func(string) (os.FileInfo, error)
	procRoot string

	wzlib_logger.WzLogger
}

func NewBlockDeviceValidator() *BlockDeviceValidator {
	bdv := new(BlockDeviceValidator)
	bdv.stat = os.Stat
	bdv.procRoot = alpineami_lib.ProcRoot
	return bdv
}

// SetStat replaces the function used to inspect the device path
func (bdv *BlockDeviceValidator) SetStat(stat func(string) (os.FileInfo, error)) *BlockDeviceValidator {
	bdv.stat = stat
	return bdv
}

// SetProcRoot where the mount table of the build host is looked up
func (bdv *BlockDeviceValidator) SetProcRoot(root string) *BlockDeviceValidator {
	bdv.procRoot = root
	return bdv
}

func (bdv *BlockDeviceValidator) checkIsBlock(device string) error {
	fi, err := bdv.stat(device)
	if err != nil {
		return &alpineami_lib.ValidationError{Device: device, Reason: alpineami_lib.ErrNotABlockDevice, Detail: err.Error()}
	}
	if fi.Mode()&os.ModeDevice == 0 || fi.Mode()&os.ModeCharDevice != 0 {
		return &alpineami_lib.ValidationError{Device: device, Reason: alpineami_lib.ErrNotABlockDevice}
	}
	return nil
}

// isPartitionOf matches the device itself and its numbered partition nodes only
func isPartitionOf(node string, device string) bool {
	if node == device {
		return true
	}
	prefix := strings.TrimSuffix(NodeName(device, 0), "0")
	index := strings.TrimPrefix(node, prefix)
	if index == node || index == "" {
		return false
	}
	for _, c := range index {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func (bdv *BlockDeviceValidator) checkNotMounted(device string) error {
	entries, err := alpineami_lib.MountedSources(bdv.procRoot)
	if err != nil {
		return fmt.Errorf("unable to read mount table: %w", err)
	}

	for _, e := range entries {
		if isPartitionOf(e.Source, device) {
			return &alpineami_lib.ValidationError{Device: device, Reason: alpineami_lib.ErrDeviceNotBlank,
				Detail: fmt.Sprintf("%s is mounted at %s", e.Source, e.MountPoint)}
		}
	}
	return nil
}

// Validate the device before anything is written to it.
func (bdv *BlockDeviceValidator) Validate(device string) error {
	bdv.GetLogger().Infof("Validating target device %s", device)
	if err := bdv.checkIsBlock(device); err != nil {
		return err
	}

	if err := bdv.checkNotMounted(device); err != nil {
		return err
	}

	f, err := os.Open(device)
	if err != nil {
		return fmt.Errorf("unable to open %s: %w", device, err)
	}
	defer f.Close()

	found, err := ProbeSignature(f)
	if err != nil {
		return fmt.Errorf("unable to read %s: %w", device, err)
	}
	if found != "" {
		return &alpineami_lib.ValidationError{Device: device, Reason: alpineami_lib.ErrDeviceNotBlank,
			Detail: fmt.Sprintf("found %s signature", found)}
	}

	return nil
}

// sectorSize of the partition table arithmetic
const sectorSize = 512

// DeviceSectors returns the size of a device in 512-byte sectors
func DeviceSectors(device string) (uint64, error) {
	f, err := os.Open(device)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	return uint64(size) / sectorSize, nil
}

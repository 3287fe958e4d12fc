package alpineami_disk

import (
	"fmt"
	"os"
	"strings"
	"time"
	"unicode"

	wzlib_logger "github.com/infra-whizz/wzlib/logger"
	alpineami_boot "github.com/metastable/alpine-ec2-ami/boot"
	alpineami_lib "github.com/metastable/alpine-ec2-ami/lib"
)

const (
	// ReservedSectors precede the first partition and hold the bootloader metadata
	ReservedSectors uint64 = 2048

	DefaultEfiSizeMiB uint64 = 100
	PollAttempts             = 5
	PollInterval             = time.Second

	gptBackupSectors uint64 = 33
	sectorsPerMiB    uint64 = 1024 * 1024 / sectorSize
)

const (
	ROLE_ROOT = "root"
	ROLE_EFI  = "efi"
)

// Partition request, in sectors
type Partition struct {
	Start    uint64 // 0 follows the previous partition
	Size     uint64 // 0 takes the remainder of the device
	Type     string // sfdisk type code
	Bootable bool
	Role     string
}

func (p *Partition) String() string {
	size := "remainder"
	if p.Size > 0 {
		size = fmt.Sprintf("%d sectors", p.Size)
	}
	return fmt.Sprintf("%s (type %s, start %d, %s)", p.Role, p.Type, p.Start, size)
}

// PartitionLayout is the partition table to be written
type PartitionLayout struct {
	Label      string
	Partitions []*Partition
}

// Extent is a half-open sector range [Start, End)
type Extent struct {
	Start uint64
	End   uint64
}

// Script renders the layout as sfdisk input
func (pl *PartitionLayout) Script() string {
	var buff strings.Builder
	buff.WriteString(fmt.Sprintf("label: %s\n", pl.Label))
	for _, p := range pl.Partitions {
		fields := []string{}
		if p.Start > 0 {
			fields = append(fields, fmt.Sprintf("start=%d", p.Start))
		}
		if p.Size > 0 {
			fields = append(fields, fmt.Sprintf("size=%d", p.Size))
		}
		fields = append(fields, fmt.Sprintf("type=%s", p.Type))
		if p.Bootable {
			fields = append(fields, "bootable")
		}
		buff.WriteString(strings.Join(fields, ", ") + "\n")
	}
	return buff.String()
}

// Extents resolves the layout against a device of the given size.
func (pl *PartitionLayout) Extents(deviceSectors uint64) ([]Extent, error) {
	lastUsable := deviceSectors
	if pl.Label == "gpt" {
		if deviceSectors < gptBackupSectors {
			return nil, fmt.Errorf("device of %d sectors is too small", deviceSectors)
		}
		lastUsable -= gptBackupSectors
	}

	extents := []Extent{}
	cursor := uint64(0)
	for idx, p := range pl.Partitions {
		start := p.Start
		if start == 0 {
			start = cursor
		}
		if start < cursor {
			return nil, fmt.Errorf("partition %d overlaps the previous one", idx+1)
		}

		size := p.Size
		if size == 0 {
			if idx != len(pl.Partitions)-1 {
				return nil, fmt.Errorf("only the last partition can take the remainder")
			}
			if start >= lastUsable {
				return nil, fmt.Errorf("no space left for partition %d", idx+1)
			}
			size = lastUsable - start
		}

		if start+size > lastUsable {
			return nil, fmt.Errorf("partition %d does not fit into %d sectors", idx+1, deviceSectors)
		}

		extents = append(extents, Extent{Start: start, End: start + size})
		cursor = start + size
	}

	return extents, nil
}

// Node returns the device node of the partition with the given role
func (pl *PartitionLayout) Node(role string, nodes []string) (string, error) {
	for idx, p := range pl.Partitions {
		if p.Role == role && idx < len(nodes) {
			return nodes[idx], nil
		}
	}
	return "", fmt.Errorf("no %s partition in the layout", role)
}

// NodeName follows the kernel naming: xvdf -> xvdf1, nvme1n1 -> nvme1n1p1
func NodeName(device string, index int) string {
	if device != "" && unicode.IsDigit(rune(device[len(device)-1])) {
		return fmt.Sprintf("%sp%d", device, index)
	}
	return fmt.Sprintf("%s%d", device, index)
}

// Need to open rather than test for the inode, since open(2) may trigger the node creation
func blockNodeExists(pathname string) bool {
	file, err := os.Open(pathname)
	if err != nil {
		return false
	}
	defer file.Close()

	fi, err := file.Stat()
	return err == nil && fi.Mode()&os.ModeDevice != 0
}

// PartitionPlanner decides and writes the partition table
type PartitionPlanner struct {
	exec       alpineami_lib.Executor
	efiSizeMiB uint64
	interval   time.Duration
	exists     func(string) bool

	wzlib_logger.WzLogger
}

func NewPartitionPlanner(exec alpineami_lib.Executor) *PartitionPlanner {
	pp := new(PartitionPlanner)
	pp.exec = exec
	pp.efiSizeMiB = DefaultEfiSizeMiB
	pp.interval = PollInterval
	pp.exists = blockNodeExists
	return pp
}

// SetEfiSize of the EFI system partition, in MiB
func (pp *PartitionPlanner) SetEfiSize(mib uint64) *PartitionPlanner {
	if mib > 0 {
		pp.efiSizeMiB = mib
	}
	return pp
}

// SetPollInterval between device node checks
func (pp *PartitionPlanner) SetPollInterval(interval time.Duration) *PartitionPlanner {
	pp.interval = interval
	return pp
}

// SetNodeCheck replaces the device node presence check
func (pp *PartitionPlanner) SetNodeCheck(exists func(string) bool) *PartitionPlanner {
	pp.exists = exists
	return pp
}

// Plan the partition table. The layout depends on the variant only.
func (pp *PartitionPlanner) Plan(variant alpineami_boot.Variant) (*PartitionLayout, error) {
	switch variant {
	case alpineami_boot.VARIANT_LEGACY:
		return &PartitionLayout{
			Label: "dos",
			Partitions: []*Partition{
				{Start: ReservedSectors, Type: "83", Bootable: true, Role: ROLE_ROOT},
			},
		}, nil
	case alpineami_boot.VARIANT_EFI:
		return &PartitionLayout{
			Label: "gpt",
			Partitions: []*Partition{
				{Start: ReservedSectors, Size: pp.efiSizeMiB * sectorsPerMiB, Type: "U", Role: ROLE_EFI},
				{Type: "L", Role: ROLE_ROOT},
			},
		}, nil
	default:
		return nil, &alpineami_lib.UnknownBootloader{Name: variant.String()}
	}
}

func (pp *PartitionPlanner) waitForNode(node string) error {
	for attempt := 1; attempt <= PollAttempts; attempt++ {
		if pp.exists(node) {
			pp.GetLogger().Debugf("Device node %s is present after %d attempt(s)", node, attempt)
			return nil
		}
		if attempt < PollAttempts {
			time.Sleep(pp.interval)
		}
	}
	return &alpineami_lib.DeviceNodeTimeout{Node: node, Attempts: PollAttempts}
}

// Apply writes the layout to the device and waits for the partition nodes to appear.
func (pp *PartitionPlanner) Apply(device string, layout *PartitionLayout) ([]string, error) {
	pp.GetLogger().Infof("Writing %s partition table to %s", layout.Label, device)
	for _, p := range layout.Partitions {
		pp.GetLogger().Debugf("  - %s", p)
	}

	if err := pp.exec.Run(strings.NewReader(layout.Script()), "sfdisk", device); err != nil {
		return nil, err
	}

	nodes := []string{}
	for idx := range layout.Partitions {
		node := NodeName(device, idx+1)
		if err := pp.waitForNode(node); err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}

	return nodes, nil
}

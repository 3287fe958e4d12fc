package alpineami_disk

import (
	"fmt"

	wzlib_logger "github.com/infra-whizz/wzlib/logger"
	alpineami_lib "github.com/metastable/alpine-ec2-ami/lib"
)

type FilesystemKind uint64

const ( // supported file-systems
	FS_VFAT FilesystemKind = iota + 1
	FS_EXT4
)

func (k FilesystemKind) String() string {
	switch k {
	case FS_VFAT:
		return "vfat"
	case FS_EXT4:
		return "ext4"
	default:
		return fmt.Sprintf("unknown(%d)", uint64(k))
	}
}

// FilesystemBuilder formats partitions
type FilesystemBuilder struct {
	exec alpineami_lib.Executor

	wzlib_logger.WzLogger
}

func NewFilesystemBuilder(exec alpineami_lib.Executor) *FilesystemBuilder {
	fb := new(FilesystemBuilder)
	fb.exec = exec
	return fb
}

// Format the device node. The root file-system is made without the 64bit
// feature, which syslinux cannot read.
func (fb *FilesystemBuilder) Format(node string, kind FilesystemKind, label string) error {
	fb.GetLogger().Infof("Making %s file-system labeled '%s' on %s", kind, label, node)
	switch kind {
	case FS_VFAT:
		return fb.exec.Run(nil, "mkfs.vfat", "-F", "32", "-n", label, node)
	case FS_EXT4:
		return fb.exec.Run(nil, "mkfs.ext4", "-q", "-O", "^64bit", "-L", label, node)
	default:
		return fmt.Errorf("unsupported file-system kind: %s", kind)
	}
}

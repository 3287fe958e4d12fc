package alpineami_pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"

	wzlib_logger "github.com/infra-whizz/wzlib/logger"
	alpineami_arch "github.com/metastable/alpine-ec2-ami/arch"
	alpineami_boot "github.com/metastable/alpine-ec2-ami/boot"
	alpineami_conf "github.com/metastable/alpine-ec2-ami/conf"
	alpineami_disk "github.com/metastable/alpine-ec2-ami/disk"
	alpineami_fetch "github.com/metastable/alpine-ec2-ami/fetch"
	alpineami_lib "github.com/metastable/alpine-ec2-ami/lib"
	alpineami_pm "github.com/metastable/alpine-ec2-ami/pm"
	alpineami_sr "github.com/metastable/alpine-ec2-ami/sr"
)

// BuildContext carries the components and the state of a single build.
// Everything it acquires is released by Teardown.
type BuildContext struct {
	Conf    *alpineami_conf.Config
	Variant alpineami_boot.Variant
	Arch    string

	Exec       alpineami_lib.Executor
	Validator  *alpineami_disk.BlockDeviceValidator
	Planner    *alpineami_disk.PartitionPlanner
	Builder    *alpineami_disk.FilesystemBuilder
	Fetcher    *alpineami_fetch.Fetcher
	Tree       *alpineami_sr.MountTree
	Bootloader alpineami_boot.Bootloader
	HostResolv string

	Layout    *alpineami_disk.PartitionLayout
	Nodes     []string
	Sectors   uint64
	ApkStatic string
	Apk       *alpineami_pm.ApkPackageManager
	Session   *alpineami_sr.ChrootSession
	Artifacts []*alpineami_fetch.VerifiedArtifact

	ctx        context.Context
	workdir    string
	ownWorkdir bool

	wzlib_logger.WzLogger
}

// NewBuildContext resolves the variant and the architecture and sets up the
// components. Nothing on the device or the host is changed.
func NewBuildContext(conf *alpineami_conf.Config, exec alpineami_lib.Executor, mounter alpineami_lib.Mounter) (*BuildContext, error) {
	var err error
	bc := new(BuildContext)
	bc.ctx = context.Background()
	bc.Conf = conf
	bc.Exec = exec
	bc.HostResolv = alpineami_sr.HostResolvConf

	if bc.Variant, err = alpineami_boot.SelectVariant(conf.Bootloader); err != nil {
		return nil, err
	}

	bc.Arch = alpineami_arch.Normalize(conf.Arch)
	if bc.Arch == "" {
		if bc.Arch, err = alpineami_arch.HostArch(); err != nil {
			return nil, err
		}
	}
	if bc.Variant == alpineami_boot.VARIANT_EFI {
		if _, err := alpineami_arch.NewFirmware().GetArch(bc.Arch); err != nil {
			return nil, err
		}
	}

	if bc.Bootloader, err = alpineami_boot.NewBootloader(bc.Variant, alpineami_boot.Options{
		Device: conf.Device, Arch: bc.Arch, Exec: exec,
	}); err != nil {
		return nil, err
	}

	bc.workdir = conf.Workdir
	if bc.workdir == "" {
		if bc.workdir, err = os.MkdirTemp("", "alpine-ami-"); err != nil {
			return nil, fmt.Errorf("unable to create work directory: %w", err)
		}
		bc.ownWorkdir = true
	}

	bc.Validator = alpineami_disk.NewBlockDeviceValidator()
	bc.Planner = alpineami_disk.NewPartitionPlanner(exec).SetEfiSize(conf.EfiSizeMiB)
	bc.Builder = alpineami_disk.NewFilesystemBuilder(exec)
	bc.Fetcher = alpineami_fetch.NewFetcher(bc.workdir, conf.FetchTimeout)
	bc.Tree = alpineami_sr.NewMountTree(mounter)

	return bc, nil
}

// SetContext bounds the network operations of the build
func (bc *BuildContext) SetContext(ctx context.Context) *BuildContext {
	bc.ctx = ctx
	return bc
}

// Context of the build
func (bc *BuildContext) Context() context.Context {
	return bc.ctx
}

// Workdir holds downloads and extracted tooling
func (bc *BuildContext) Workdir() string {
	return bc.workdir
}

// Root of the mounted target
func (bc *BuildContext) Root() string {
	return bc.Tree.Root()
}

// Teardown closes the chroot session, unmounts everything in reverse order
// and removes the downloads. It is safe to call more than once.
func (bc *BuildContext) Teardown() error {
	errs := []error{}
	if bc.Session != nil {
		if err := bc.Session.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if err := bc.Tree.UnmountAll(); err != nil {
		errs = append(errs, err)
	}

	for _, artifact := range bc.Artifacts {
		if err := artifact.Remove(); err != nil {
			errs = append(errs, err)
		}
	}
	bc.Artifacts = nil

	if bc.ApkStatic != "" {
		if err := os.Remove(bc.ApkStatic); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
		bc.ApkStatic = ""
	}

	if bc.ownWorkdir && bc.workdir != "" {
		if err := os.RemoveAll(bc.workdir); err != nil {
			errs = append(errs, err)
		}
		bc.workdir = ""
	}

	return errors.Join(errs...)
}

package alpineami

import (
	"context"
	"os"

	wzlib_logger "github.com/infra-whizz/wzlib/logger"
	alpineami_conf "github.com/metastable/alpine-ec2-ami/conf"
	alpineami_lib "github.com/metastable/alpine-ec2-ami/lib"
	alpineami_pipeline "github.com/metastable/alpine-ec2-ami/pipeline"
	"github.com/thoas/go-funk"
)

// ImageBuilder object
type ImageBuilder struct {
	conf    *alpineami_conf.Config
	exec    alpineami_lib.Executor
	mounter alpineami_lib.Mounter
	stages  []alpineami_pipeline.Stage

	wzlib_logger.WzLogger
}

// NewImageBuilder constructor
func NewImageBuilder(conf *alpineami_conf.Config) *ImageBuilder {
	ib := new(ImageBuilder)
	ib.conf = conf
	ib.exec = alpineami_lib.NewLoggedExecutor()
	ib.mounter = alpineami_lib.NewSysMounter()
	ib.stages = alpineami_pipeline.DefaultStages()
	return ib
}

// SetExecutor of the external tools
func (ib *ImageBuilder) SetExecutor(exec alpineami_lib.Executor) *ImageBuilder {
	ib.exec = exec
	return ib
}

// SetMounter of the target file-systems
func (ib *ImageBuilder) SetMounter(mounter alpineami_lib.Mounter) *ImageBuilder {
	ib.mounter = mounter
	return ib
}

// SetStages replaces the default stages
func (ib *ImageBuilder) SetStages(stages ...alpineami_pipeline.Stage) *ImageBuilder {
	ib.stages = stages
	return ib
}

// Conf of the build
func (ib *ImageBuilder) Conf() *alpineami_conf.Config {
	return ib.conf
}

// ExitOnNonRootUID will terminate program immediately if caller is not UID root.
func (ib *ImageBuilder) ExitOnNonRootUID() {
	if !funk.Contains(os.Args, "-h") && !funk.Contains(os.Args, "--help") {
		if err := alpineami_lib.CheckUser(0, 0); err != nil {
			wzlib_logger.GetCurrentLogger().Error("Root privileges are required to run this command.")
			os.Exit(1)
		}
	}
}

// Build the image onto the configured device
func (ib *ImageBuilder) Build(ctx context.Context) error {
	if err := ib.conf.Validate(); err != nil {
		return err
	}

	pl, err := alpineami_pipeline.NewPipeline(ib.stages...)
	if err != nil {
		return err
	}

	bc, err := alpineami_pipeline.NewBuildContext(ib.conf, ib.exec, ib.mounter)
	if err != nil {
		return err
	}
	bc.SetContext(ctx)

	ib.GetLogger().Debugf("Build host platform: %s", alpineami_lib.GetCurrentPlatform())
	ib.GetLogger().Infof("Building Alpine %s (%s, %s boot) on %s", ib.conf.Release, bc.Arch, bc.Variant, ib.conf.Device)
	if err := pl.Run(bc); err != nil {
		return err
	}
	ib.GetLogger().Infof("Image on %s is ready", ib.conf.Device)
	return nil
}

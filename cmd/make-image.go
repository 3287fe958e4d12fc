package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	wzlib_logger "github.com/infra-whizz/wzlib/logger"
	alpineami "github.com/metastable/alpine-ec2-ami"
	alpineami_arch "github.com/metastable/alpine-ec2-ami/arch"
	alpineami_conf "github.com/metastable/alpine-ec2-ami/conf"
	alpineami_lib "github.com/metastable/alpine-ec2-ami/lib"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func init() {
	// setup logger
	if alpineami_lib.Any(os.Args, "--verbose", "-v") {
		wzlib_logger.GetCurrentLogger().SetLevel(logrus.TraceLevel)
	} else {
		wzlib_logger.GetCurrentLogger().SetLevel(logrus.InfoLevel)
	}
}

// Flags override the configuration file
func applyFlags(ctx *cli.Context, conf *alpineami_conf.Config) {
	for name, field := range map[string]*string{
		"device":     &conf.Device,
		"target":     &conf.Target,
		"release":    &conf.Release,
		"bootloader": &conf.Bootloader,
		"arch":       &conf.Arch,
		"workdir":    &conf.Workdir,
		"user":       &conf.User,
	} {
		if ctx.IsSet(name) {
			*field = ctx.String(name)
		}
	}
	if ctx.IsSet("package") {
		conf.Packages = append(conf.Packages, ctx.StringSlice("package")...)
	}
	if ctx.IsSet("efi-size") {
		conf.EfiSizeMiB = ctx.Uint64("efi-size")
	}
	if ctx.IsSet("fetch-timeout") {
		conf.FetchTimeout = ctx.Duration("fetch-timeout")
	}
}

func makeImage(ctx *cli.Context) error {
	confpath := ctx.String("config")
	if confpath == "" {
		confpath = alpineami_conf.Find()
	}
	conf, err := alpineami_conf.Load(confpath)
	if err != nil {
		return err
	}
	applyFlags(ctx, conf)

	builder := alpineami.NewImageBuilder(conf)
	builder.ExitOnNonRootUID()

	sigctx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return builder.Build(sigctx)
}

func main() {
	architectures := []string{}
	for _, arch := range alpineami_arch.NewFirmware().Architectures {
		architectures = append(architectures, arch.Name)
	}

	app := &cli.App{
		Version: "0.1 Alpha",
		Name:    "make-image",
		Usage:   "Provision an Alpine Linux cloud image onto a block device",
		Action:  makeImage,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the configuration file",
			},
			&cli.StringFlag{
				Name:    "device",
				Aliases: []string{"d"},
				Usage:   "Blank block device to provision",
			},
			&cli.StringFlag{
				Name:    "target",
				Aliases: []string{"t"},
				Usage:   "Mount point of the target root",
			},
			&cli.StringFlag{
				Name:    "release",
				Aliases: []string{"r"},
				Usage:   "Alpine release branch, e.g. 3.19 or edge",
			},
			&cli.StringFlag{
				Name:    "bootloader",
				Aliases: []string{"b"},
				Usage:   "Boot variant. Choices: auto, legacy, efi.",
			},
			&cli.StringFlag{
				Name:    "arch",
				Aliases: []string{"a"},
				Usage:   fmt.Sprintf("Image architecture for EFI boot. Choices: %s.", strings.Join(architectures, ", ")),
			},
			&cli.StringSliceFlag{
				Name:    "package",
				Aliases: []string{"p"},
				Usage:   "Additional package to install",
			},
			&cli.StringFlag{
				Name:  "user",
				Usage: "Name of the login user",
			},
			&cli.Uint64Flag{
				Name:  "efi-size",
				Usage: "Size of the EFI system partition in MiB",
			},
			&cli.DurationFlag{
				Name:  "fetch-timeout",
				Usage: "Timeout of a single download",
			},
			&cli.StringFlag{
				Name:  "workdir",
				Usage: "Directory for downloads",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Show debugging log",
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		wzlib_logger.GetCurrentLogger().Errorf("Error: %s", err.Error())
		os.Exit(1)
	}
}

package alpineami_pipeline

import (
	"fmt"
	"path"

	alpineami_boot "github.com/metastable/alpine-ec2-ami/boot"
	alpineami_disk "github.com/metastable/alpine-ec2-ami/disk"
	alpineami_pm "github.com/metastable/alpine-ec2-ami/pm"
	alpineami_fixlets "github.com/metastable/alpine-ec2-ami/pm/fixlets"
	alpineami_sr "github.com/metastable/alpine-ec2-ami/sr"
	alpineami_sysconf "github.com/metastable/alpine-ec2-ami/sysconf"
)

// DefaultStages of an image build
func DefaultStages() []Stage {
	return []Stage{
		NewStage("validate-device", nil, []string{"device"}, validateDevice),
		NewStage("fetch-tooling", nil, []string{"apk"}, fetchTooling),
		NewStage("partition", []string{"device"}, []string{"nodes"}, partition),
		NewStage("make-filesystems", []string{"nodes"}, []string{"filesystems"}, makeFilesystems),
		NewStage("mount-target", []string{"filesystems"}, []string{"root"}, mountTarget),
		NewStage("configure-repositories", []string{"root"}, []string{"repositories"}, configureRepositories),
		NewStage("fetch-keys", []string{"root"}, []string{"keys"}, fetchKeys),
		NewStage("install-base", []string{"apk", "repositories", "keys"}, []string{"base"}, installBase),
		NewStage("enter-chroot", []string{"base"}, []string{"chroot"}, enterChroot),
		NewStage("install-packages", []string{"chroot"}, []string{"packages"}, installPackages),
		NewStage("configure-console", []string{"packages"}, nil, configureConsole),
		NewStage("build-initramfs", []string{"packages"}, []string{"initramfs"}, buildInitramfs),
		NewStage("install-bootloader", []string{"initramfs"}, []string{"bootloader"}, installBootloader),
		NewStage("write-config", []string{"root"}, nil, writeConfig),
		NewStage("enable-services", []string{"chroot"}, nil, enableServices),
		NewStage("create-user", []string{"chroot"}, nil, createUser),
		NewStage("configure-ntp", []string{"packages"}, nil, configureNTP),
		NewStage("cleanup", nil, nil, cleanup),
	}
}

func validateDevice(bc *BuildContext) error {
	if err := bc.Validator.Validate(bc.Conf.Device); err != nil {
		return err
	}
	sectors, err := alpineami_disk.DeviceSectors(bc.Conf.Device)
	if err != nil {
		return fmt.Errorf("unable to determine size of %s: %w", bc.Conf.Device, err)
	}
	bc.Sectors = sectors
	return nil
}

func fetchTooling(bc *BuildContext) error {
	artifact, err := bc.Fetcher.Fetch(bc.Context(), bc.Conf.ApkTools.URL, bc.Conf.ApkTools.SHA256)
	if err != nil {
		return err
	}
	bc.Artifacts = append(bc.Artifacts, artifact)

	bc.ApkStatic, err = alpineami_pm.ExtractApkStatic(artifact.Path, path.Join(bc.Workdir(), "tools"))
	return err
}

func partition(bc *BuildContext) error {
	layout, err := bc.Planner.Plan(bc.Variant)
	if err != nil {
		return err
	}
	if _, err := layout.Extents(bc.Sectors); err != nil {
		return fmt.Errorf("%s: %w", bc.Conf.Device, err)
	}

	nodes, err := bc.Planner.Apply(bc.Conf.Device, layout)
	if err != nil {
		return err
	}
	bc.Layout = layout
	bc.Nodes = nodes
	return nil
}

func makeFilesystems(bc *BuildContext) error {
	for idx, p := range bc.Layout.Partitions {
		var err error
		switch p.Role {
		case alpineami_disk.ROLE_EFI:
			err = bc.Builder.Format(bc.Nodes[idx], alpineami_disk.FS_VFAT, alpineami_boot.EfiLabel)
		case alpineami_disk.ROLE_ROOT:
			err = bc.Builder.Format(bc.Nodes[idx], alpineami_disk.FS_EXT4, alpineami_boot.RootLabel)
		default:
			err = fmt.Errorf("no file-system for %s partition", p.Role)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func mountTarget(bc *BuildContext) error {
	node, err := bc.Layout.Node(alpineami_disk.ROLE_ROOT, bc.Nodes)
	if err != nil {
		return err
	}
	if _, err := bc.Tree.MountRoot(node, bc.Conf.Target); err != nil {
		return err
	}

	if bc.Variant == alpineami_boot.VARIANT_EFI {
		node, err := bc.Layout.Node(alpineami_disk.ROLE_EFI, bc.Nodes)
		if err != nil {
			return err
		}
		if _, err := bc.Tree.MountDependent(node, alpineami_boot.EfiMountPath, "vfat", 0); err != nil {
			return err
		}
	}

	bc.Apk = alpineami_pm.NewApkPackageManager(bc.Root(), bc.Exec).SetArch(bc.Arch)
	return nil
}

func configureRepositories(bc *BuildContext) error {
	return bc.Apk.SetupRepositories(bc.Conf.RepositoryList())
}

func fetchKeys(bc *BuildContext) error {
	keys := []string{}
	for _, key := range bc.Conf.Keys {
		artifact, err := bc.Fetcher.Fetch(bc.Context(), key.URL, key.SHA256)
		if err != nil {
			return err
		}
		bc.Artifacts = append(bc.Artifacts, artifact)
		keys = append(keys, artifact.Path)
	}
	return bc.Apk.InstallKeys(keys)
}

func installBase(bc *BuildContext) error {
	if err := bc.Apk.SetApkStatic(bc.ApkStatic).Bootstrap(); err != nil {
		return err
	}
	installed, err := bc.Apk.Release()
	if err != nil {
		return err
	}
	bc.GetLogger().Infof("Installed Alpine %s", installed)
	return alpineami_pm.CheckRelease(bc.Conf.Release, installed)
}

func enterChroot(bc *BuildContext) error {
	session, err := alpineami_sr.Enter(bc.Tree, bc.Exec, bc.HostResolv)
	if err != nil {
		return err
	}
	bc.Session = session
	return nil
}

func installPackages(bc *BuildContext) error {
	if err := bc.Apk.Add(bc.Session, false, bc.Conf.Packages...); err != nil {
		return err
	}
	return bc.Apk.Add(bc.Session, true, bc.Bootloader.Package())
}

func configureConsole(bc *BuildContext) error {
	if err := alpineami_sysconf.DisableGettys(bc.Root()); err != nil {
		return err
	}
	return alpineami_sysconf.WritePrompt(bc.Root())
}

func buildInitramfs(bc *BuildContext) error {
	if err := alpineami_sysconf.EnableInitfsFeatures(bc.Root(), alpineami_sysconf.DefaultInitfsFeatures...); err != nil {
		return err
	}
	versions, err := alpineami_sysconf.KernelVersions(bc.Root())
	if err != nil {
		return err
	}
	return bc.Session.Run("mkinitfs", versions[len(versions)-1])
}

func installBootloader(bc *BuildContext) error {
	if err := bc.Bootloader.Configure(bc.Root(), bc.Conf.KernelOptions, bc.Conf.KernelModules); err != nil {
		return err
	}
	return bc.Bootloader.Install(bc.Session)
}

func writeConfig(bc *BuildContext) error {
	if err := alpineami_sysconf.WriteFstab(bc.Root(), bc.Variant == alpineami_boot.VARIANT_EFI); err != nil {
		return err
	}
	return alpineami_sysconf.WriteInterfaces(bc.Root())
}

func enableServices(bc *BuildContext) error {
	services := bc.Conf.Services
	if len(services) == 0 {
		services = alpineami_sysconf.DefaultServices
	}
	return alpineami_sysconf.NewOpenRCService(bc.Root(), bc.Session).EnableAll(services)
}

func createUser(bc *BuildContext) error {
	return alpineami_sysconf.NewAdminUser(bc.Root(), bc.Session, bc.Conf.User).Create()
}

func configureNTP(bc *BuildContext) error {
	return alpineami_sysconf.ConfigureChrony(bc.Root(), bc.Conf.NTPServer)
}

func cleanup(bc *BuildContext) error {
	if bc.Root() != "" {
		if err := alpineami_fixlets.NewScrub(bc.Root()).Scrub(); err != nil {
			return err
		}
	}
	return bc.Teardown()
}

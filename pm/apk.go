package alpineami_pm

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/hashicorp/go-version"
	wzlib_logger "github.com/infra-whizz/wzlib/logger"
	"github.com/isbm/go-shutil"
	alpineami_lib "github.com/metastable/alpine-ec2-ami/lib"
)

const (
	ApkStaticMember = "sbin/apk.static"
	RollingRelease  = "edge"
	BasePackage     = "alpine-base"
)

// Runner executes a command inside the target, such as a chroot session
type Runner interface {
	Run(command ...string) error
}

// ApkPackageManager drives apk against the target root. The static apk is
// used from the host until the base system is installed, afterwards apk
// runs inside the target.
type ApkPackageManager struct {
	root      string
	arch      string
	apkStatic string
	exec      alpineami_lib.Executor

	wzlib_logger.WzLogger
}

// NewApkPackageManager creates an apk caller object
func NewApkPackageManager(root string, exec alpineami_lib.Executor) *ApkPackageManager {
	apm := new(ApkPackageManager)
	apm.root = root
	apm.exec = exec
	return apm
}

// Name of the package manager
func (apm *ApkPackageManager) Name() string {
	return "apk"
}

// SetArch of the packages to bootstrap
func (apm *ApkPackageManager) SetArch(arch string) *ApkPackageManager {
	apm.arch = arch
	return apm
}

// SetApkStatic path, usually obtained from ExtractApkStatic
func (apm *ApkPackageManager) SetApkStatic(pth string) *ApkPackageManager {
	apm.apkStatic = pth
	return apm
}

func (apm *ApkPackageManager) keysDir() string {
	return path.Join(apm.root, "etc", "apk", "keys")
}

func (apm *ApkPackageManager) repositoriesFile() string {
	return path.Join(apm.root, "etc", "apk", "repositories")
}

// ExtractApkStatic takes the static apk binary out of the apk-tools-static
// package. An .apk is a sequence of gzip streams forming a single tar.
func ExtractApkStatic(archive string, dest string) (string, error) {
	f, err := os.Open(archive)
	if err != nil {
		return "", err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return "", fmt.Errorf("unable to read %s: %w", archive, err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("unable to read %s: %w", archive, err)
		}
		if path.Clean(hdr.Name) != ApkStaticMember {
			continue
		}

		if err := os.MkdirAll(dest, 0755); err != nil {
			return "", err
		}
		target := path.Join(dest, path.Base(ApkStaticMember))
		out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0755)
		if err != nil {
			return "", err
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return "", err
		}
		return target, out.Close()
	}

	return "", fmt.Errorf("no %s found in %s", ApkStaticMember, archive)
}

// SetupRepositories writes /etc/apk/repositories of the target
func (apm *ApkPackageManager) SetupRepositories(repositories []string) error {
	if len(repositories) == 0 {
		return fmt.Errorf("no repositories configured")
	}
	apm.GetLogger().Infof("Setting up %d apk repositories", len(repositories))
	if err := os.MkdirAll(path.Dir(apm.repositoriesFile()), 0755); err != nil {
		return err
	}
	return os.WriteFile(apm.repositoriesFile(), []byte(strings.Join(repositories, "\n")+"\n"), 0644)
}

// InstallKeys copies verified signing keys into /etc/apk/keys of the target
func (apm *ApkPackageManager) InstallKeys(keys []string) error {
	if err := os.MkdirAll(apm.keysDir(), 0755); err != nil {
		return err
	}
	for _, key := range keys {
		target := path.Join(apm.keysDir(), path.Base(key))
		apm.GetLogger().Debugf("Installing signing key %s", path.Base(key))
		if err := shutil.CopyFile(key, target, false); err != nil {
			return fmt.Errorf("unable to install key %s: %w", key, err)
		}
	}
	return nil
}

// Bootstrap installs the base system into an empty root with the static apk
func (apm *ApkPackageManager) Bootstrap() error {
	if apm.apkStatic == "" {
		return fmt.Errorf("static apk is not available")
	}
	args := []string{"--root", apm.root, "--initdb", "--no-cache", "--no-progress",
		"--keys-dir", apm.keysDir(), "--repositories-file", apm.repositoriesFile()}
	if apm.arch != "" {
		args = append(args, "--arch", apm.arch)
	}
	args = append(args, "--update-cache", "add", BasePackage)

	apm.GetLogger().Infof("Bootstrapping %s into %s", BasePackage, apm.root)
	return apm.exec.Run(nil, apm.apkStatic, args...)
}

// Release reads the installed Alpine release from the target
func (apm *ApkPackageManager) Release() (string, error) {
	data, err := os.ReadFile(path.Join(apm.root, "etc", "alpine-release"))
	if err != nil {
		return "", fmt.Errorf("unable to determine installed release: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// CheckRelease compares the requested release branch (e.g. "3.19") with the
// installed one (e.g. "3.19.1"). The rolling release is never checked.
func CheckRelease(requested string, installed string) error {
	requested = strings.TrimPrefix(strings.TrimSpace(requested), "v")
	if requested == RollingRelease {
		return nil
	}

	mismatch := &alpineami_lib.ReleaseMismatch{Requested: requested, Installed: installed}
	want, err := version.NewVersion(requested)
	if err != nil {
		return fmt.Errorf("invalid release %q: %w", requested, err)
	}
	have, err := version.NewVersion(installed)
	if err != nil {
		return mismatch
	}

	wantSegments := want.Segments()
	haveSegments := have.Segments()
	for idx := 0; idx < 2 && idx < len(wantSegments); idx++ {
		if wantSegments[idx] != haveSegments[idx] {
			return mismatch
		}
	}

	return nil
}

// Add packages through the runner. Scripts are skipped when requested, which
// is how bootloaders are installed before they are configured.
func (apm *ApkPackageManager) Add(runner Runner, noScripts bool, packages ...string) error {
	if len(packages) == 0 {
		return nil
	}
	args := []string{"apk", "add", "--no-progress"}
	if noScripts {
		args = append(args, "--no-scripts")
	}
	apm.GetLogger().Infof("Installing packages: %s", strings.Join(packages, ", "))
	return runner.Run(append(args, packages...)...)
}

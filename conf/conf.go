package alpineami_conf

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	wzlib_logger "github.com/infra-whizz/wzlib/logger"
	"github.com/isbm/go-nanoconf"
	alpineami_lib "github.com/metastable/alpine-ec2-ami/lib"
	"github.com/thoas/go-funk"
	"gopkg.in/yaml.v3"
)

const (
	ConfigName    = "alpine-ami"
	DefaultMirror = "https://dl-cdn.alpinelinux.org/alpine"
)

var (
	bootloaders = []string{"auto", "legacy", "syslinux", "efi", "grub-efi"}
	runlevels   = []string{"sysinit", "boot", "default", "shutdown"}
)

// Artifact is a remote file pinned to its digest
type Artifact struct {
	URL    string `yaml:"url"`
	SHA256 string `yaml:"sha256"`
}

// Config of an image build
type Config struct {
	Device        string              `yaml:"device"`
	Target        string              `yaml:"target"`
	Release       string              `yaml:"release"`
	Bootloader    string              `yaml:"bootloader"`
	Arch          string              `yaml:"arch"`
	Mirror        string              `yaml:"mirror"`
	Repositories  []string            `yaml:"repositories"`
	Packages      []string            `yaml:"packages"`
	KernelOptions string              `yaml:"kernel_options"`
	KernelModules []string            `yaml:"kernel_modules"`
	Services      map[string][]string `yaml:"services"`
	ApkTools      Artifact            `yaml:"apk_tools"`
	Keys          []Artifact          `yaml:"keys"`
	User          string              `yaml:"user"`
	NTPServer     string              `yaml:"ntp_server"`
	EfiSizeMiB    uint64              `yaml:"efi_size_mb"`
	FetchTimeout  time.Duration       `yaml:"fetch_timeout"`
	Workdir       string              `yaml:"workdir"`
}

// Defaults of a build. Empty services select the stock runlevels.
func Defaults() *Config {
	return &Config{
		Device:        "/dev/xvdf",
		Target:        "/mnt/target",
		Release:       "3.19",
		Bootloader:    "auto",
		Mirror:        DefaultMirror,
		Packages:      []string{"linux-virt", "alpine-mirrors", "chrony", "nvme-cli", "openssh", "e2fsprogs", "sudo", "tiny-ec2-bootstrap"},
		KernelOptions: "console=ttyS0,115200n8 nvme_core.io_timeout=4294967295",
		KernelModules: []string{"sd-mod", "usb-storage", "ext4"},
		User:          "alpine",
		NTPServer:     "169.254.169.123",
		EfiSizeMiB:    100,
		FetchTimeout:  5 * time.Minute,
	}
}

// Find the configuration file in the standard locations
func Find() string {
	finder := nanoconf.NewNanoconfFinder(ConfigName).DefaultSetup(nil)
	return finder.SetDefaultConfig(finder.FindFirst()).FindDefault()
}

// Load the configuration on top of the defaults. A missing path yields the defaults.
func Load(pth string) (*Config, error) {
	conf := Defaults()
	if pth == "" {
		return conf, nil
	}

	data, err := os.ReadFile(pth)
	if os.IsNotExist(err) {
		wzlib_logger.GetCurrentLogger().Debugf("No configuration at %s, using defaults", pth)
		return conf, nil
	}
	if err != nil {
		return nil, err
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(conf); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("unable to parse %s: %w", pth, err)
	}

	return conf, nil
}

// branch of the release in the mirror layout
func (c *Config) branch() string {
	if c.Release == "edge" {
		return "edge"
	}
	return "v" + strings.TrimPrefix(c.Release, "v")
}

// RepositoryList returns the configured repositories, or main and community of the release
func (c *Config) RepositoryList() []string {
	if len(c.Repositories) > 0 {
		return c.Repositories
	}
	mirror := strings.TrimSuffix(c.Mirror, "/")
	return []string{
		fmt.Sprintf("%s/%s/main", mirror, c.branch()),
		fmt.Sprintf("%s/%s/community", mirror, c.branch()),
	}
}

// Validate the configuration before anything is touched
func (c *Config) Validate() error {
	if c.Device == "" || !path.IsAbs(c.Device) {
		return fmt.Errorf("device must be an absolute path, got %q", c.Device)
	}
	if c.Target == "" || !path.IsAbs(c.Target) || path.Clean(c.Target) == "/" {
		return fmt.Errorf("target must be an absolute path other than /, got %q", c.Target)
	}
	if c.Release == "" {
		return fmt.Errorf("release is not set")
	}
	if name := strings.ToLower(strings.TrimSpace(c.Bootloader)); name != "" && !funk.ContainsString(bootloaders, name) {
		return &alpineami_lib.UnknownBootloader{Name: c.Bootloader}
	}
	for level := range c.Services {
		if !funk.ContainsString(runlevels, level) {
			return fmt.Errorf("unknown runlevel %q", level)
		}
	}
	if c.EfiSizeMiB < 32 {
		return fmt.Errorf("EFI partition of %d MiB is too small", c.EfiSizeMiB)
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("fetch timeout must be positive")
	}
	if c.ApkTools.URL == "" || c.ApkTools.SHA256 == "" {
		return fmt.Errorf("apk_tools needs both url and sha256")
	}
	if len(c.Keys) == 0 {
		return fmt.Errorf("at least one signing key is required")
	}
	for idx, key := range c.Keys {
		if key.URL == "" || key.SHA256 == "" {
			return fmt.Errorf("key %d needs both url and sha256", idx+1)
		}
	}
	if c.User == "" {
		return fmt.Errorf("user is not set")
	}
	return nil
}

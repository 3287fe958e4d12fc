package alpineami_sysconf

import (
	"fmt"
	"os"
	"path"
	"regexp"
	"sort"
	"strings"

	alpineami_boot "github.com/metastable/alpine-ec2-ami/boot"
	"github.com/thoas/go-funk"
)

// NTPServer is the Amazon Time Sync Service, reachable from every instance
const NTPServer = "169.254.169.123"

// DefaultInitfsFeatures are required to boot on Nitro instances
var DefaultInitfsFeatures = []string{"nvme", "ena"}

// Runner executes a command inside the target
type Runner interface {
	Run(command ...string) error
}

func writeTarget(root string, pth string, data string, mode os.FileMode) error {
	pth = path.Join(root, pth)
	if err := os.MkdirAll(path.Dir(pth), 0755); err != nil {
		return err
	}
	if err := os.WriteFile(pth, []byte(data), mode); err != nil {
		return fmt.Errorf("unable to write %s: %w", pth, err)
	}
	return nil
}

func readTarget(root string, pth string) (string, error) {
	data, err := os.ReadFile(path.Join(root, pth))
	if os.IsNotExist(err) {
		return "", nil
	}
	return string(data), err
}

// WriteFstab mounts everything by label
func WriteFstab(root string, efi bool) error {
	var buff strings.Builder
	buff.WriteString("# <fs>\t<mountpoint>\t<type>\t<opts>\t<dump/pass>\n")
	buff.WriteString(fmt.Sprintf("LABEL=%s\t/\text4\tdefaults,noatime\t1 1\n", alpineami_boot.RootLabel))
	if efi {
		buff.WriteString(fmt.Sprintf("LABEL=%s\t/boot/efi\tvfat\tdefaults,noatime,uid=0,gid=0,umask=077\t0 0\n", alpineami_boot.EfiLabel))
	}
	return writeTarget(root, "/etc/fstab", buff.String(), 0644)
}

// WriteInterfaces sets up loopback and DHCP on the primary interface
func WriteInterfaces(root string) error {
	return writeTarget(root, "/etc/network/interfaces", strings.Join([]string{
		"auto lo",
		"iface lo inet loopback",
		"",
		"auto eth0",
		"iface eth0 inet dhcp",
	}, "\n")+"\n", 0644)
}

var (
	gettyLine  = regexp.MustCompile(`(?m)^(tty[0-9].*)$`)
	serialLine = regexp.MustCompile(`(?m)^#\s*(ttyS0::.*)$`)
)

// DisableGettys comments out the virtual terminals and enables the serial console
func DisableGettys(root string) error {
	data, err := readTarget(root, "/etc/inittab")
	if err != nil {
		return err
	}
	data = gettyLine.ReplaceAllString(data, "#$1")
	data = serialLine.ReplaceAllString(data, "$1")
	return writeTarget(root, "/etc/inittab", data, 0644)
}

// WritePrompt sets a short shell prompt for all users
func WritePrompt(root string) error {
	return writeTarget(root, "/etc/profile.d/prompt.sh", "export PS1='[\\u@\\h \\W]\\$ '\n", 0644)
}

var featuresLine = regexp.MustCompile(`(?m)^features="([^"]*)"$`)

// EnableInitfsFeatures adds the features to mkinitfs.conf, keeping the existing ones.
func EnableInitfsFeatures(root string, features ...string) error {
	conf := "/etc/mkinitfs/mkinitfs.conf"
	data, err := readTarget(root, conf)
	if err != nil {
		return err
	}

	current := []string{}
	if m := featuresLine.FindStringSubmatch(data); m != nil {
		current = strings.Fields(m[1])
	}
	for _, f := range features {
		if !funk.ContainsString(current, f) {
			current = append(current, f)
		}
	}

	line := fmt.Sprintf("features=\"%s\"", strings.Join(current, " "))
	if featuresLine.MatchString(data) {
		data = featuresLine.ReplaceAllLiteralString(data, line)
	} else {
		if data != "" && !strings.HasSuffix(data, "\n") {
			data += "\n"
		}
		data += line + "\n"
	}

	return writeTarget(root, conf, data, 0644)
}

// KernelVersions returns installed kernel versions of the target, sorted
func KernelVersions(root string) ([]string, error) {
	entries, err := os.ReadDir(path.Join(root, "lib", "modules"))
	if err != nil {
		return nil, fmt.Errorf("unable to find installed kernels: %w", err)
	}
	versions := []string{}
	for _, e := range entries {
		if e.IsDir() {
			versions = append(versions, e.Name())
		}
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("no kernel installed in %s", root)
	}
	sort.Strings(versions)
	return versions, nil
}

var poolLine = regexp.MustCompile(`(?m)^(pool\s.*)$`)

// ConfigureChrony prefers the given server and comments out the pools
func ConfigureChrony(root string, server string) error {
	if server == "" {
		server = NTPServer
	}
	conf := "/etc/chrony/chrony.conf"
	data, err := readTarget(root, conf)
	if err != nil {
		return err
	}

	data = poolLine.ReplaceAllString(data, "#$1")
	line := fmt.Sprintf("server %s prefer iburst", server)
	if !strings.Contains(data, line) {
		if data != "" && !strings.HasSuffix(data, "\n") {
			data += "\n"
		}
		data += line + "\n"
	}

	return writeTarget(root, conf, data, 0644)
}

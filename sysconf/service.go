package alpineami_sysconf

import (
	"os"
	"path"
	"sort"

	wzlib_logger "github.com/infra-whizz/wzlib/logger"
)

// DefaultServices of a cloud image, per runlevel
var DefaultServices = map[string][]string{
	"sysinit":  {"devfs", "dmesg", "mdev", "hwdrivers"},
	"boot":     {"modules", "hwclock", "swap", "hostname", "sysctl", "bootmisc", "syslog", "acpid"},
	"default":  {"networking", "sshd", "chronyd", "tiny-ec2-bootstrap"},
	"shutdown": {"killprocs", "savecache", "mount-ro"},
}

// OpenRCService enables services of the target
type OpenRCService struct {
	root      string
	levelPath string
	runner    Runner

	wzlib_logger.WzLogger
}

func NewOpenRCService(root string, runner Runner) *OpenRCService {
	s := new(OpenRCService)
	s.root = root
	s.levelPath = "/etc/runlevels"
	s.runner = runner
	return s
}

// IsEnabled returns true if the service is linked into the runlevel
func (s *OpenRCService) IsEnabled(name string, level string) bool {
	_, err := os.Lstat(path.Join(s.root, s.levelPath, level, name))
	return err == nil
}

// Enable service
func (s *OpenRCService) Enable(name string, level string) error {
	if s.IsEnabled(name, level) {
		s.GetLogger().Debugf("Service %s is already in %s runlevel", name, level)
		return nil
	}
	s.GetLogger().Debugf("Adding %s to %s runlevel", name, level)
	return s.runner.Run("rc-update", "add", name, level)
}

// EnableAll services. Runlevels are processed by name, services in the given order.
func (s *OpenRCService) EnableAll(services map[string][]string) error {
	levels := []string{}
	for level := range services {
		levels = append(levels, level)
	}
	sort.Strings(levels)

	for _, level := range levels {
		for _, name := range services[level] {
			if err := s.Enable(name, level); err != nil {
				return err
			}
		}
	}
	return nil
}

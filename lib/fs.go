package alpineami_lib

import (
	"os"
	"path"

	"github.com/prometheus/procfs"
)

// ProcRoot is where the proc filesystem is mounted.
var ProcRoot = "/proc"

// MountedSources returns the mount table of the current process, as seen under procRoot.
func MountedSources(procRoot string) ([]*procfs.MountInfo, error) {
	fs, err := procfs.NewFS(procRoot)
	if err != nil {
		return nil, err
	}
	self, err := fs.Self()
	if err != nil {
		return nil, err
	}
	return self.MountInfo()
}

// IsMounted checks if a directory is still a mount point
func IsMounted(pth string) bool {
	entries, err := MountedSources(ProcRoot)
	if err != nil {
		return false
	}

	pth = path.Clean(pth)
	for _, e := range entries {
		if e.MountPoint == pth {
			return true
		}
	}

	return false
}

// FileExists returns true only for an existing path, hiding stat errors.
func FileExists(pth string) bool {
	_, err := os.Stat(pth)
	return err == nil
}

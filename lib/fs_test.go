package alpineami_lib

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var mountInfo = []string{
	"22 1 0:21 / /sys rw,nosuid,nodev,noexec,relatime shared:7 - sysfs sysfs rw",
	"23 1 0:22 / /proc rw,nosuid,nodev,noexec,relatime shared:13 - proc proc rw",
	"25 1 202:1 / / rw,relatime shared:1 - ext4 /dev/xvda1 rw",
	"61 25 202:81 / /mnt/target rw,relatime shared:30 - ext4 /dev/xvdf1 rw",
}

// writeProc lays out a proc tree whose "self" holds the given mountinfo lines
func writeProc(t *testing.T, lines []string) string {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "42"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "42", "mountinfo"), []byte(strings.Join(lines, "\n")+"\n"), 0644))
	require.NoError(t, os.Symlink("42", filepath.Join(root, "self")))
	return root
}

func TestMountedSources(t *testing.T) {
	entries, err := MountedSources(writeProc(t, mountInfo))
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, "/dev/xvdf1", entries[3].Source)
	assert.Equal(t, "/mnt/target", entries[3].MountPoint)
	assert.Equal(t, "ext4", entries[3].FSType)
}

func TestMountedSourcesMissing(t *testing.T) {
	_, err := MountedSources(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestIsMounted(t *testing.T) {
	saved := ProcRoot
	defer func() { ProcRoot = saved }()
	ProcRoot = writeProc(t, mountInfo)

	assert.True(t, IsMounted("/mnt/target/"))
	assert.False(t, IsMounted("/mnt"))
	assert.False(t, IsMounted("/mnt/target/boot"))
}

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	assert.True(t, FileExists(dir))
	assert.False(t, FileExists(filepath.Join(dir, "nope")))
}

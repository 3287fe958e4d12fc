package alpineami_sr

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"testing"

	alpineami_lib "github.com/metastable/alpine-ec2-ami/lib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

type fakeMounter struct {
	mounted   []string
	unmounted []string
	failMount map[string]bool
	failUmnt  map[string]bool
}

func newFakeMounter() *fakeMounter {
	return &fakeMounter{failMount: map[string]bool{}, failUmnt: map[string]bool{}}
}

func (fm *fakeMounter) Mount(source, target, fstype string, flags uintptr, data string) error {
	if fm.failMount[target] {
		return fmt.Errorf("mount %s failed", target)
	}
	fm.mounted = append(fm.mounted, target)
	return nil
}

func (fm *fakeMounter) Unmount(target string, flags int) error {
	if fm.failUmnt[target] {
		return fmt.Errorf("umount %s failed", target)
	}
	fm.unmounted = append(fm.unmounted, target)
	return nil
}

type fakeExec struct {
	commands [][]string
}

func (fe *fakeExec) Run(stdin io.Reader, name string, args ...string) error {
	fe.commands = append(fe.commands, append([]string{name}, args...))
	return nil
}

func TestMountRoot(t *testing.T) {
	root := path.Join(t.TempDir(), "target")
	tree := NewMountTree(newFakeMounter())

	mp, err := tree.MountRoot("/dev/xvdf1", root+"/")
	require.NoError(t, err)
	assert.Equal(t, root, mp.Destination)
	assert.Equal(t, "ext4", mp.FSType)
	assert.Equal(t, root, tree.Root())
	assert.Equal(t, "/dev/xvdf1", tree.Device())
	assert.DirExists(t, root)

	_, err = tree.MountRoot("/dev/xvdf2", root)
	assert.Error(t, err)
}

func TestMountDependentWithoutRoot(t *testing.T) {
	mounter := newFakeMounter()
	_, err := NewMountTree(mounter).MountDependent("/dev/xvdf1", "/boot/efi", "vfat", 0)
	assert.Error(t, err)
	assert.Empty(t, mounter.mounted)
}

func TestMountDependent(t *testing.T) {
	root := t.TempDir()
	tree := NewMountTree(newFakeMounter())
	_, err := tree.MountRoot("/dev/xvdf2", root)
	require.NoError(t, err)

	efi, err := tree.MountDependent("/dev/xvdf1", "/boot/efi", "vfat", 0)
	require.NoError(t, err)
	assert.Equal(t, path.Join(root, "boot/efi"), efi.Destination)
	assert.Equal(t, unix.UMOUNT_NOFOLLOW, efi.UnmountFlags)
	assert.DirExists(t, efi.Destination)

	dev, err := tree.MountDependent("/dev", "/dev", "", unix.MS_BIND)
	require.NoError(t, err)
	assert.Equal(t, unix.UMOUNT_NOFOLLOW|unix.MNT_DETACH, dev.UnmountFlags)

	assert.True(t, tree.IsTracked(path.Join(root, "boot/efi/")))
	assert.False(t, tree.IsTracked(path.Join(root, "boot")))
	assert.Len(t, tree.Mounts(), 3)
}

func TestUnmountAllReverseOrder(t *testing.T) {
	root := t.TempDir()
	mounter := newFakeMounter()
	tree := NewMountTree(mounter)
	_, err := tree.MountRoot("/dev/xvdf2", root)
	require.NoError(t, err)
	for _, d := range []string{"/boot/efi", "/proc", "/dev", "/sys"} {
		_, err = tree.MountDependent(d, d, "", 0)
		require.NoError(t, err)
	}

	require.NoError(t, tree.UnmountAll())
	assert.Equal(t, []string{
		path.Join(root, "sys"),
		path.Join(root, "dev"),
		path.Join(root, "proc"),
		path.Join(root, "boot/efi"),
		root,
	}, mounter.unmounted)
	assert.Empty(t, tree.Mounts())
	assert.Empty(t, tree.Root())

	// Nothing tracked, nothing touched
	require.NoError(t, tree.UnmountAll())
	assert.Len(t, mounter.unmounted, 5)
}

func TestUnmountAllContinuesPastFailures(t *testing.T) {
	root := t.TempDir()
	mounter := newFakeMounter()
	mounter.failUmnt[path.Join(root, "proc")] = true
	tree := NewMountTree(mounter)
	_, err := tree.MountRoot("/dev/xvdf1", root)
	require.NoError(t, err)
	_, err = tree.MountDependent("proc", "/proc", "proc", 0)
	require.NoError(t, err)
	_, err = tree.MountDependent("/sys", "/sys", "", unix.MS_BIND)
	require.NoError(t, err)

	err = tree.UnmountAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "umount "+path.Join(root, "proc"))
	assert.Equal(t, []string{path.Join(root, "sys"), root}, mounter.unmounted)
	assert.Empty(t, tree.Mounts())
}

func TestRelease(t *testing.T) {
	root := t.TempDir()
	mounter := newFakeMounter()
	tree := NewMountTree(mounter)
	_, err := tree.MountRoot("/dev/xvdf2", root)
	require.NoError(t, err)
	efi, err := tree.MountDependent("/dev/xvdf1", "/boot/efi", "vfat", 0)
	require.NoError(t, err)
	proc, err := tree.MountDependent("proc", "/proc", "proc", 0)
	require.NoError(t, err)

	assert.Error(t, tree.Release(efi))
	assert.Empty(t, mounter.unmounted)

	require.NoError(t, tree.Release(proc))
	require.NoError(t, tree.Release(efi))
	assert.Equal(t, []string{path.Join(root, "proc"), path.Join(root, "boot/efi")}, mounter.unmounted)
	assert.Len(t, tree.Mounts(), 1)
	assert.Error(t, tree.Release(proc))
}

func hostResolv(t *testing.T) string {
	pth := path.Join(t.TempDir(), "resolv.conf")
	require.NoError(t, os.WriteFile(pth, []byte("nameserver 169.254.169.253\n"), 0644))
	return pth
}

func TestChrootSession(t *testing.T) {
	root := t.TempDir()
	mounter := newFakeMounter()
	exec := &fakeExec{}
	tree := NewMountTree(mounter)
	_, err := tree.MountRoot("/dev/xvdf1", root)
	require.NoError(t, err)

	session, err := Enter(tree, exec, hostResolv(t))
	require.NoError(t, err)
	assert.Equal(t, []string{root, path.Join(root, "proc"), path.Join(root, "dev"), path.Join(root, "sys")}, mounter.mounted)

	data, err := os.ReadFile(path.Join(root, "etc", "resolv.conf"))
	require.NoError(t, err)
	assert.Equal(t, "nameserver 169.254.169.253\n", string(data))

	require.NoError(t, session.Run("apk", "add", "openssh"))
	assert.Equal(t, [][]string{{"chroot", root, "apk", "add", "openssh"}}, exec.commands)

	require.NoError(t, session.Close())
	assert.NoFileExists(t, path.Join(root, "etc", "resolv.conf"))
	assert.Equal(t, []string{path.Join(root, "sys"), path.Join(root, "dev"), path.Join(root, "proc")}, mounter.unmounted)
	assert.Equal(t, root, tree.Root())

	assert.ErrorIs(t, session.Run("true"), ErrSessionClosed)
	assert.Len(t, exec.commands, 1)

	require.NoError(t, session.Close())
	assert.Len(t, mounter.unmounted, 3)
}

func TestChrootSessionSymlinkedResolver(t *testing.T) {
	root := t.TempDir()
	mounter := newFakeMounter()
	tree := NewMountTree(mounter)
	_, err := tree.MountRoot("/dev/xvdf1", root)
	require.NoError(t, err)

	// systemd-resolved layout: resolv.conf -> ../run/systemd/resolve/stub-resolv.conf
	host := t.TempDir()
	stub := path.Join(host, "run", "stub-resolv.conf")
	require.NoError(t, os.MkdirAll(path.Dir(stub), 0755))
	require.NoError(t, os.WriteFile(stub, []byte("nameserver 127.0.0.53\n"), 0644))
	link := path.Join(host, "etc", "resolv.conf")
	require.NoError(t, os.MkdirAll(path.Dir(link), 0755))
	require.NoError(t, os.Symlink("../run/stub-resolv.conf", link))

	session, err := Enter(tree, &fakeExec{}, link)
	require.NoError(t, err)

	staged := path.Join(root, "etc", "resolv.conf")
	fi, err := os.Lstat(staged)
	require.NoError(t, err)
	assert.True(t, fi.Mode().IsRegular(), "staged resolver is %s", fi.Mode())
	data, err := os.ReadFile(staged)
	require.NoError(t, err)
	assert.Equal(t, "nameserver 127.0.0.53\n", string(data))

	require.NoError(t, session.Close())
	assert.NoFileExists(t, staged)
	assert.FileExists(t, stub)
}

func TestEnterDanglingResolver(t *testing.T) {
	root := t.TempDir()
	mounter := newFakeMounter()
	tree := NewMountTree(mounter)
	_, err := tree.MountRoot("/dev/xvdf1", root)
	require.NoError(t, err)

	link := path.Join(t.TempDir(), "resolv.conf")
	require.NoError(t, os.Symlink("/nonexistent/stub-resolv.conf", link))

	_, err = Enter(tree, &fakeExec{}, link)
	require.Error(t, err)
	assert.Len(t, tree.Mounts(), 1)
	assert.Len(t, mounter.unmounted, 3)
}

func TestChrootSessionBindGone(t *testing.T) {
	root := t.TempDir()
	exec := &fakeExec{}
	tree := NewMountTree(newFakeMounter())
	_, err := tree.MountRoot("/dev/xvdf1", root)
	require.NoError(t, err)
	session, err := Enter(tree, exec, "")
	require.NoError(t, err)

	require.NoError(t, tree.UnmountAll())
	assert.False(t, session.IsOpen())
	assert.True(t, errors.Is(session.Run("true"), ErrSessionClosed))
	assert.Empty(t, exec.commands)
	assert.NoError(t, session.Close())
}

func TestEnterWithoutRoot(t *testing.T) {
	_, err := Enter(NewMountTree(newFakeMounter()), &fakeExec{}, "")
	assert.Error(t, err)
}

func TestEnterBindFailure(t *testing.T) {
	root := t.TempDir()
	mounter := newFakeMounter()
	mounter.failMount[path.Join(root, "sys")] = true
	tree := NewMountTree(mounter)
	_, err := tree.MountRoot("/dev/xvdf1", root)
	require.NoError(t, err)

	_, err = Enter(tree, &fakeExec{}, "")
	require.Error(t, err)
	assert.Equal(t, []string{path.Join(root, "dev"), path.Join(root, "proc")}, mounter.unmounted)
	assert.Len(t, tree.Mounts(), 1)
}

var _ alpineami_lib.Mounter = (*fakeMounter)(nil)

package alpineami_sr

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	wzlib_logger "github.com/infra-whizz/wzlib/logger"
	"github.com/isbm/go-shutil"
	alpineami_lib "github.com/metastable/alpine-ec2-ami/lib"
	"golang.org/x/sys/unix"
)

var ErrSessionClosed = errors.New("chroot session is closed")

// HostResolvConf is copied into the target while the session is open
var HostResolvConf = "/etc/resolv.conf"

type bind struct {
	source      string
	destination string
	fstype      string
	flags       uintptr
}

var sessionBinds = []bind{
	{"proc", "/proc", "proc", 0},
	{"/dev", "/dev", "", unix.MS_BIND},
	{"/sys", "/sys", "", unix.MS_BIND},
}

// ChrootSession runs commands inside the mounted target. It borrows the
// mount tree and owns only the binds and the resolver file it added.
type ChrootSession struct {
	tree   *MountTree
	exec   alpineami_lib.Executor
	binds  []*MountPoint
	resolv string
	closed bool

	wzlib_logger.WzLogger
}

// Enter the target root. The root must be mounted in the tree.
func Enter(tree *MountTree, exec alpineami_lib.Executor, hostResolv string) (*ChrootSession, error) {
	if tree.Root() == "" {
		return nil, fmt.Errorf("unable to enter chroot: target root is not mounted")
	}

	cs := new(ChrootSession)
	cs.tree = tree
	cs.exec = exec
	cs.binds = []*MountPoint{}

	cs.GetLogger().Infof("Entering chroot at %s", tree.Root())
	for _, b := range sessionBinds {
		mp, err := tree.MountDependent(b.source, b.destination, b.fstype, b.flags)
		if err != nil {
			cs.Close()
			return nil, err
		}
		cs.binds = append(cs.binds, mp)
	}

	if hostResolv != "" {
		target := path.Join(tree.Root(), "etc", "resolv.conf")
		if err := os.MkdirAll(path.Dir(target), 0755); err != nil {
			cs.Close()
			return nil, err
		}
		// Stub resolvers are usually symlinks that mean nothing inside the target
		source, err := filepath.EvalSymlinks(hostResolv)
		if err != nil {
			cs.Close()
			return nil, fmt.Errorf("unable to resolve %s: %w", hostResolv, err)
		}
		if err := shutil.CopyFile(source, target, true); err != nil {
			cs.Close()
			return nil, fmt.Errorf("unable to copy %s into the target: %w", hostResolv, err)
		}
		cs.resolv = target
	}

	return cs, nil
}

// Root path of the session
func (cs *ChrootSession) Root() string {
	return cs.tree.Root()
}

// IsOpen returns false after Close or once any of the session binds is gone
func (cs *ChrootSession) IsOpen() bool {
	if cs.closed {
		return false
	}
	for _, mp := range cs.binds {
		if !cs.tree.IsTracked(mp.Destination) {
			return false
		}
	}
	return true
}

// Run a command inside the chroot
func (cs *ChrootSession) Run(command ...string) error {
	if !cs.IsOpen() {
		return ErrSessionClosed
	}
	if len(command) == 0 {
		return fmt.Errorf("no command to run in chroot")
	}
	cs.GetLogger().Debugf("chroot %s %v", cs.tree.Root(), command)
	return cs.exec.Run(nil, "chroot", append([]string{cs.tree.Root()}, command...)...)
}

// Close removes the resolver file and the binds. Calling it again does nothing.
func (cs *ChrootSession) Close() error {
	if cs.closed {
		return nil
	}
	cs.closed = true

	errs := []error{}
	if cs.resolv != "" {
		if err := os.Remove(cs.resolv); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
		cs.resolv = ""
	}

	for idx := len(cs.binds) - 1; idx >= 0; idx-- {
		mp := cs.binds[idx]
		if !cs.tree.IsTracked(mp.Destination) {
			continue
		}
		if err := cs.tree.Release(mp); err != nil {
			errs = append(errs, err)
		}
	}
	cs.GetLogger().Debugf("Left chroot")

	return errors.Join(errs...)
}

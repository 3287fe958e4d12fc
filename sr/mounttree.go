package alpineami_sr

import (
	"errors"
	"fmt"
	"os"
	"path"

	wzlib_logger "github.com/infra-whizz/wzlib/logger"
	alpineami_lib "github.com/metastable/alpine-ec2-ami/lib"
	"golang.org/x/sys/unix"
)

// MountPoint is a single tracked mount
type MountPoint struct {
	Source       string
	Destination  string // absolute
	FSType       string
	Flags        uintptr
	UnmountFlags int
}

func (mp *MountPoint) String() string {
	return fmt.Sprintf("%s on %s", mp.Source, mp.Destination)
}

// MountTree tracks everything mounted under the target root. The root is
// always the first entry and dependents are unmounted before it.
type MountTree struct {
	root    string
	device  string
	mounts  []*MountPoint
	mounter alpineami_lib.Mounter

	wzlib_logger.WzLogger
}

func NewMountTree(mounter alpineami_lib.Mounter) *MountTree {
	mt := new(MountTree)
	mt.mounter = mounter
	mt.mounts = []*MountPoint{}
	return mt
}

// Root path of the target, empty if not mounted
func (mt *MountTree) Root() string {
	return mt.root
}

// Device of the target root
func (mt *MountTree) Device() string {
	return mt.device
}

// Mounts returns the tracked mounts in mount order
func (mt *MountTree) Mounts() []*MountPoint {
	return append([]*MountPoint{}, mt.mounts...)
}

// IsTracked returns true if the absolute destination is mounted by this tree
func (mt *MountTree) IsTracked(destination string) bool {
	destination = path.Clean(destination)
	for _, mp := range mt.mounts {
		if mp.Destination == destination {
			return true
		}
	}
	return false
}

func (mt *MountTree) mount(mp *MountPoint) error {
	if err := os.MkdirAll(mp.Destination, 0755); err != nil {
		return fmt.Errorf("unable to create mount point %s: %w", mp.Destination, err)
	}
	mt.GetLogger().Debugf("Mounting %s", mp)
	if err := mt.mounter.Mount(mp.Source, mp.Destination, mp.FSType, mp.Flags, ""); err != nil {
		return err
	}
	mt.mounts = append(mt.mounts, mp)
	return nil
}

// MountRoot mounts the root file-system of the target
func (mt *MountTree) MountRoot(node string, pth string) (*MountPoint, error) {
	if mt.root != "" {
		return nil, fmt.Errorf("target root is already mounted at %s", mt.root)
	}
	pth = path.Clean(pth)
	if alpineami_lib.IsMounted(pth) {
		return nil, fmt.Errorf("%s is already a mount point", pth)
	}
	mp := &MountPoint{Source: node, Destination: pth, FSType: "ext4"}
	if err := mt.mount(mp); err != nil {
		return nil, err
	}
	mt.root = pth
	mt.device = node
	return mp, nil
}

// MountDependent mounts source to the destination inside the target root
func (mt *MountTree) MountDependent(source string, destination string, fstype string, flags uintptr) (*MountPoint, error) {
	if mt.root == "" {
		return nil, fmt.Errorf("unable to mount %s: target root is not mounted", source)
	}

	mp := &MountPoint{
		Source:       source,
		Destination:  path.Join(mt.root, destination),
		FSType:       fstype,
		Flags:        flags,
		UnmountFlags: unix.UMOUNT_NOFOLLOW,
	}
	if flags&unix.MS_BIND != 0 {
		mp.UnmountFlags |= unix.MNT_DETACH
	}
	if err := mt.mount(mp); err != nil {
		return nil, err
	}
	return mp, nil
}

// Release unmounts a single mount point, which must be the most recent one.
func (mt *MountTree) Release(mp *MountPoint) error {
	if len(mt.mounts) == 0 || mt.mounts[len(mt.mounts)-1] != mp {
		return fmt.Errorf("%s is not the most recent mount", mp.Destination)
	}
	mt.GetLogger().Debugf("Unmounting %s", mp.Destination)
	if err := mt.mounter.Unmount(mp.Destination, mp.UnmountFlags); err != nil {
		return err
	}
	mt.mounts = mt.mounts[:len(mt.mounts)-1]
	if len(mt.mounts) == 0 {
		mt.root = ""
		mt.device = ""
	}
	return nil
}

// UnmountAll unmounts every tracked entry in reverse order. Failures do not
// stop the remaining unmounts and are returned joined.
func (mt *MountTree) UnmountAll() error {
	if len(mt.mounts) == 0 {
		return nil
	}

	mt.GetLogger().Infof("Unmounting %d file-system(s) under %s", len(mt.mounts), mt.root)
	errs := []error{}
	for idx := len(mt.mounts) - 1; idx >= 0; idx-- {
		mp := mt.mounts[idx]
		mt.GetLogger().Debugf("Unmounting %s", mp.Destination)
		if err := mt.mounter.Unmount(mp.Destination, mp.UnmountFlags); err != nil {
			mt.GetLogger().Errorf("Unable to unmount %s: %s", mp.Destination, err.Error())
			errs = append(errs, err)
		}
	}

	mt.mounts = []*MountPoint{}
	mt.root = ""
	mt.device = ""

	return errors.Join(errs...)
}

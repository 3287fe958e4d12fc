package alpineami_lib

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Mounter performs mount(2) and umount(2) on behalf of the mount tree.
type Mounter interface {
	Mount(source, target, fstype string, flags uintptr, data string) error
	Unmount(target string, flags int) error
}

// SysMounter calls the kernel directly.
type SysMounter struct{}

func NewSysMounter() *SysMounter {
	return new(SysMounter)
}

func (sm *SysMounter) Mount(source, target, fstype string, flags uintptr, data string) error {
	if err := unix.Mount(source, target, fstype, flags, data); err != nil {
		return fmt.Errorf("unable to mount %s to %s: %w", source, target, err)
	}
	return nil
}

func (sm *SysMounter) Unmount(target string, flags int) error {
	if err := unix.Unmount(target, flags); err != nil {
		return fmt.Errorf("unable to unmount %s: %w", target, err)
	}
	return nil
}

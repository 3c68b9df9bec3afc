//go:build linux || darwin

package cryptoutils

import "golang.org/x/sys/unix"

// allocLocked maps whole anonymous pages for size bytes and tries to lock
// them. mlock works on pages, so every buffer gets pages of its own and
// unlocking one never unlocks another.
func allocLocked(size int) (region []byte, locked bool, err error) {
	page := unix.Getpagesize()
	region, err = unix.Mmap(-1, 0, (size+page-1)/page*page, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, false, err
	}
	return region, unix.Mlock(region) == nil, nil
}

func freeLocked(region []byte, locked bool) {
	if locked {
		_ = unix.Munlock(region)
	}
	_ = unix.Munmap(region)
}

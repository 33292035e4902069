// Package shmutil wraps the POSIX shared-memory primitives the SAB and
// server-state regions are built on: memfd_create + mmap. No teacher
// equivalent exists (the teacher never shared memory across processes);
// grounded on the golang.org/x/sys/unix ecosystem convention already
// established for internal/wire.
package shmutil

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Region is an anonymous shared-memory mapping backed by a memfd. Passing
// the Fd to another process (via SCM_RIGHTS) and mmap-ing it there gives
// both sides a view of the same pages.
type Region struct {
	Fd   int
	Data []byte
	size int
}

// Create allocates a memfd of the given size and maps it read-write into
// this process. name is used only for /proc/self/fd diagnostics.
func Create(name string, size int) (*Region, error) {
	fd, err := unix.MemfdCreate(name, 0)
	if err != nil {
		return nil, fmt.Errorf("shmutil: memfd_create: %w", err)
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("shmutil: ftruncate: %w", err)
	}
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("shmutil: mmap: %w", err)
	}
	return &Region{Fd: fd, Data: data, size: size}, nil
}

// Attach maps an already-created shm fd (typically received via SCM_RIGHTS)
// read-write into this process. The caller owns fd and must eventually
// close it; Close on the returned Region does that.
func Attach(fd int, size int) (*Region, error) {
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("shmutil: mmap attach: %w", err)
	}
	return &Region{Fd: fd, Data: data, size: size}, nil
}

// Size returns the mapped region length in bytes.
func (r *Region) Size() int { return r.size }

// Close unmaps the region and closes the backing fd.
func (r *Region) Close() error {
	var err error
	if r.Data != nil {
		err = unix.Munmap(r.Data)
		r.Data = nil
	}
	if cerr := unix.Close(r.Fd); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

//go:build unix || darwin || linux

package mmap

import (
	"golang.org/x/sys/unix"
)

// mmapFile maps a file read-write and shared, so writes reach the
// underlying file through the page cache.
func mmapFile(fd uintptr, size int) ([]byte, error) {
	return unix.Mmap(int(fd), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
}

func munmapFile(data []byte) error {
	return unix.Munmap(data)
}

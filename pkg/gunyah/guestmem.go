// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

//go:build linux

package gunyah

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// GuestMem is an fd-backed slab of guest memory created with
// CreateGuestMem. The host reaches it through Map; the guest reaches
// it once a VM maps it with MapMemory.
type GuestMem struct {
	fd   int
	size uint64
}

// Fd returns the raw guest memory fd.
func (m *GuestMem) Fd() int {
	return m.fd
}

// Size returns the size the memory was created with.
func (m *GuestMem) Size() uint64 {
	return m.size
}

// Allocate backs [offset, offset+length) with pages without changing
// the fd's size.
func (m *GuestMem) Allocate(offset, length int64) error {
	if err := unix.Fallocate(m.fd, unix.FALLOC_FL_KEEP_SIZE, offset, length); err != nil {
		return fmt.Errorf("allocate guest memory: %w", err)
	}
	return nil
}

// PunchHole releases the pages backing [offset, offset+length).
func (m *GuestMem) PunchHole(offset, length int64) error {
	err := unix.Fallocate(m.fd, unix.FALLOC_FL_KEEP_SIZE|unix.FALLOC_FL_PUNCH_HOLE, offset, length)
	if err != nil {
		return fmt.Errorf("punch hole in guest memory: %w", err)
	}
	return nil
}

// Map maps [offset, offset+length) of the guest memory read-write
// into this process. Release the mapping with Unmap.
func (m *GuestMem) Map(offset int64, length int) ([]byte, error) {
	b, err := unix.Mmap(m.fd, offset, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap guest memory: %w", err)
	}
	return b, nil
}

// Unmap releases a mapping returned by Map.
func (m *GuestMem) Unmap(b []byte) error {
	return unix.Munmap(b)
}

// Close releases the guest memory fd. Mappings made by the VM or by
// Map survive until removed on their own.
func (m *GuestMem) Close() error {
	return unix.Close(m.fd)
}

// GuestMemRegion selects [Offset, Offset+Size) of a guest memory fd
// for mapping into a VM.
type GuestMemRegion struct {
	Mem    *GuestMem
	Offset uint64
	Size   uint64
}

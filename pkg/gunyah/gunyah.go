// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

//go:build linux

// Package gunyah talks to the Linux Gunyah hypervisor driver.
//
// A Gunyah handle opens /dev/gunyah and creates VMs and guest memory
// fds. A VM is configured with memory mappings, a device tree
// location and boot register values, then started. vCPUs, irqfds and
// ioeventfds attach to a VM as functions; each vCPU shares its run
// state with the kernel through an mmap of the vCPU fd.
//
// The types and constants in this package mirror
// include/uapi/linux/gunyah.h and are only useful on a kernel with
// the Gunyah driver.
package gunyah

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// DefaultDevicePath is where the Gunyah driver exposes its character
// device.
const DefaultDevicePath = "/dev/gunyah"

// Gunyah is an open handle to the hypervisor device.
type Gunyah struct {
	fd int
}

// Open opens the Gunyah device at DefaultDevicePath.
func Open() (*Gunyah, error) {
	return OpenPath(DefaultDevicePath)
}

// OpenPath opens the Gunyah device at path.
func OpenPath(path string) (*Gunyah, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &Gunyah{fd: fd}, nil
}

// CreateVM creates a VM of the platform's default type.
func (g *Gunyah) CreateVM() (*VM, error) {
	return g.CreateVMWithType(0)
}

// CreateVMWithType creates a VM of a platform specific type. Type 0
// is the platform default.
func (g *Gunyah) CreateVMWithType(vmType int) (*VM, error) {
	fd, err := ioctl(g.fd, GUNYAH_CREATE_VM, uintptr(vmType))
	if err != nil {
		return nil, fmt.Errorf("create VM: %w", err)
	}
	return &VM{fd: fd}, nil
}

// CreateGuestMem allocates size bytes of guest memory and returns the
// fd-backed handle. The fd is created close-on-exec. hugePages asks
// the kernel to back the memory with huge pages.
func (g *Gunyah) CreateGuestMem(size uint64, hugePages bool) (*GuestMem, error) {
	args := CreateMemArgs{Flags: GHMF_CLOEXEC, Size: size}
	if hugePages {
		args.Flags |= GHMF_ALLOW_HUGEPAGE
	}
	fd, err := ioctlPtr(g.fd, GUNYAH_CREATE_GUEST_MEM, unsafe.Pointer(&args))
	if err != nil {
		return nil, fmt.Errorf("create guest memory: %w", err)
	}
	return &GuestMem{fd: fd, size: size}, nil
}

// Fd returns the raw device fd.
func (g *Gunyah) Fd() int {
	return g.fd
}

// Close releases the device. VMs and guest memory created from it
// stay usable.
func (g *Gunyah) Close() error {
	return unix.Close(g.fd)
}

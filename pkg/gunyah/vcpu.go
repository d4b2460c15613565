// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

//go:build linux

package gunyah

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/antimetal/gunyah/pkg/errors"
)

// VCPU is a virtual CPU attached to a VM.
type VCPU struct {
	vm   *VM
	id   uint32
	fd   int
	mmap []byte
}

// AddVCPU creates vCPU id on the VM and maps its run structure.
func (vm *VM) AddVCPU(id uint32) (*VCPU, error) {
	arg := FnVCPUArg{ID: id}
	fd, err := vm.addFunction(GUNYAH_FN_VCPU, unsafe.Pointer(&arg), unsafe.Sizeof(arg))
	if err != nil {
		return nil, fmt.Errorf("add vCPU %d: %w", id, err)
	}

	size, err := ioctl(fd, GUNYAH_VCPU_MMAP_SIZE, 0)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("vCPU %d mmap size: %w", id, err)
	}
	if uintptr(size) < unsafe.Sizeof(VCPURun{}) {
		unix.Close(fd)
		return nil, fmt.Errorf("vCPU %d mmap size %d smaller than run structure", id, size)
	}

	mmap, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("mmap vCPU %d: %w", id, err)
	}

	return &VCPU{vm: vm, id: id, fd: fd, mmap: mmap}, nil
}

// ID returns the vCPU's id.
func (c *VCPU) ID() uint32 {
	return c.id
}

// Fd returns the raw vCPU fd.
func (c *VCPU) Fd() int {
	return c.fd
}

// RunState returns the run structure shared with the kernel. The
// kernel fills it on every return from Run; the host writes resume
// actions and ImmediateExit through it.
func (c *VCPU) RunState() *VCPURun {
	return (*VCPURun)(unsafe.Pointer(&c.mmap[0]))
}

// Run enters the guest and blocks until the vCPU exits. The exit
// cause is left in RunState. Run returns the raw errno when the ioctl
// fails, so callers can treat unix.EINTR as a request to run again.
func (c *VCPU) Run() error {
	_, err := ioctl(c.fd, GUNYAH_VCPU_RUN, 0)
	return err
}

// Close detaches the vCPU from its VM and releases the run structure
// mapping and the fd.
func (c *VCPU) Close() error {
	arg := FnVCPUArg{ID: c.id}
	err := c.vm.removeFunction(GUNYAH_FN_VCPU, unsafe.Pointer(&arg), unsafe.Sizeof(arg))
	return errors.Join(err, unix.Munmap(c.mmap), unix.Close(c.fd))
}

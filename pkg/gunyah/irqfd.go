// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

//go:build linux

package gunyah

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/antimetal/gunyah/pkg/errors"
)

// Irqfd connects an eventfd to a guest interrupt line. Writing to the
// eventfd asserts the interrupt.
type Irqfd struct {
	vm      *VM
	label   uint32
	level   bool
	eventfd int
}

// NewIrqfd registers an eventfd for the guest interrupt named by
// label. level selects level triggered semantics; the default is
// edge. Labels must be unique within a VM.
func (vm *VM) NewIrqfd(label uint32, level bool) (*Irqfd, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("create eventfd: %w", err)
	}

	arg := irqfdArg(fd, label, level)
	if _, err := vm.addFunction(GUNYAH_FN_IRQFD, unsafe.Pointer(&arg), unsafe.Sizeof(arg)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("register irqfd %d: %w", label, err)
	}

	return &Irqfd{vm: vm, label: label, level: level, eventfd: fd}, nil
}

func irqfdArg(fd int, label uint32, level bool) FnIrqfdArg {
	arg := FnIrqfdArg{Fd: uint32(fd), Label: label}
	if level {
		arg.Flags |= GUNYAH_IRQFD_FLAGS_LEVEL
	}
	return arg
}

// Label returns the guest interrupt the irqfd is bound to.
func (f *Irqfd) Label() uint32 {
	return f.label
}

// Level reports whether the interrupt is level triggered.
func (f *Irqfd) Level() bool {
	return f.level
}

// Fd returns the underlying eventfd.
func (f *Irqfd) Fd() int {
	return f.eventfd
}

// Trigger asserts the interrupt.
func (f *Irqfd) Trigger() error {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	if _, err := unix.Write(f.eventfd, buf[:]); err != nil {
		return fmt.Errorf("write irqfd %d: %w", f.label, err)
	}
	return nil
}

// Close unregisters the irqfd from the VM and closes the eventfd.
func (f *Irqfd) Close() error {
	arg := irqfdArg(f.eventfd, f.label, f.level)
	err := f.vm.removeFunction(GUNYAH_FN_IRQFD, unsafe.Pointer(&arg), unsafe.Sizeof(arg))
	return errors.Join(err, unix.Close(f.eventfd))
}

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

// Ioeventfd is an eventfd the kernel signals when the guest writes to
// a registered physical address, letting the host observe the write
// without stopping the vCPU.
type Ioeventfd struct {
	vm        *VM
	addr      uint64
	len       uint32
	datamatch *uint64
	eventfd   int
}

// NewIoeventfd registers an eventfd signalled on guest writes to
// [addr, addr+length). length must be 1, 2, 4 or 8, or 0 to match any
// width. A non-nil datamatch restricts signalling to writes of that
// value.
func (vm *VM) NewIoeventfd(addr uint64, length uint32, datamatch *uint64) (*Ioeventfd, error) {
	// Non-blocking so a Read of an unsignalled eventfd reports zero
	// instead of hanging.
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, fmt.Errorf("create eventfd: %w", err)
	}

	ev := &Ioeventfd{vm: vm, addr: addr, len: length, eventfd: fd}
	if datamatch != nil {
		v := *datamatch
		ev.datamatch = &v
	}

	arg := ev.arg()
	if _, err := vm.addFunction(GUNYAH_FN_IOEVENTFD, unsafe.Pointer(&arg), unsafe.Sizeof(arg)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("register ioeventfd at %#x: %w", addr, err)
	}

	return ev, nil
}

func (e *Ioeventfd) arg() FnIoeventfdArg {
	arg := FnIoeventfdArg{Addr: e.addr, Len: e.len, Fd: int32(e.eventfd)}
	if e.datamatch != nil {
		arg.Datamatch = *e.datamatch
		arg.Flags |= GUNYAH_IOEVENTFD_FLAGS_DATAMATCH
	}
	return arg
}

// Addr returns the registered guest physical address.
func (e *Ioeventfd) Addr() uint64 {
	return e.addr
}

// Fd returns the underlying eventfd, for polling.
func (e *Ioeventfd) Fd() int {
	return e.eventfd
}

// Read drains the eventfd and returns the number of matching guest
// writes since the last Read, zero when there were none.
func (e *Ioeventfd) Read() (uint64, error) {
	var buf [8]byte
	if _, err := unix.Read(e.eventfd, buf[:]); err != nil {
		if err == unix.EAGAIN {
			return 0, nil
		}
		return 0, fmt.Errorf("read ioeventfd at %#x: %w", e.addr, err)
	}
	return binary.NativeEndian.Uint64(buf[:]), nil
}

// Close unregisters the ioeventfd from the VM and closes the eventfd.
func (e *Ioeventfd) Close() error {
	arg := e.arg()
	err := e.vm.removeFunction(GUNYAH_FN_IOEVENTFD, unsafe.Pointer(&arg), unsafe.Sizeof(arg))
	return errors.Join(err, unix.Close(e.eventfd))
}

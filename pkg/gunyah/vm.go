// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

//go:build linux

package gunyah

import (
	"fmt"
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ShareType selects how mapped memory is provided to the guest.
type ShareType int

const (
	// Share keeps the pages accessible to the host while mapped.
	Share ShareType = iota
	// Lend gives the pages to the guest; host access faults until
	// the mapping is removed.
	Lend
)

func (s ShareType) flags() uint32 {
	if s == Lend {
		return GUNYAH_MEM_FORCE_LEND
	}
	return GUNYAH_MEM_FORCE_SHARE
}

// GuestMemoryAccess is the access the guest gets to a mapping.
type GuestMemoryAccess int

const (
	AccessR GuestMemoryAccess = iota
	AccessRW
	AccessRX
	AccessRWX
)

func (a GuestMemoryAccess) flags() uint32 {
	switch a {
	case AccessR:
		return GUNYAH_MEM_ALLOW_READ
	case AccessRW:
		return GUNYAH_MEM_ALLOW_READ | GUNYAH_MEM_ALLOW_WRITE
	case AccessRX:
		return GUNYAH_MEM_ALLOW_READ | GUNYAH_MEM_ALLOW_EXEC
	default:
		return GUNYAH_MEM_ALLOW_RWX
	}
}

// VM is a virtual machine created from the Gunyah device. Configure
// memory, the DTB location and boot registers before Start.
type VM struct {
	fd int
}

// Fd returns the raw VM fd.
func (vm *VM) Fd() int {
	return vm.fd
}

// Start begins executing the VM. The DTB config must be set first.
func (vm *VM) Start() error {
	if _, err := ioctl(vm.fd, GUNYAH_VM_START, 0); err != nil {
		return fmt.Errorf("start VM: %w", err)
	}
	return nil
}

// MapMemory maps region at guestAddr in the guest physical address
// space.
func (vm *VM) MapMemory(guestAddr uint64, share ShareType, access GuestMemoryAccess, region GuestMemRegion) error {
	if err := vm.mapMemory(guestAddr, share.flags()|access.flags(), region); err != nil {
		return fmt.Errorf("map guest memory at %#x: %w", guestAddr, err)
	}
	return nil
}

// UnmapMemory removes a mapping made with the same arguments.
func (vm *VM) UnmapMemory(guestAddr uint64, share ShareType, access GuestMemoryAccess, region GuestMemRegion) error {
	if err := vm.mapMemory(guestAddr, share.flags()|access.flags()|GUNYAH_MEM_UNMAP, region); err != nil {
		return fmt.Errorf("unmap guest memory at %#x: %w", guestAddr, err)
	}
	return nil
}

func (vm *VM) mapMemory(guestAddr uint64, flags uint32, region GuestMemRegion) error {
	args := MapMemArgs{
		GuestAddr:  guestAddr,
		Flags:      flags,
		GuestMemFd: uint32(region.Mem.Fd()),
		Offset:     region.Offset,
		Size:       region.Size,
	}
	_, err := ioctlPtr(vm.fd, GUNYAH_VM_MAP_MEM, unsafe.Pointer(&args))
	return err
}

// SetDTBConfig tells the VM where in guest memory the device tree
// blob was loaded. The region must lie inside mapped memory.
func (vm *VM) SetDTBConfig(guestPhysAddr, size uint64) error {
	config := VMDTBConfig{GuestPhysAddr: guestPhysAddr, Size: size}
	if _, err := ioctlPtr(vm.fd, GUNYAH_VM_SET_DTB_CONFIG, unsafe.Pointer(&config)); err != nil {
		return fmt.Errorf("set DTB config: %w", err)
	}
	return nil
}

// SetBootContext seeds the guest register named by reg with value
// before the VM starts. Build reg with BootContextRegID.
func (vm *VM) SetBootContext(reg uint32, value uint64) error {
	bootCtx := VMBootContext{Reg: reg, Value: value}
	if _, err := ioctlPtr(vm.fd, GUNYAH_VM_SET_BOOT_CONTEXT, unsafe.Pointer(&bootCtx)); err != nil {
		return fmt.Errorf("set boot context: %w", err)
	}
	return nil
}

// SetBootPC sets the address the boot vCPU starts executing at.
func (vm *VM) SetBootPC(value uint64) error {
	return vm.SetBootContext(BootContextRegID(REG_SET_PC, 0), value)
}

// SetBootSP sets the boot vCPU's initial stack pointer.
func (vm *VM) SetBootSP(value uint64) error {
	return vm.SetBootContext(BootContextRegID(REG_SET_SP, 1), value)
}

// addFunction attaches a function of fnType to the VM. arg must point
// to the function's argument struct of argSize bytes; the kernel
// reads it during the call. Returns the fd for function types that
// create one.
func (vm *VM) addFunction(fnType uint32, arg unsafe.Pointer, argSize uintptr) (int, error) {
	desc := FnDesc{
		Type:    fnType,
		ArgSize: uint32(argSize),
		Arg:     uint64(uintptr(arg)),
	}
	fd, err := ioctlPtr(vm.fd, GUNYAH_VM_ADD_FUNCTION, unsafe.Pointer(&desc))
	// The argument pointer travels through FnDesc.Arg as an integer,
	// invisible to the garbage collector.
	runtime.KeepAlive(arg)
	return fd, err
}

// removeFunction detaches a function added with the same argument.
func (vm *VM) removeFunction(fnType uint32, arg unsafe.Pointer, argSize uintptr) error {
	desc := FnDesc{
		Type:    fnType,
		ArgSize: uint32(argSize),
		Arg:     uint64(uintptr(arg)),
	}
	_, err := ioctlPtr(vm.fd, GUNYAH_VM_REMOVE_FUNCTION, unsafe.Pointer(&desc))
	runtime.KeepAlive(arg)
	return err
}

// Close releases the VM fd. A running VM keeps running until its last
// reference is gone.
func (vm *VM) Close() error {
	return unix.Close(vm.fd)
}

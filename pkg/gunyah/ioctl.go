// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

//go:build linux

package gunyah

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// ioctl command encoding from the kernel's asm-generic layout: 8 bits
// of command number, 8 bits of type, 14 bits of argument size and 2
// bits of direction.
//
// https://github.com/torvalds/linux/blob/master/include/uapi/asm-generic/ioctl.h
const (
	iocNRBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14

	iocNRShift   = 0
	iocTypeShift = iocNRShift + iocNRBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits

	iocWrite = 1
)

// Request codes for the Gunyah device and the fds derived from it,
// mirroring include/uapi/linux/gunyah.h.
const (
	GUNYAH_IOCTL_TYPE = 'G'

	// /dev/gunyah
	GUNYAH_CREATE_VM = GUNYAH_IOCTL_TYPE<<iocTypeShift | 0x0<<iocNRShift
	GUNYAH_CREATE_GUEST_MEM = iocWrite<<iocDirShift |
		GUNYAH_IOCTL_TYPE<<iocTypeShift | 0x8<<iocNRShift |
		unsafe.Sizeof(CreateMemArgs{})<<iocSizeShift

	// VM fds
	GUNYAH_VM_SET_DTB_CONFIG = iocWrite<<iocDirShift |
		GUNYAH_IOCTL_TYPE<<iocTypeShift | 0x2<<iocNRShift |
		unsafe.Sizeof(VMDTBConfig{})<<iocSizeShift
	GUNYAH_VM_START        = GUNYAH_IOCTL_TYPE<<iocTypeShift | 0x3<<iocNRShift
	GUNYAH_VM_ADD_FUNCTION = iocWrite<<iocDirShift |
		GUNYAH_IOCTL_TYPE<<iocTypeShift | 0x4<<iocNRShift |
		unsafe.Sizeof(FnDesc{})<<iocSizeShift
	GUNYAH_VM_REMOVE_FUNCTION = iocWrite<<iocDirShift |
		GUNYAH_IOCTL_TYPE<<iocTypeShift | 0x7<<iocNRShift |
		unsafe.Sizeof(FnDesc{})<<iocSizeShift
	GUNYAH_VM_MAP_MEM = iocWrite<<iocDirShift |
		GUNYAH_IOCTL_TYPE<<iocTypeShift | 0x9<<iocNRShift |
		unsafe.Sizeof(MapMemArgs{})<<iocSizeShift
	GUNYAH_VM_SET_BOOT_CONTEXT = iocWrite<<iocDirShift |
		GUNYAH_IOCTL_TYPE<<iocTypeShift | 0xa<<iocNRShift |
		unsafe.Sizeof(VMBootContext{})<<iocSizeShift

	// vCPU fds
	GUNYAH_VCPU_RUN       = GUNYAH_IOCTL_TYPE<<iocTypeShift | 0x5<<iocNRShift
	GUNYAH_VCPU_MMAP_SIZE = GUNYAH_IOCTL_TYPE<<iocTypeShift | 0x6<<iocNRShift
)

// ioctl issues a request whose argument is an integer or absent.
func ioctl(fd int, req uintptr, arg uintptr) (int, error) {
	r, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, arg)
	if errno != 0 {
		return 0, errno
	}
	return int(r), nil
}

// ioctlPtr issues a request whose argument is a pointer to a struct
// the kernel reads. arg is referenced for the duration of the call.
func ioctlPtr(fd int, req uintptr, arg unsafe.Pointer) (int, error) {
	r, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return 0, errno
	}
	return int(r), nil
}

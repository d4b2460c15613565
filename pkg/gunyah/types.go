// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

//go:build linux

package gunyah

import "unsafe"

// The structs below mirror include/uapi/linux/gunyah.h. Layouts must
// match the kernel exactly; the ioctl request codes encode each
// struct's size.

// Function types accepted by GUNYAH_VM_ADD_FUNCTION and
// GUNYAH_VM_REMOVE_FUNCTION.
const (
	GUNYAH_FN_VCPU      = 1
	GUNYAH_FN_IRQFD     = 2
	GUNYAH_FN_IOEVENTFD = 3

	GUNYAH_FN_MAX_ARG_SIZE = 256
)

// FnDesc describes a VM function to add or remove. Arg holds the
// address of the function's argument struct and ArgSize its size.
type FnDesc struct {
	Type    uint32
	ArgSize uint32
	Arg     uint64
}

// FnVCPUArg names the vCPU to create. Adding the function returns the
// vCPU's fd.
type FnVCPUArg struct {
	ID uint32
}

const GUNYAH_IRQFD_FLAGS_LEVEL = 1 << 0

// FnIrqfdArg binds an eventfd to the guest interrupt named by Label.
type FnIrqfdArg struct {
	Fd    uint32
	Label uint32
	Flags uint32
	_     uint32
}

const GUNYAH_IOEVENTFD_FLAGS_DATAMATCH = 1 << 0

// FnIoeventfdArg registers an eventfd signalled on guest writes to
// [Addr, Addr+Len). Len must be 1, 2, 4 or 8, or 0 to match any
// width.
type FnIoeventfdArg struct {
	Datamatch uint64
	Addr      uint64
	Len       uint32
	Fd        int32
	Flags     uint32
	_         uint32
}

// Flags for CreateMemArgs.
const (
	GHMF_CLOEXEC        = 1 << 0
	GHMF_ALLOW_HUGEPAGE = 1 << 1
)

// CreateMemArgs configures a new guest memory fd.
type CreateMemArgs struct {
	Flags uint64
	Size  uint64
	_     [6]uint64
}

// Flags for MapMemArgs.
const (
	GUNYAH_MEM_DEFAULT_ACCESS = 0
	GUNYAH_MEM_ALLOW_READ     = 1 << 0
	GUNYAH_MEM_ALLOW_WRITE    = 1 << 1
	GUNYAH_MEM_ALLOW_EXEC     = 1 << 2
	GUNYAH_MEM_ALLOW_RWX      = GUNYAH_MEM_ALLOW_READ | GUNYAH_MEM_ALLOW_WRITE | GUNYAH_MEM_ALLOW_EXEC

	GUNYAH_MEM_FORCE_LEND  = 1 << 4
	GUNYAH_MEM_FORCE_SHARE = 1 << 5

	GUNYAH_MEM_UNMAP = 1 << 8
)

// MapMemArgs maps [Offset, Offset+Size) of a guest memory fd at
// GuestAddr in the guest physical address space, or removes such a
// mapping when GUNYAH_MEM_UNMAP is set.
type MapMemArgs struct {
	GuestAddr  uint64
	Flags      uint32
	GuestMemFd uint32
	Offset     uint64
	Size       uint64
}

// VMDTBConfig tells the VM where in guest memory its device tree blob
// lives. The region must fit inside memory already mapped into the
// guest.
type VMDTBConfig struct {
	GuestPhysAddr uint64
	Size          uint64
}

// Register sets addressable through VMBootContext.
const (
	REG_SET_X  = 0
	REG_SET_PC = 1
	REG_SET_SP = 2

	GUNYAH_VM_BOOT_CONTEXT_REG_SHIFT = 8
)

// BootContextRegID packs a register set and index into the Reg field
// of VMBootContext.
func BootContextRegID(regSet uint32, idx uint8) uint32 {
	return (regSet&0xff)<<GUNYAH_VM_BOOT_CONTEXT_REG_SHIFT | uint32(idx)
}

// VMBootContext seeds one guest register before the VM starts.
type VMBootContext struct {
	Reg   uint32
	_     uint32
	Value uint64
}

// Exit types reported in VMExitInfo.
const (
	GUNYAH_VM_EXIT_TYPE_UNKNOWN            = 0
	GUNYAH_VM_EXIT_TYPE_VM_EXIT            = 1
	GUNYAH_VM_EXIT_TYPE_PSCI_POWER_OFF     = 2
	GUNYAH_VM_EXIT_TYPE_PSCI_SYSTEM_RESET  = 3
	GUNYAH_VM_EXIT_TYPE_PSCI_SYSTEM_RESET2 = 4
	GUNYAH_VM_EXIT_TYPE_WDT_BITE           = 5
	GUNYAH_VM_EXIT_TYPE_HYP_ERROR          = 6
)

const GUNYAH_VM_MAX_EXIT_REASON_SIZE = 8

// VMExitInfo carries the hypervisor's description of why the guest
// stopped.
type VMExitInfo struct {
	Type       uint16
	_          uint16
	ReasonSize uint32
	Reason     [GUNYAH_VM_MAX_EXIT_REASON_SIZE]uint8
}

// Reasons a GUNYAH_VCPU_RUN ioctl returned to userspace.
const (
	GUNYAH_VCPU_EXIT_UNKNOWN    = 0
	GUNYAH_VCPU_EXIT_MMIO       = 1
	GUNYAH_VCPU_EXIT_STATUS     = 2
	GUNYAH_VCPU_EXIT_PAGE_FAULT = 3
)

// Resume actions the host writes back before the next GUNYAH_VCPU_RUN.
const (
	GUNYAH_VCPU_RESUME_HANDLED = 0
	GUNYAH_VCPU_RESUME_FAULT   = 1
	GUNYAH_VCPU_RESUME_RETRY   = 2
)

// Guest status values reported with GUNYAH_VCPU_EXIT_STATUS.
const (
	GUNYAH_VM_STATUS_LOAD_FAILED = 1
	GUNYAH_VM_STATUS_EXITED      = 2
	GUNYAH_VM_STATUS_CRASHED     = 3
)

// VCPURun is the structure shared with the kernel through an mmap of
// a vCPU fd. The kernel fills ExitReason and the exit payload on each
// return from GUNYAH_VCPU_RUN; MMIO, Status and PageFault view the
// payload.
type VCPURun struct {
	ImmediateExit uint8
	_             [7]uint8
	ExitReason    uint32
	_             [4]byte
	// The kernel's exit payload union. [3]uint64 keeps the 8 byte
	// alignment its members need.
	union [3]uint64
}

// VCPURunMMIO describes a guest access to an unmapped physical
// address. For writes the kernel provides Data; for reads the host
// fills Data and sets ResumeAction before running again.
type VCPURunMMIO struct {
	PhysAddr     uint64
	Data         [8]uint8
	Len          uint32
	IsWrite      uint8
	ResumeAction uint8
}

// VCPURunStatus reports the guest stopping, with detail in ExitInfo.
type VCPURunStatus struct {
	Status   uint32
	ExitInfo VMExitInfo
}

// VCPURunPageFault describes a stage-2 fault the host may repair, for
// example by providing memory, before setting ResumeAction.
type VCPURunPageFault struct {
	PhysAddr     uint64
	Attempt      uint8
	ResumeAction uint8
}

// MMIO views the exit payload. Valid only while ExitReason is
// GUNYAH_VCPU_EXIT_MMIO.
func (r *VCPURun) MMIO() *VCPURunMMIO {
	return (*VCPURunMMIO)(unsafe.Pointer(&r.union))
}

// Status views the exit payload. Valid only while ExitReason is
// GUNYAH_VCPU_EXIT_STATUS.
func (r *VCPURun) Status() *VCPURunStatus {
	return (*VCPURunStatus)(unsafe.Pointer(&r.union))
}

// PageFault views the exit payload. Valid only while ExitReason is
// GUNYAH_VCPU_EXIT_PAGE_FAULT.
func (r *VCPURun) PageFault() *VCPURunPageFault {
	return (*VCPURunPageFault)(unsafe.Pointer(&r.union))
}

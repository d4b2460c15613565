// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

//go:build linux

package gunyah_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/antimetal/gunyah/pkg/gunyah"
)

// Request codes as the kernel computes them from
// include/uapi/linux/gunyah.h. A drift here means a struct layout or
// command number changed.
func TestRequestCodes(t *testing.T) {
	tests := []struct {
		name string
		got  uintptr
		want uintptr
	}{
		{"GUNYAH_CREATE_VM", gunyah.GUNYAH_CREATE_VM, 0x4700},
		{"GUNYAH_VM_SET_DTB_CONFIG", gunyah.GUNYAH_VM_SET_DTB_CONFIG, 0x40104702},
		{"GUNYAH_VM_START", gunyah.GUNYAH_VM_START, 0x4703},
		{"GUNYAH_VM_ADD_FUNCTION", gunyah.GUNYAH_VM_ADD_FUNCTION, 0x40104704},
		{"GUNYAH_VCPU_RUN", gunyah.GUNYAH_VCPU_RUN, 0x4705},
		{"GUNYAH_VCPU_MMAP_SIZE", gunyah.GUNYAH_VCPU_MMAP_SIZE, 0x4706},
		{"GUNYAH_VM_REMOVE_FUNCTION", gunyah.GUNYAH_VM_REMOVE_FUNCTION, 0x40104707},
		{"GUNYAH_CREATE_GUEST_MEM", gunyah.GUNYAH_CREATE_GUEST_MEM, 0x40404708},
		{"GUNYAH_VM_MAP_MEM", gunyah.GUNYAH_VM_MAP_MEM, 0x40204709},
		{"GUNYAH_VM_SET_BOOT_CONTEXT", gunyah.GUNYAH_VM_SET_BOOT_CONTEXT, 0x4010470a},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
}

func TestBootContextRegID(t *testing.T) {
	tests := []struct {
		name   string
		regSet uint32
		idx    uint8
		want   uint32
	}{
		{"x0", gunyah.REG_SET_X, 0, 0x000},
		{"x18", gunyah.REG_SET_X, 18, 0x012},
		{"pc", gunyah.REG_SET_PC, 0, 0x100},
		{"sp_el1", gunyah.REG_SET_SP, 1, 0x201},
		{"reg set masked to a byte", 0x1ff, 0, 0xff00},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, gunyah.BootContextRegID(tt.regSet, tt.idx))
		})
	}
}

// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

//go:build linux

package gunyah_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antimetal/gunyah/pkg/gunyah"
)

const mib = 1 << 20

// openGunyah skips the test when the host has no Gunyah driver, so
// the functional tests only run on hardware that can create VMs.
func openGunyah(t *testing.T) *gunyah.Gunyah {
	t.Helper()
	if _, err := os.Stat(gunyah.DefaultDevicePath); err != nil {
		t.Skipf("gunyah device not available: %v", err)
	}
	g, err := gunyah.Open()
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, g.Close()) })
	return g
}

func createVM(t *testing.T) *gunyah.VM {
	t.Helper()
	vm, err := openGunyah(t).CreateVM()
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, vm.Close()) })
	return vm
}

func TestOpenPathMissingDevice(t *testing.T) {
	_, err := gunyah.OpenPath("/dev/does-not-exist")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/dev/does-not-exist")
}

func TestCreateVM(t *testing.T) {
	vm := createVM(t)
	assert.GreaterOrEqual(t, vm.Fd(), 0)
}

func TestCreateGuestMem(t *testing.T) {
	g := openGunyah(t)

	mem, err := g.CreateGuestMem(4*mib, false)
	require.NoError(t, err)
	defer mem.Close()

	assert.Equal(t, uint64(4*mib), mem.Size())

	// The host can reach guest memory through its own mapping.
	b, err := mem.Map(0, 4096)
	require.NoError(t, err)
	copy(b, "boot code goes here")
	require.NoError(t, mem.Unmap(b))

	require.NoError(t, mem.Allocate(0, mib))
	require.NoError(t, mem.PunchHole(0, mib))
}

func TestMapMemory(t *testing.T) {
	g := openGunyah(t)

	vm, err := g.CreateVM()
	require.NoError(t, err)
	defer vm.Close()

	mem, err := g.CreateGuestMem(4*mib, false)
	require.NoError(t, err)
	defer mem.Close()

	region := gunyah.GuestMemRegion{Mem: mem, Offset: 0, Size: 4 * mib}
	require.NoError(t, vm.MapMemory(0x4000, gunyah.Share, gunyah.AccessRWX, region))
	require.NoError(t, vm.UnmapMemory(0x4000, gunyah.Share, gunyah.AccessRWX, region))
}

func TestSetDTBConfig(t *testing.T) {
	vm := createVM(t)
	require.NoError(t, vm.SetDTBConfig(0, 4096))
}

func TestSetBootContext(t *testing.T) {
	vm := createVM(t)

	require.NoError(t, vm.SetBootContext(gunyah.BootContextRegID(gunyah.REG_SET_X, 0), 0xd00d))
	require.NoError(t, vm.SetBootPC(0x80000000))
	require.NoError(t, vm.SetBootSP(0x80100000))
}

func TestAddVCPU(t *testing.T) {
	vm := createVM(t)

	vcpu, err := vm.AddVCPU(0)
	require.NoError(t, err)

	assert.Equal(t, uint32(0), vcpu.ID())
	assert.Equal(t, uint32(gunyah.GUNYAH_VCPU_EXIT_UNKNOWN), vcpu.RunState().ExitReason)

	require.NoError(t, vcpu.Close())

	// The id is free again once the vCPU is removed.
	vcpu, err = vm.AddVCPU(0)
	require.NoError(t, err)
	require.NoError(t, vcpu.Close())
}

func TestIrqfd(t *testing.T) {
	vm := createVM(t)

	edge, err := vm.NewIrqfd(0, false)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), edge.Label())
	assert.False(t, edge.Level())
	require.NoError(t, edge.Trigger())

	level, err := vm.NewIrqfd(1, true)
	require.NoError(t, err)
	assert.True(t, level.Level())

	// Labels are exclusive per VM.
	_, err = vm.NewIrqfd(0, false)
	require.Error(t, err)

	require.NoError(t, edge.Close())
	require.NoError(t, level.Close())
}

func TestIoeventfd(t *testing.T) {
	vm := createVM(t)

	ev, err := vm.NewIoeventfd(0xdead0000, 8, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xdead0000), ev.Addr())

	// Nothing ran the guest, so the counter is still zero.
	n, err := ev.Read()
	require.NoError(t, err)
	assert.Zero(t, n)

	datamatch := uint64(0x1)
	matched, err := vm.NewIoeventfd(0xdead1000, 4, &datamatch)
	require.NoError(t, err)

	// The same address registers only once.
	_, err = vm.NewIoeventfd(0xdead0000, 8, nil)
	require.Error(t, err)

	require.NoError(t, ev.Close())
	require.NoError(t, matched.Close())
}

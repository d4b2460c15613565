// Copyright 2024-2025 Antimetal, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

//go:build linux

// vmboot loads a bare-metal image and a device tree blob into a
// Gunyah VM and runs it, printing guest writes to the serial MMIO
// range on stdout.
//
// Usage:
//
//	vmboot [flags] <image> <dtb>
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/antimetal/gunyah/pkg/errors"
	"github.com/antimetal/gunyah/pkg/gunyah"
)

func main() {
	memBase := flag.Uint64("mem-base", 0x8000_0000, "Guest physical base address of VM memory")
	memSize := flag.Uint64("mem-size", 64<<20, "Size of VM memory in bytes")
	vcpuCount := flag.Uint("vcpus", 1, "Number of vCPUs to spawn")
	serialBase := flag.Uint64("serial-base", 0x3f800, "Guest physical address of the serial port")
	hugePages := flag.Bool("huge-pages", false, "Back guest memory with huge pages")
	unprotected := flag.Bool("unprotected", false, "Share guest memory with the host instead of lending it")
	flag.Parse()

	if flag.NArg() != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <image> <dtb>\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(2)
	}

	image, err := os.ReadFile(flag.Arg(0))
	if err != nil {
		log.Fatalf("Failed to read image: %v", err)
	}
	dtb, err := os.ReadFile(flag.Arg(1))
	if err != nil {
		log.Fatalf("Failed to read DTB: %v", err)
	}

	pageSize := uint64(os.Getpagesize())
	dtbSize := (uint64(len(dtb)) + pageSize - 1) &^ (pageSize - 1)
	if uint64(len(image))+dtbSize+pageSize > *memSize {
		log.Fatalf("Image (%d bytes) and DTB (%d bytes) do not fit in %d bytes of memory",
			len(image), len(dtb), *memSize)
	}
	// The image boots from the base of memory; the DTB sits at the
	// top, page aligned.
	dtbOff := (*memSize - dtbSize) &^ (pageSize - 1)

	g, err := gunyah.Open()
	if err != nil {
		log.Fatalf("Failed to open gunyah device: %v", err)
	}
	defer g.Close()

	vm, err := g.CreateVM()
	if err != nil {
		log.Fatalf("Failed to create VM: %v", err)
	}
	defer vm.Close()

	mem, err := g.CreateGuestMem(*memSize, *hugePages)
	if err != nil {
		log.Fatalf("Failed to create guest memory: %v", err)
	}
	defer mem.Close()

	share := gunyah.Lend
	if *unprotected {
		share = gunyah.Share
	}
	region := gunyah.GuestMemRegion{Mem: mem, Offset: 0, Size: *memSize}
	if err := vm.MapMemory(*memBase, share, gunyah.AccessRWX, region); err != nil {
		log.Fatalf("Failed to map guest memory: %v", err)
	}

	// Load the binaries through a host mapping. Lent memory is still
	// reachable from the host until the VM starts.
	hostMem, err := mem.Map(0, int(*memSize))
	if err != nil {
		log.Fatalf("Failed to map guest memory into host: %v", err)
	}
	copy(hostMem, image)
	copy(hostMem[dtbOff:], dtb)
	if err := mem.Unmap(hostMem); err != nil {
		log.Fatalf("Failed to unmap guest memory from host: %v", err)
	}

	if err := vm.SetDTBConfig(*memBase+dtbOff, dtbSize); err != nil {
		log.Fatalf("Failed to set DTB config: %v", err)
	}
	if err := vm.SetBootPC(*memBase); err != nil {
		log.Fatalf("Failed to set boot PC: %v", err)
	}

	vcpus := make([]*gunyah.VCPU, 0, *vcpuCount)
	for id := uint32(0); id < uint32(*vcpuCount); id++ {
		vcpu, err := vm.AddVCPU(id)
		if err != nil {
			log.Fatalf("Failed to add vCPU %d: %v", id, err)
		}
		defer vcpu.Close()
		vcpus = append(vcpus, vcpu)
	}

	if err := vm.Start(); err != nil {
		log.Fatalf("Failed to start VM: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eg, ctx := errgroup.WithContext(ctx)
	for _, vcpu := range vcpus {
		vcpu := vcpu
		eg.Go(func() error {
			return runVCPU(ctx, vcpu, *serialBase)
		})
	}
	go func() {
		<-ctx.Done()
		// Ask vCPUs still inside the hypervisor to come back at
		// their next exit.
		for _, vcpu := range vcpus {
			vcpu.RunState().ImmediateExit = 1
		}
	}()

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("VM failed: %v", err)
	}
}

// runVCPU runs one vCPU until the guest stops, the context is
// cancelled, or an exit cannot be handled. Writes to the eight bytes
// at serialBase land on stdout; reads from them return zero.
func runVCPU(ctx context.Context, vcpu *gunyah.VCPU, serialBase uint64) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := vcpu.Run(); err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("run vCPU %d: %w", vcpu.ID(), err)
		}

		run := vcpu.RunState()
		switch run.ExitReason {
		case gunyah.GUNYAH_VCPU_EXIT_MMIO:
			handleMMIO(run.MMIO(), serialBase)

		case gunyah.GUNYAH_VCPU_EXIT_STATUS:
			status := run.Status()
			switch status.Status {
			case gunyah.GUNYAH_VM_STATUS_EXITED:
				fmt.Printf("vCPU %d: guest exited\n", vcpu.ID())
				return nil
			case gunyah.GUNYAH_VM_STATUS_CRASHED:
				return fmt.Errorf("guest crashed: %s", exitInfo(&status.ExitInfo))
			case gunyah.GUNYAH_VM_STATUS_LOAD_FAILED:
				return fmt.Errorf("guest failed to load: %s", exitInfo(&status.ExitInfo))
			default:
				return fmt.Errorf("guest stopped with unknown status %d", status.Status)
			}

		case gunyah.GUNYAH_VCPU_EXIT_PAGE_FAULT:
			return fmt.Errorf("vCPU %d: unexpected page fault at %#x",
				vcpu.ID(), run.PageFault().PhysAddr)

		default:
			return fmt.Errorf("vCPU %d: unexpected exit reason %d", vcpu.ID(), run.ExitReason)
		}
	}
}

func handleMMIO(mmio *gunyah.VCPURunMMIO, serialBase uint64) {
	if mmio.PhysAddr < serialBase || mmio.PhysAddr >= serialBase+8 {
		log.Printf("Unhandled MMIO access at %#x", mmio.PhysAddr)
		mmio.ResumeAction = gunyah.GUNYAH_VCPU_RESUME_FAULT
		return
	}

	if mmio.IsWrite == 1 {
		os.Stdout.Write(mmio.Data[:mmio.Len])
	} else {
		mmio.Data = [8]uint8{}
	}
	mmio.ResumeAction = gunyah.GUNYAH_VCPU_RESUME_HANDLED
}

func exitInfo(info *gunyah.VMExitInfo) string {
	n := info.ReasonSize
	if n > gunyah.GUNYAH_VM_MAX_EXIT_REASON_SIZE {
		n = gunyah.GUNYAH_VM_MAX_EXIT_REASON_SIZE
	}
	return fmt.Sprintf("type %d, reason %v", info.Type, info.Reason[:n])
}

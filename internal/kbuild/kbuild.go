// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package kbuild drives the kernel build system to export sanitized
// UAPI headers from a kernel source tree.
//
// See https://www.kernel.org/doc/html/latest/kbuild/headers_install.html
package kbuild

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/go-logr/logr"
)

// Arch is the architecture headers are exported for.
//
// TODO: support architectures other than arm64.
const Arch = "arm64"

// DefaultKbuildArgs returns the kbuild variable assignments used when
// none are configured.
func DefaultKbuildArgs() []string {
	return []string{"CROSS_COMPILE=aarch64-linux-gnu-"}
}

// Config configures a header extraction run.
type Config struct {
	// KernelDir is the kernel source tree to export headers from.
	KernelDir string
	// InstallDir receives the exported tree (INSTALL_HDR_PATH). The
	// headers land under InstallDir/include.
	InstallDir string
	// KbuildArgs are VAR=value assignments appended to the make
	// command line, e.g. CROSS_COMPILE=aarch64-linux-gnu-.
	KbuildArgs []string
	// Env is the environment for the make subprocess. nil means the
	// current process environment.
	Env []string
	// MakePath overrides the make executable. Defaults to "make",
	// resolved via PATH.
	MakePath string
}

// ApplyDefaults fills in zero values with defaults
func (c *Config) ApplyDefaults() {
	if c.KbuildArgs == nil {
		c.KbuildArgs = DefaultKbuildArgs()
	}
	if c.MakePath == "" {
		c.MakePath = "make"
	}
}

// Extractor runs `make headers_install` for a single kernel tree.
type Extractor struct {
	logger logr.Logger
	config Config
}

func New(logger logr.Logger, config Config) (*Extractor, error) {
	config.ApplyDefaults()

	if config.KernelDir == "" {
		return nil, fmt.Errorf("kernel source directory is required")
	}
	info, err := os.Stat(config.KernelDir)
	if err != nil {
		return nil, fmt.Errorf("kernel source directory validation failed: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("kernel source path %s is not a directory", config.KernelDir)
	}
	if config.InstallDir == "" {
		return nil, fmt.Errorf("header install directory is required")
	}
	// make runs with the kernel tree as its working directory, so a
	// relative INSTALL_HDR_PATH would resolve against the wrong root.
	absInstall, err := filepath.Abs(config.InstallDir)
	if err != nil {
		return nil, fmt.Errorf("resolving header install directory: %w", err)
	}
	config.InstallDir = absInstall

	return &Extractor{
		logger: logger.WithName("kbuild"),
		config: config,
	}, nil
}

// Run invokes `make headers_install INSTALL_HDR_PATH=<install>
// ARCH=arm64 <kbuild-args...>` in the kernel source directory. A
// non-zero make exit is returned as an error carrying make's stderr;
// there is no retry.
func (e *Extractor) Run(ctx context.Context) error {
	args := []string{
		"headers_install",
		"INSTALL_HDR_PATH=" + e.config.InstallDir,
		"ARCH=" + Arch,
	}
	args = append(args, e.config.KbuildArgs...)

	cmd := exec.CommandContext(ctx, e.config.MakePath, args...)
	cmd.Dir = e.config.KernelDir
	cmd.Env = e.config.Env

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	e.logger.V(1).Info("exporting kernel headers",
		"make", e.config.MakePath, "args", args, "dir", e.config.KernelDir)

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return fmt.Errorf("make headers_install in %s: %w", e.config.KernelDir, err)
		}
		return fmt.Errorf("make headers_install in %s: %w: %s", e.config.KernelDir, err, msg)
	}

	e.logger.Info("kernel headers exported", "dir", IncludeDir(e.config.InstallDir))
	return nil
}

// IncludeDir returns the root of the header tree that headers_install
// creates under installDir.
func IncludeDir(installDir string) string {
	return filepath.Join(installDir, "include")
}

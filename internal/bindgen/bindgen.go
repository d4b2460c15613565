// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package bindgen invokes the external bindgen tool to translate the
// Gunyah UAPI header into raw Rust bindings.
package bindgen

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/go-logr/logr"
)

// Config configures the generator invocation.
type Config struct {
	// BindgenPath overrides the bindgen executable. Defaults to
	// "bindgen", resolved via PATH.
	BindgenPath string
	// CargoPath overrides the cargo executable used by Install.
	// Defaults to "cargo".
	CargoPath string
	// Env is the environment for the subprocesses. nil means the
	// current process environment.
	Env []string
}

// ApplyDefaults fills in zero values with defaults
func (c *Config) ApplyDefaults() {
	if c.BindgenPath == "" {
		c.BindgenPath = "bindgen"
	}
	if c.CargoPath == "" {
		c.CargoPath = "cargo"
	}
}

// Generator runs bindgen with the fixed option set used for
// linux/gunyah.h. The options are not configurable: every generated
// artifact must come from the same invocation shape.
type Generator struct {
	logger logr.Logger
	config Config
}

func New(logger logr.Logger, config Config) *Generator {
	config.ApplyDefaults()
	return &Generator{
		logger: logger.WithName("bindgen"),
		config: config,
	}
}

// HeaderPath returns the Gunyah UAPI header under an exported header
// tree root.
func HeaderPath(includeDir string) string {
	return filepath.Join(includeDir, "linux", "gunyah.h")
}

// Install installs the bindgen CLI with cargo. A non-zero exit is
// returned as an error; there is no retry.
func (g *Generator) Install(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, g.config.CargoPath, "install", "bindgen-cli")
	cmd.Env = g.config.Env

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	g.logger.V(1).Info("installing bindgen", "cargo", g.config.CargoPath)

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return fmt.Errorf("cargo install bindgen-cli: %w", err)
		}
		return fmt.Errorf("cargo install bindgen-cli: %w: %s", err, msg)
	}
	return nil
}

// Generate runs bindgen over the Gunyah header under includeDir and
// writes the raw bindings to outFile. Layout tests and doc comments
// are suppressed, Default derives are requested, enums become module
// consts, and the kernel's internal __kernel/__BITS_PER_LONG/
// __FD_SETSIZE items are blocklisted so the bindings stay free of
// libc-shaped noise. A non-zero exit is returned as an error; there is
// no retry.
func (g *Generator) Generate(ctx context.Context, includeDir, outFile string) error {
	args := []string{
		"--no-layout-tests",
		"--no-doc-comments",
		"--with-derive-default",
		"--default-enum-style", "moduleconsts",
		"--blocklist-item=__kernel.*",
		"--blocklist-item=__BITS_PER_LONG",
		"--blocklist-item=__FD_SETSIZE",
		HeaderPath(includeDir),
		"-o", outFile,
		"--",
		"-isystem", includeDir,
	}

	cmd := exec.CommandContext(ctx, g.config.BindgenPath, args...)
	cmd.Env = g.config.Env

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	g.logger.V(1).Info("generating bindings",
		"bindgen", g.config.BindgenPath, "args", args)

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return fmt.Errorf("bindgen %s: %w", HeaderPath(includeDir), err)
		}
		return fmt.Errorf("bindgen %s: %w: %s", HeaderPath(includeDir), err, msg)
	}
	return nil
}

// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package generate runs the bindings pipeline end to end: export
// sanitized headers from a kernel tree, run bindgen over them, rewrite
// the generated text, and write the final bindings file.
//
// The stages run strictly in sequence, exactly once per run. All
// intermediate state lives in a scratch directory that is removed on
// every exit path, so two runs against the same kernel tree and
// toolchain produce byte-identical output apart from the copyright
// year.
package generate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/antimetal/gunyah/internal/bindgen"
	"github.com/antimetal/gunyah/internal/kbuild"
	"github.com/antimetal/gunyah/internal/rewrite"
	"github.com/antimetal/gunyah/pkg/errors"
	"github.com/go-logr/logr"
)

// DefaultOutputPath is where the bindings file is written when no
// output path is configured, relative to the working directory. It
// matches the consuming crate's source layout.
const DefaultOutputPath = "gunyah-bindings/src/bindings.rs"

// Config configures one pipeline run.
type Config struct {
	// KernelDir is the kernel source tree headers are exported from.
	KernelDir string
	// OutputPath is where the final bindings file is written.
	OutputPath string
	// KbuildArgs are VAR=value assignments for headers_install.
	KbuildArgs []string
	// InstallBindgen installs the bindgen CLI with cargo before
	// generating.
	InstallBindgen bool
	// Env is the environment for every subprocess the pipeline runs.
	// nil means the current process environment.
	Env []string

	// Executable overrides, used by tests.
	MakePath    string
	BindgenPath string
	CargoPath   string
}

// ApplyDefaults fills in zero values with defaults
func (c *Config) ApplyDefaults() {
	if c.OutputPath == "" {
		c.OutputPath = DefaultOutputPath
	}
}

// Pipeline generates the Gunyah bindings file from a kernel tree.
type Pipeline struct {
	logger logr.Logger
	config Config
	rules  *rewrite.Chain
}

func New(logger logr.Logger, config Config) *Pipeline {
	config.ApplyDefaults()
	return &Pipeline{
		logger: logger.WithName("generate"),
		config: config,
		rules:  rewrite.NewChain(rewrite.DefaultRules()...),
	}
}

// Run executes the pipeline. Any stage failure is fatal and returned
// as-is; nothing retries. The scratch header directory is gone by the
// time Run returns, whether it succeeds or not.
func (p *Pipeline) Run(ctx context.Context) error {
	gen := bindgen.New(p.logger, bindgen.Config{
		BindgenPath: p.config.BindgenPath,
		CargoPath:   p.config.CargoPath,
		Env:         p.config.Env,
	})

	if p.config.InstallBindgen {
		if err := gen.Install(ctx); err != nil {
			return err
		}
	}

	scratch, err := os.MkdirTemp("", "gunyah-headers-")
	if err != nil {
		return fmt.Errorf("creating scratch header directory: %w", err)
	}
	defer os.RemoveAll(scratch)

	extractor, err := kbuild.New(p.logger, kbuild.Config{
		KernelDir:  p.config.KernelDir,
		InstallDir: scratch,
		KbuildArgs: p.config.KbuildArgs,
		Env:        p.config.Env,
		MakePath:   p.config.MakePath,
	})
	if err != nil {
		return err
	}
	if err := extractor.Run(ctx); err != nil {
		return err
	}

	includeDir := kbuild.IncludeDir(scratch)
	header := bindgen.HeaderPath(includeDir)
	if _, err := os.Stat(header); err != nil {
		return errors.NewPrecondition(
			fmt.Sprintf("gunyah UAPI header missing after headers_install: %v", err))
	}

	raw := filepath.Join(scratch, "bindings.rs")
	if err := gen.Generate(ctx, includeDir, raw); err != nil {
		return err
	}

	data, err := os.ReadFile(raw)
	if err != nil {
		return fmt.Errorf("reading generated bindings: %w", err)
	}

	out := p.assemble(data, time.Now().Year())

	if dir := filepath.Dir(p.config.OutputPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating output directory: %w", err)
		}
	}
	if err := os.WriteFile(p.config.OutputPath, out, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", p.config.OutputPath, err)
	}

	p.logger.Info("bindings written", "path", p.config.OutputPath)
	return nil
}

// assemble rewrites the raw generated text line by line and prepends
// the fixed preamble. A trailing newline in the input survives as a
// trailing empty line, so the written file stays newline-terminated
// whenever bindgen's output was.
func (p *Pipeline) assemble(raw []byte, year int) []byte {
	lines := p.rules.Rewrite(strings.Split(string(raw), "\n"))
	return []byte(strings.Join(append(Preamble(year), lines...), "\n"))
}

// Preamble returns the fixed lines prepended to every bindings file:
// the copyright and license identifier, then the lint suppressions the
// generated code needs.
func Preamble(year int) []string {
	return []string{
		fmt.Sprintf("// Copyright (c) %d, Qualcomm Innovation Center, Inc. All rights reserved.", year),
		"// SPDX-License-Identifier: BSD-3-Clause-Clear",
		"",
		"#![allow(clippy::missing_safety_doc)]",
		"#![allow(clippy::upper_case_acronyms)]",
		"#![allow(non_upper_case_globals)]",
		"#![allow(non_camel_case_types)]",
		"#![allow(non_snake_case)]",
		"#![allow(dead_code)]",
		"",
	}
}

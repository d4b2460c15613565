// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package kbuild_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/antimetal/gunyah/internal/kbuild"
	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeStub writes an executable shell script standing in for make.
func writeStub(t *testing.T, dir, script string) string {
	t.Helper()
	path := filepath.Join(dir, "make")
	err := os.WriteFile(path, []byte(script), 0o755)
	require.NoError(t, err)
	return path
}

func TestNew_Validation(t *testing.T) {
	t.Run("error on empty kernel dir", func(t *testing.T) {
		_, err := kbuild.New(logr.Discard(), kbuild.Config{InstallDir: t.TempDir()})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "kernel source directory is required")
	})

	t.Run("error on missing kernel dir", func(t *testing.T) {
		_, err := kbuild.New(logr.Discard(), kbuild.Config{
			KernelDir:  "/non/existent/kernel/tree",
			InstallDir: t.TempDir(),
		})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "validation failed")
	})

	t.Run("error on kernel path that is a file", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "Makefile")
		require.NoError(t, os.WriteFile(file, []byte("all:\n"), 0o644))
		_, err := kbuild.New(logr.Discard(), kbuild.Config{
			KernelDir:  file,
			InstallDir: t.TempDir(),
		})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "not a directory")
	})

	t.Run("error on empty install dir", func(t *testing.T) {
		_, err := kbuild.New(logr.Discard(), kbuild.Config{KernelDir: t.TempDir()})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "install directory is required")
	})
}

func TestRun_CommandLine(t *testing.T) {
	kernelDir := t.TempDir()
	installDir := t.TempDir()
	outDir := t.TempDir()

	stub := writeStub(t, t.TempDir(), `#!/bin/sh
pwd > "$STUB_OUT/cwd"
printf '%s\n' "$@" > "$STUB_OUT/argv"
exit 0
`)

	extractor, err := kbuild.New(logr.Discard(), kbuild.Config{
		KernelDir:  kernelDir,
		InstallDir: installDir,
		Env:        append(os.Environ(), "STUB_OUT="+outDir),
		MakePath:   stub,
	})
	require.NoError(t, err)
	require.NoError(t, extractor.Run(context.Background()))

	argv, err := os.ReadFile(filepath.Join(outDir, "argv"))
	require.NoError(t, err)
	args := strings.Split(strings.TrimSpace(string(argv)), "\n")
	assert.Equal(t, []string{
		"headers_install",
		"INSTALL_HDR_PATH=" + installDir,
		"ARCH=arm64",
		"CROSS_COMPILE=aarch64-linux-gnu-",
	}, args)

	cwd, err := os.ReadFile(filepath.Join(outDir, "cwd"))
	require.NoError(t, err)
	wantDir, err := filepath.EvalSymlinks(kernelDir)
	require.NoError(t, err)
	gotDir, err := filepath.EvalSymlinks(strings.TrimSpace(string(cwd)))
	require.NoError(t, err)
	assert.Equal(t, wantDir, gotDir)
}

func TestRun_CustomKbuildArgs(t *testing.T) {
	outDir := t.TempDir()

	stub := writeStub(t, t.TempDir(), `#!/bin/sh
printf '%s\n' "$@" > "$STUB_OUT/argv"
exit 0
`)

	extractor, err := kbuild.New(logr.Discard(), kbuild.Config{
		KernelDir:  t.TempDir(),
		InstallDir: t.TempDir(),
		KbuildArgs: []string{"CROSS_COMPILE=ccache aarch64-linux-gnu-", "LLVM=1"},
		Env:        append(os.Environ(), "STUB_OUT="+outDir),
		MakePath:   stub,
	})
	require.NoError(t, err)
	require.NoError(t, extractor.Run(context.Background()))

	argv, err := os.ReadFile(filepath.Join(outDir, "argv"))
	require.NoError(t, err)
	args := strings.Split(strings.TrimSpace(string(argv)), "\n")
	assert.Contains(t, args, "CROSS_COMPILE=ccache aarch64-linux-gnu-")
	assert.Contains(t, args, "LLVM=1")
	assert.NotContains(t, args, "CROSS_COMPILE=aarch64-linux-gnu-")
}

func TestRun_MakeFailure(t *testing.T) {
	stub := writeStub(t, t.TempDir(), `#!/bin/sh
echo "scripts/Makefile.headersinst: no such file" >&2
exit 2
`)

	extractor, err := kbuild.New(logr.Discard(), kbuild.Config{
		KernelDir:  t.TempDir(),
		InstallDir: t.TempDir(),
		MakePath:   stub,
	})
	require.NoError(t, err)

	err = extractor.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "make headers_install")
	assert.Contains(t, err.Error(), "no such file")
}

func TestIncludeDir(t *testing.T) {
	assert.Equal(t, "/tmp/hdrs/include", kbuild.IncludeDir("/tmp/hdrs"))
}

// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package bindgen_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/antimetal/gunyah/internal/bindgen"
	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeStub(t *testing.T, name, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	err := os.WriteFile(path, []byte(script), 0o755)
	require.NoError(t, err)
	return path
}

func TestGenerate_CommandLine(t *testing.T) {
	outDir := t.TempDir()
	includeDir := t.TempDir()
	outFile := filepath.Join(t.TempDir(), "bindings.rs")

	stub := writeStub(t, "bindgen", `#!/bin/sh
printf '%s\n' "$@" > "$STUB_OUT/argv"
while [ $# -gt 0 ]; do
  if [ "$1" = "-o" ]; then out="$2"; fi
  shift
done
printf 'pub const GUNYAH_IOCTL_TYPE: u8 = 71u8;\n' > "$out"
exit 0
`)

	gen := bindgen.New(logr.Discard(), bindgen.Config{
		BindgenPath: stub,
		Env:         append(os.Environ(), "STUB_OUT="+outDir),
	})
	require.NoError(t, gen.Generate(context.Background(), includeDir, outFile))

	argv, err := os.ReadFile(filepath.Join(outDir, "argv"))
	require.NoError(t, err)
	args := strings.Split(strings.TrimSpace(string(argv)), "\n")
	assert.Equal(t, []string{
		"--no-layout-tests",
		"--no-doc-comments",
		"--with-derive-default",
		"--default-enum-style", "moduleconsts",
		"--blocklist-item=__kernel.*",
		"--blocklist-item=__BITS_PER_LONG",
		"--blocklist-item=__FD_SETSIZE",
		filepath.Join(includeDir, "linux", "gunyah.h"),
		"-o", outFile,
		"--",
		"-isystem", includeDir,
	}, args)

	generated, err := os.ReadFile(outFile)
	require.NoError(t, err)
	assert.Equal(t, "pub const GUNYAH_IOCTL_TYPE: u8 = 71u8;\n", string(generated))
}

func TestGenerate_Failure(t *testing.T) {
	stub := writeStub(t, "bindgen", `#!/bin/sh
echo "fatal: 'linux/gunyah.h' file not found" >&2
exit 1
`)

	gen := bindgen.New(logr.Discard(), bindgen.Config{BindgenPath: stub})
	err := gen.Generate(context.Background(), "/tmp/hdrs/include", filepath.Join(t.TempDir(), "bindings.rs"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bindgen")
	assert.Contains(t, err.Error(), "file not found")
}

func TestInstall_CommandLine(t *testing.T) {
	outDir := t.TempDir()

	stub := writeStub(t, "cargo", `#!/bin/sh
printf '%s\n' "$@" > "$STUB_OUT/argv"
exit 0
`)

	gen := bindgen.New(logr.Discard(), bindgen.Config{
		CargoPath: stub,
		Env:       append(os.Environ(), "STUB_OUT="+outDir),
	})
	require.NoError(t, gen.Install(context.Background()))

	argv, err := os.ReadFile(filepath.Join(outDir, "argv"))
	require.NoError(t, err)
	assert.Equal(t, "install\nbindgen-cli", strings.TrimSpace(string(argv)))
}

func TestInstall_Failure(t *testing.T) {
	stub := writeStub(t, "cargo", `#!/bin/sh
echo "error: could not find Cargo.toml" >&2
exit 101
`)

	gen := bindgen.New(logr.Discard(), bindgen.Config{CargoPath: stub})
	err := gen.Install(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cargo install bindgen-cli")
	assert.Contains(t, err.Error(), "could not find Cargo.toml")
}

func TestHeaderPath(t *testing.T) {
	assert.Equal(t, "/tmp/hdrs/include/linux/gunyah.h", bindgen.HeaderPath("/tmp/hdrs/include"))
}

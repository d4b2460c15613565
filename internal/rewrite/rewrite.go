// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package rewrite post-processes the Rust bindings that bindgen emits
// for the Gunyah UAPI header. The generated text is transformed line by
// line through an ordered set of rules; each rule sees exactly one line
// and either rewrites it, passes it through, or drops it. Rules carry
// no state between lines and never reorder the stream.
package rewrite

import (
	"regexp"
)

// Rule transforms a single line of generated binding text. It returns
// the resulting line and whether the line is kept. Rules must be pure:
// the output for a line depends on that line alone.
type Rule func(line string) (string, bool)

// DefaultRules is the rule set applied to linux/gunyah.h bindings, in
// application order.
func DefaultRules() []Rule {
	return []Rule{
		DropKernelScalarAliases(),
		RenameFixedWidthTypes(),
		WidenByteConstants("GUNYAH_IOCTL_TYPE"),
	}
}

// DropKernelScalarAliases drops the typedef lines bindgen emits for the
// kernel's fixed-width scalar aliases (__u8 through __be64). Every use
// of those aliases is renamed to a native Rust type, so the typedefs
// themselves would be dead code in the output.
func DropKernelScalarAliases() Rule {
	re := regexp.MustCompile(`^pub type __(u|s|(l|b)e)(8|16|32|64) =`)
	return func(line string) (string, bool) {
		if re.MatchString(line) {
			return "", false
		}
		return line, true
	}
}

// RenameFixedWidthTypes rewrites the kernel's fixed-width scalar names
// to their native Rust equivalents wherever they appear in a line:
// __uN becomes uN, __sN becomes iN, __leN becomes LeN and __beN
// becomes BeN.
func RenameFixedWidthTypes() Rule {
	subs := []struct {
		re   *regexp.Regexp
		repl string
	}{
		{regexp.MustCompile(`__u(8|16|32|64)`), "u${1}"},
		{regexp.MustCompile(`__s(8|16|32|64)`), "i${1}"},
		{regexp.MustCompile(`__le(8|16|32|64)`), "Le${1}"},
		{regexp.MustCompile(`__be(8|16|32|64)`), "Be${1}"},
	}
	return func(line string) (string, bool) {
		for _, s := range subs {
			line = s.re.ReplaceAllString(line, s.repl)
		}
		return line, true
	}
}

// WidenByteConstants rewrites `pub const <name>: u8 = <N>u8;` to
// `pub const <name>: u32 = <N>;` for each named constant. The ioctl
// macros in vmm-sys-util take the ioctl type as u32; remove this rule
// once a vmm-sys-util with
// https://android-review.googlesource.com/c/platform/external/rust/crates/vmm-sys-util/+/2370138
// is picked up. A named constant whose line does not have the expected
// shape passes through untouched.
func WidenByteConstants(names ...string) Rule {
	type sub struct {
		re   *regexp.Regexp
		repl string
	}
	subs := make([]sub, 0, len(names))
	for _, name := range names {
		subs = append(subs, sub{
			re:   regexp.MustCompile(`pub const ` + regexp.QuoteMeta(name) + `: u8 = (\d+)u8;`),
			repl: "pub const " + name + ": u32 = ${1};",
		})
	}
	return func(line string) (string, bool) {
		for _, s := range subs {
			line = s.re.ReplaceAllString(line, s.repl)
		}
		return line, true
	}
}

// Chain applies rules to each line independently, in a fixed order.
type Chain struct {
	rules []Rule
}

// NewChain returns a Chain that applies rules in the order given.
func NewChain(rules ...Rule) *Chain {
	return &Chain{rules: rules}
}

// Line runs the chain over a single line. The boolean result is false
// if any rule dropped the line; later rules do not see dropped lines.
func (c *Chain) Line(line string) (string, bool) {
	for _, rule := range c.rules {
		out, keep := rule(line)
		if !keep {
			return "", false
		}
		line = out
	}
	return line, true
}

// Rewrite applies the chain to every line and returns the survivors in
// their original order.
func (c *Chain) Rewrite(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if rewritten, keep := c.Line(line); keep {
			out = append(out, rewritten)
		}
	}
	return out
}

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/antimetal/gunyah/internal/generate"
)

var (
	// CLI Options
	kbuildArgs     []string
	outputPath     string
	installBindgen bool
	verbose        bool
)

var rootCmd = &cobra.Command{
	Use:   "gunyah-bindgen <kernel-src-dir>",
	Short: "Regenerate the Gunyah UAPI Rust bindings from a kernel tree",
	Long: `gunyah-bindgen exports the sanitized linux/gunyah.h UAPI header from a
kernel source tree, runs bindgen over it, rewrites the generated text
for the consuming crate, and writes the final bindings file.`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		var logger logr.Logger
		if verbose {
			zapLog, _ := zap.NewDevelopment()
			logger = zapr.NewLogger(zapLog)
		} else {
			logger = logr.Discard()
		}

		pipeline := generate.New(logger, generate.Config{
			KernelDir:      args[0],
			OutputPath:     outputPath,
			KbuildArgs:     kbuildArgs,
			InstallBindgen: installBindgen,
			Env:            os.Environ(),
		})
		return pipeline.Run(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().StringArrayVarP(&kbuildArgs, "kbuild", "k",
		[]string{"CROSS_COMPILE=aarch64-linux-gnu-"},
		"Extra kbuild VAR=value assignment for headers_install (repeatable)")
	rootCmd.Flags().StringVarP(&outputPath, "out", "o", generate.DefaultOutputPath,
		"Path the generated bindings file is written to")
	rootCmd.Flags().BoolVar(&installBindgen, "install-bindgen", true,
		"Install the bindgen CLI with cargo before generating")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false,
		"Enable verbose logging")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

package main

import (
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// newLogger configures logrus the way a CLI wants it: colorized text to
// stderr when it's a real terminal, plain text otherwise (redirected to a
// file, piped to another process).
func newLogger(noColor bool) *logrus.Logger {
	isTTY := isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
	out := colorable.NewColorableStderr()
	return &logrus.Logger{
		Out: out,
		Formatter: &logrus.TextFormatter{
			ForceColors:   isTTY && !noColor,
			DisableColors: noColor || !isTTY || color.NoColor,
		},
		Hooks: make(logrus.LevelHooks),
		Level: logrus.InfoLevel,
	}
}

func newRootCmd() *cobra.Command {
	var noColor bool
	var verbose bool

	root := &cobra.Command{
		Use:           "wasmkit",
		Short:         "A standalone interpreter for wasm32-wasi command-line binaries",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colorized log output")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	log := newLogger(false)
	cobra.OnInitialize(func() {
		log = newLogger(noColor)
		if verbose {
			log.SetLevel(logrus.DebugLevel)
		}
	})

	root.AddCommand(newRunCmd(func() *logrus.Logger { return log }))
	root.AddCommand(newValidateCmd())
	root.AddCommand(newVersionCmd())
	return root
}

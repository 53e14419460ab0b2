package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wasmkit-go/wasmkit/internal/binary"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <module.wasm>",
		Short: "Decode and structurally validate a wasm binary without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bin, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading %s: %w", args[0], err)
			}
			mod, err := binary.DecodeModule(bin)
			if err != nil {
				return fmt.Errorf("invalid module: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: valid (%d types, %d funcs, %d exports)\n",
				args[0], len(mod.TypeSection), len(mod.FunctionSection), len(mod.ExportSection))
			return nil
		},
	}
}

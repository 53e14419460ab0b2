package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is overwritten at release build time via -ldflags; "dev" marks a
// source checkout built without that flag.
var version = "dev"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the wasmkit version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), "wasmkit "+version)
			return nil
		},
	}
}

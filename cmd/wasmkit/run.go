package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/wasmkit-go/wasmkit"
	"github.com/wasmkit-go/wasmkit/api"
)

func newRunCmd(logger func() *logrus.Logger) *cobra.Command {
	var dirs []string
	var envs []string
	var envInherit bool

	cmd := &cobra.Command{
		Use:   "run <module.wasm> [-- args...]",
		Short: "Instantiate a wasm32-wasi binary and run its _start",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logger()
			wasmPath := args[0]
			guestArgs := args[1:]

			bin, err := os.ReadFile(wasmPath)
			if err != nil {
				return fmt.Errorf("reading %s: %w", wasmPath, err)
			}

			preopens, err := parsePreopens(dirs)
			if err != nil {
				return err
			}

			environ := envs
			if envInherit {
				environ = append(os.Environ(), envs...)
			}

			log.WithFields(logrus.Fields{
				"module": wasmPath,
				"dirs":   len(preopens),
			}).Debug("instantiating module")
			wasmkit.SetLogger(log.WithField("module", wasmPath))

			store := wasmkit.NewStore(api.DefaultFeatures)
			cfg := wasmkit.Config{
				Args:     append([]string{filepath.Base(wasmPath)}, guestArgs...),
				Environ:  environ,
				Preopens: preopens,
				Stdin:    os.Stdin,
				Stdout:   os.Stdout,
				Stderr:   os.Stderr,
			}

			exitCode, err := wasmkit.Run(context.Background(), store, bin, "", cfg)
			if err != nil {
				log.WithError(err).Error("module trapped")
				return err
			}
			if exitCode != 0 {
				os.Exit(int(exitCode))
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&dirs, "dir", nil, "preopen a host directory, host:guest (may be repeated)")
	cmd.Flags().StringArrayVar(&envs, "env", nil, "key=value pair to expose via environ_get (may be repeated)")
	cmd.Flags().BoolVar(&envInherit, "env-inherit", false, "inherit the CLI process's own environment variables")
	return cmd
}

// parsePreopens turns --dir=host:guest (or a bare path, preopened at the
// same guest path) into wasmkit.Preopen entries backed by the real OS
// filesystem.
func parsePreopens(dirs []string) ([]wasmkit.Preopen, error) {
	preopens := make([]wasmkit.Preopen, 0, len(dirs))
	for _, d := range dirs {
		hostPath, guestPath := d, d
		if idx := strings.LastIndexByte(d, ':'); idx >= 0 {
			hostPath, guestPath = d[:idx], d[idx+1:]
		}
		abs, err := filepath.Abs(hostPath)
		if err != nil {
			return nil, fmt.Errorf("invalid --dir %q: %w", d, err)
		}
		if info, err := os.Stat(abs); err != nil {
			return nil, fmt.Errorf("invalid --dir %q: %w", d, err)
		} else if !info.IsDir() {
			return nil, fmt.Errorf("invalid --dir %q: not a directory", d)
		}
		preopens = append(preopens, wasmkit.Preopen{
			GuestPath: guestPath,
			Fs:        afero.NewBasePathFs(afero.NewOsFs(), abs),
		})
	}
	return preopens, nil
}

// Command wasmkit is the CLI surface (§6.3): run a wasm32-wasi binary,
// validate one without running it, or print the build version.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

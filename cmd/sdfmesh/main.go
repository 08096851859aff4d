// Command sdfmesh trains a neural signed distance field on an analytic shape
// and extracts triangle meshes from it.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// Command speer ingests invoice evidence into a run, seals it and writes its
// exports using the local (or configured cloud) backends.
package main

import (
	"context"
	"os"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

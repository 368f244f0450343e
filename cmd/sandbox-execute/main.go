// Command sandbox-execute is the statically linked Go binary baked
// into the code-sandbox image. It is the Sandbox Runtime entrypoint
// spec §6 names as "python /app/execute.py" in the original contract
// — here it is a single Go process run via Pool.Exec against the
// scratch directory bind-mounted at HOST_TMPFS_BIND, replacing a
// system CPython interpreter with the embedded gpython one.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/arcline-labs/backdrop/internal/sandboxruntime"
)

func main() {
	os.Exit(run())
}

func run() int {
	scratchDir := os.Getenv("HOST_TMPFS_BIND")
	if scratchDir == "" {
		scratchDir = "/host_tmpfs"
	}

	ctx := context.Background()
	if deadline := os.Getenv("SANDBOX_TIMEOUT_SECONDS"); deadline != "" {
		var seconds int
		if _, err := fmt.Sscanf(deadline, "%d", &seconds); err == nil && seconds > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, time.Duration(seconds)*time.Second)
			defer cancel()
		}
	}

	return sandboxruntime.Execute(ctx, scratchDir, os.Stdout, os.Stderr)
}

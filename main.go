// grid-gateway accepts Telnet connections, decodes the protocol and
// runs a session behaviour on the clean byte stream.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Bemazed/grid-gateway/cmd"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := cmd.Execute(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "grid-gateway: %v\n", err)
		os.Exit(1)
	}
}

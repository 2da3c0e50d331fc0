// vrpterm - an SSH/Telnet terminal and session server for network devices.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"vrpterm/cmd"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := cmd.Execute(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "vrpterm: %v\n", err)
		os.Exit(1)
	}
}

// Command rewind takes, lists, compares and restores workspace checkpoints.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/randalmurphal/rewind/pkg/rewind"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps an error to the process exit status.
func exitCode(err error) int {
	if errors.Is(err, rewind.ErrInvalidArgument) {
		return 2
	}
	switch rewind.KindOf(err) {
	case rewind.KindNotFound:
		return 3
	case rewind.KindNotRepository, rewind.KindNotInitialized:
		return 4
	case rewind.KindInvalid:
		return 2
	default:
		return 1
	}
}

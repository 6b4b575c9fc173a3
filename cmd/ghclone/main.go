package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/themecloud/github-app-clone/pkg/apperror"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand().ExecuteContext(ctx)
	stop()

	if err != nil {
		reportError(os.Stderr, err)
		os.Exit(apperror.ExitCode(err))
	}
}

// reportError writes the single diagnostic line for a failed run
func reportError(w io.Writer, err error) {
	fmt.Fprintf(w, "ghclone: %s: %v\n", apperror.KindOf(err), err)
}

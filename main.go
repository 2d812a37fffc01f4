package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/rorycl/acegen/app"
)

// main is the entry point for the application. An interrupt cancels any
// generation in progress.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	application := app.New(os.Stderr)
	code := run(ctx, os.Args, os.Stdout, os.Stderr, application)
	stop()
	_ = application.Close()
	os.Exit(code)
}

// run builds and runs the CLI, returning the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer, application Applicator) int {
	cmd := BuildCLI(application, stdout, stderr)
	if err := cmd.Run(ctx, args); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintf(stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

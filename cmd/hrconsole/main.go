// Command hrconsole is the terminal front end of the HR administration console.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	console "github.com/chimerakang/hrconsole-go"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, describe(err))
		os.Exit(1)
	}
}

// describe renders err for the terminal. Console errors use their display
// message; anything else is printed as is.
func describe(err error) string {
	var ce *console.Error
	if errors.As(err, &ce) {
		return console.UserMessage(err)
	}
	return err.Error()
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	a, rest, err := newApp(ctx, args, stdin, stdout, stderr)
	if err != nil {
		return err
	}
	defer a.close()

	if len(rest) == 0 {
		a.usage()
		return errUsage
	}
	cmd, ok := commands[rest[0]]
	if !ok {
		a.usage()
		return fmt.Errorf("unknown command %q", rest[0])
	}
	return cmd.run(a.requestContext(ctx), a, rest[1:])
}

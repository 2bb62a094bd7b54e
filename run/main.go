// Package run runs the top-level task of a program with a logger configured
// from the command line and with termination signals handled
package run

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ridge/must/v2"
	"github.com/ridge/parallel"
	"github.com/ridge/pistonen/tlog"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

var fs = pflag.NewFlagSet(os.Args[0], pflag.ContinueOnError)

func init() {
	fs.ParseErrorsWhitelist.UnknownFlags = true
	fs.String("log-format", "", "Log format (json|text)")
	fs.String("log-color", "", "Colored logs (yes|no|auto)")
	fs.BoolP("verbose", "v", false, "Enable verbose (debug level) messages")
	// usage is printed by the program's own flag parsing
	fs.Usage = func() {}

	pflag.CommandLine.AddFlagSet(fs)
}

// Tool runs task with a context carrying the top-level logger. The context
// is closed when SIGINT or SIGTERM arrives.
//
// Tool does not return. It exits with code 0 if the task returns nil, with
// the code of an error implementing WithExitCode, or with code 1 for other
// errors. Deferred calls made before Tool are not run.
//
//	func main() {
//	    pflag.Parse()
//	    run.Tool(func(ctx context.Context) error {
//	        return parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
//	            spawn("service", parallel.Fail, svc.Run)
//	            return nil
//	        })
//	    })
//	}
func Tool(task func(ctx context.Context) error) {
	// os.Exit skips deferred calls, so it runs in the first defer
	var err error
	defer func() {
		var wec WithExitCode
		if errors.As(err, &wec) {
			os.Exit(wec.ExitCode())
		}
		if err != nil {
			os.Exit(1)
		}
	}()

	ctx := tlog.WithLogger(context.Background(), tlog.New(cliConfig()))
	err = parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		spawn("main", parallel.Exit, task)
		spawn("signals", parallel.Exit, handleSignals)
		return nil
	})
	if err != nil {
		tlog.Get(ctx).Error("Error", zap.Error(err))
	}
}

// Server is Tool for programs that run until terminated: a task returning
// the error of its closed context counts as success.
func Server(task func(ctx context.Context) error) {
	Tool(func(ctx context.Context) error {
		err := task(ctx)
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return nil
		}
		return err
	})
}

// WithExitCode is an optional interface that can be implemented by an error.
//
// When a (possibly wrapped) error implementing WithExitCode reaches the top
// level, the value returned by the ExitCode method becomes the exit code of
// the process.
type WithExitCode interface {
	ExitCode() int
}

func cliConfig() tlog.Config {
	if err := fs.Parse(os.Args[1:]); err != nil && !errors.Is(err, pflag.ErrHelp) {
		exitUsage(err)
	}
	format, err := tlog.ParseFormat(must.OK1(fs.GetString("log-format")))
	if err != nil {
		exitUsage(err)
	}
	color, err := tlog.ParseColor(must.OK1(fs.GetString("log-color")))
	if err != nil {
		exitUsage(err)
	}
	return tlog.Config{
		Format:  format,
		Color:   color,
		Verbose: must.OK1(fs.GetBool("verbose")),
	}
}

func exitUsage(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(2)
}

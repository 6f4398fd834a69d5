package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/felixgeelhaar/codeterm/internal/console"
	"github.com/felixgeelhaar/codeterm/internal/session"
	"github.com/spf13/cobra"
)

type runOptions struct {
	lang    string
	code    string
	noDelay bool
	noColor bool
}

func newRunCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run [file]",
		Short: "Run a program through the simulated toolchain",
		Long: `Run a Python, Java, C or C++ program through the simulated toolchain.

Source can be provided via:
  - File argument: codeterm run main.py
  - Inline flag:   codeterm run --lang python --code 'print(1)'
  - Neither:       codeterm run --lang java (runs the starter program)

The transcript is followed by a performance table when the run succeeds.
The exit status is 1 when the program failed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProgram(cmd.Context(), cmd.OutOrStdout(), opts, args)
		},
	}

	cmd.Flags().StringVarP(&opts.lang, "lang", "l", "", "Language: python, java, c, cpp (default: from file extension)")
	cmd.Flags().StringVarP(&opts.code, "code", "c", "", "Source to run")
	cmd.Flags().BoolVar(&opts.noDelay, "no-delay", false, "Skip the simulated compile latency")
	cmd.Flags().BoolVar(&opts.noColor, "no-color", false, "Disable styled output")
	return cmd
}

func runProgram(ctx context.Context, out io.Writer, opts runOptions, args []string) error {
	lang, source, err := resolveProgram(opts.lang, opts.code, args)
	if err != nil {
		return err
	}

	svc, err := newLocalService(opts.noDelay)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Shutdown(shutdownCtx)
	}()

	sess, err := svc.Create(ctx, lang)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	render := console.NewRenderer(colorEnabled(out, opts.noColor))
	outcome, err := svc.Run(ctx, sess.ID, session.RunRequest{Source: &source})
	if outcome != nil {
		fmt.Fprint(out, render.Transcript(outcome.Session.Transcript))
	}
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}

	if !outcome.Result.OK() {
		return errRunFailed
	}
	fmt.Fprintln(out)
	fmt.Fprint(out, render.Performance(outcome.Session.Perf))
	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/felixgeelhaar/codeterm/internal/config"
	"github.com/felixgeelhaar/codeterm/internal/console"
	"github.com/felixgeelhaar/codeterm/internal/runner"
	"github.com/felixgeelhaar/codeterm/internal/session"
	"github.com/spf13/cobra"
)

const debugPrompt = "(debug) "

const debugHelp = `Commands:
  step, s, next, n    Step to the next line
  break N, b N        Set a breakpoint at line N
  clear N             Remove the breakpoint at line N
  watch NAME          Watch a variable
  unwatch NAME        Stop watching a variable
  vars                Show the inspector panel
  stack               Show the call stack
  list, l             Show the source with markers
  help                Show this help
  stop, quit, exit    End the debug session
`

type debugOptions struct {
	lang    string
	code    string
	noColor bool
	history string
}

func newDebugCmd() *cobra.Command {
	var opts debugOptions

	cmd := &cobra.Command{
		Use:   "debug [file]",
		Short: "Step through a program with the mock debugger",
		Long: `Start an interactive debug session on a program.

The debugger pauses at line 1 and advances one line per step, wrapping
to the top after the last line. Variables and the call stack are
illustrative.

` + debugHelp + `
Features:
  - Command history (up/down arrows)
  - Line editing (left/right, backspace, delete)
  - History search (Ctrl+R)`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDebug(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), opts, args)
		},
	}

	cmd.Flags().StringVarP(&opts.lang, "lang", "l", "", "Language: python, java, c, cpp (default: from file extension)")
	cmd.Flags().StringVarP(&opts.code, "code", "c", "", "Source to debug")
	cmd.Flags().BoolVar(&opts.noColor, "no-color", false, "Disable styled output")
	cmd.Flags().StringVar(&opts.history, "history", "", "History file path (default: ~/.codeterm/debug_history)")
	return cmd
}

func runDebug(ctx context.Context, in io.Reader, out io.Writer, opts debugOptions, args []string) error {
	lang, source, err := resolveProgram(opts.lang, opts.code, args)
	if err != nil {
		return err
	}

	svc, err := newLocalService(true)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Shutdown(shutdownCtx)
	}()

	d, err := startDebugger(ctx, svc, lang, source, console.NewRenderer(colorEnabled(out, opts.noColor)), out)
	if err != nil {
		return err
	}

	historyFile := opts.history
	if historyFile == "" {
		if dir, err := config.CodetermDir(); err == nil {
			historyFile = filepath.Join(dir, "debug_history")
		}
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            debugPrompt,
		HistoryFile:       historyFile,
		HistoryLimit:      500,
		InterruptPrompt:   "^C",
		EOFPrompt:         "stop",
		HistorySearchFold: true,
		Stdin:             io.NopCloser(in),
		Stdout:            out,
		Stderr:            out,
	})
	if err != nil {
		return fmt.Errorf("initialize readline: %w", err)
	}
	defer rl.Close()

	fmt.Fprintln(out, "Type 'help' for commands, 'stop' or Ctrl+D to end the session.")

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			if errors.Is(err, io.EOF) {
				_, err := d.exec(ctx, "stop")
				return err
			}
			return fmt.Errorf("read input: %w", err)
		}

		done, err := d.exec(ctx, line)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// debugger drives one debug session from REPL commands
type debugger struct {
	svc     session.TerminalService
	id      string
	render  *console.Renderer
	out     io.Writer
	printed int // transcript lines already written
}

// startDebugger opens a session on source, starts the debugger and prints
// the opening transcript and listing
func startDebugger(ctx context.Context, svc session.TerminalService, lang runner.Language, source string, render *console.Renderer, out io.Writer) (*debugger, error) {
	sess, err := svc.Create(ctx, lang)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	if _, err := svc.UpdateSource(ctx, sess.ID, source); err != nil {
		return nil, fmt.Errorf("set source: %w", err)
	}
	sess, err = svc.StartDebug(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("start debugger: %w", err)
	}

	d := &debugger{svc: svc, id: sess.ID, render: render, out: out}
	d.flush(sess)
	fmt.Fprint(out, render.Source(sess.Source, sess.Debug))
	return d, nil
}

// exec runs one REPL command. It reports done once the session has ended.
// Command errors are printed; only failures to reach the session are returned.
func (d *debugger) exec(ctx context.Context, line string) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	cmd, rest := strings.ToLower(fields[0]), fields[1:]

	var (
		sess *session.Session
		err  error
	)
	switch cmd {
	case "step", "s", "next", "n":
		sess, err = d.svc.StepOver(ctx, d.id)
		if err == nil {
			d.flush(sess)
		}

	case "break", "b", "clear":
		line, perr := lineArg(rest)
		if perr != nil {
			fmt.Fprintf(d.out, "Error: %v\n", perr)
			return false, nil
		}
		if cmd == "clear" {
			sess, err = d.svc.RemoveBreakpoint(ctx, d.id, line)
			if err == nil {
				fmt.Fprintf(d.out, "Breakpoint cleared at line %d\n", line)
			}
		} else {
			sess, err = d.svc.AddBreakpoint(ctx, d.id, line)
			if err == nil {
				fmt.Fprintf(d.out, "Breakpoint set at line %d\n", line)
			}
		}

	case "watch", "unwatch":
		if len(rest) != 1 {
			fmt.Fprintf(d.out, "Error: usage: %s NAME\n", cmd)
			return false, nil
		}
		if cmd == "watch" {
			sess, err = d.svc.AddWatch(ctx, d.id, rest[0])
		} else {
			sess, err = d.svc.RemoveWatch(ctx, d.id, rest[0])
		}
		if err == nil {
			printWatch(d.out, sess.Debug, rest[0])
		}

	case "vars", "stack", "list", "l":
		sess, err = d.svc.Get(ctx, d.id)
		if err == nil {
			switch cmd {
			case "vars":
				fmt.Fprint(d.out, d.render.Inspector(sess.Debug))
			case "stack":
				for i, frame := range sess.Debug.CallStack {
					fmt.Fprintf(d.out, "#%d %s\n", i, frame)
				}
			default:
				fmt.Fprint(d.out, d.render.Source(sess.Source, sess.Debug))
			}
		}

	case "help", "h", "?":
		fmt.Fprint(d.out, debugHelp)
		return false, nil

	case "stop", "quit", "exit", "q":
		sess, err = d.svc.StopDebug(ctx, d.id)
		if err != nil {
			return true, fmt.Errorf("stop debugger: %w", err)
		}
		d.flush(sess)
		return true, nil

	default:
		fmt.Fprintf(d.out, "Unknown command %q (type 'help')\n", fields[0])
		return false, nil
	}

	if errors.Is(err, session.ErrSessionNotFound) {
		return true, err
	}
	if err != nil {
		fmt.Fprintf(d.out, "Error: %v\n", err)
	}
	return false, nil
}

// flush writes transcript lines added since the last call
func (d *debugger) flush(sess *session.Session) {
	if d.printed > len(sess.Transcript) {
		d.printed = 0
	}
	fmt.Fprint(d.out, d.render.Transcript(sess.Transcript[d.printed:]))
	d.printed = len(sess.Transcript)
}

func printWatch(out io.Writer, dbg session.DebugSession, name string) {
	for _, w := range dbg.WatchValues() {
		if w.Name == name {
			fmt.Fprintf(out, "%s = %s\n", w.Name, w.Value)
			return
		}
	}
	fmt.Fprintf(out, "No longer watching %s\n", name)
}

func lineArg(args []string) (int, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("expected a line number")
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("invalid line number %q", args[0])
	}
	return n, nil
}

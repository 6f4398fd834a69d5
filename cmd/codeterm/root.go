package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/felixgeelhaar/codeterm/internal/config"
	"github.com/felixgeelhaar/codeterm/internal/daemon"
	"github.com/felixgeelhaar/codeterm/internal/runner"
	"github.com/felixgeelhaar/codeterm/internal/session"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

// errRunFailed is returned when the simulated program failed, so the process
// exits with status 1 after the transcript has been printed
var errRunFailed = errors.New("program failed")

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "codeterm",
		Short: "Simulated code terminal for Python, Java, C and C++",
		Long: `codeterm - a simulated code terminal for learning.

Programs are never compiled or executed. Output is predicted from the
common shapes of beginner programs and presented as a compiler run with
fabricated performance figures. A mock step debugger walks the source
line by line.

Examples:
  codeterm template python          # Print the Python starter program
  codeterm run main.py              # Simulate a run of main.py
  codeterm run --lang c --no-delay  # Run the C template immediately
  codeterm debug Main.java          # Step through Main.java
  codeterm start                    # Start the codetermd daemon
  codeterm mcp                      # Serve MCP on stdio`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(
		newTemplateCmd(),
		newRunCmd(),
		newDebugCmd(),
		newMCPCmd(),
		newStartCmd(),
		newStopCmd(),
		newStatusCmd(),
		newLogsCmd(),
		newEventsCmd(),
		newVersionCmd(),
	)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "codeterm %s\n", Version)
		},
	}
}

func newTemplateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "template <language>",
		Short: "Print the starter program for a language",
		Long: `Print the starter program for python, java, c or cpp.

The language is matched case-insensitively.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lang, err := runner.ParseLanguage(args[0])
			if err != nil {
				return err
			}
			tmpl, err := runner.Template(lang)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), tmpl)
			if !strings.HasSuffix(tmpl, "\n") {
				fmt.Fprintln(cmd.OutOrStdout())
			}
			return nil
		},
	}
}

// resolveProgram picks the language and source for run and debug. A file
// argument wins over --code; with neither, the language template is used.
func resolveProgram(langFlag, code string, args []string) (runner.Language, string, error) {
	var (
		source   string
		filename string
	)
	switch {
	case len(args) > 0:
		filename = args[0]
		data, err := os.ReadFile(filename)
		if err != nil {
			return "", "", fmt.Errorf("read %s: %w", filename, err)
		}
		source = string(data)
	case code != "":
		source = code
	}

	var (
		lang runner.Language
		err  error
	)
	switch {
	case langFlag != "":
		lang, err = runner.ParseLanguage(langFlag)
	case filename != "":
		lang, err = runner.LanguageFromFilename(filename)
	default:
		return "", "", fmt.Errorf("language required: use --lang python, java, c or cpp")
	}
	if err != nil {
		return "", "", err
	}

	if source == "" {
		source, err = runner.Template(lang)
		if err != nil {
			return "", "", err
		}
	}
	return lang, source, nil
}

// newLocalService builds an in-process session service from the user's
// configuration
func newLocalService(noDelay bool) (*session.Service, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	scfg := daemon.SessionConfig(cfg.Terminal)
	if noDelay {
		scfg.DelayMin = 0
		scfg.DelayMax = 0
	}
	engine := runner.NewEngine(runner.EngineConfig{
		MaxIterations:  cfg.Terminal.MaxIterations,
		MaxOutputBytes: cfg.Terminal.MaxOutputBytes,
	})
	return session.NewService(scfg, session.WithExecutor(engine)), nil
}

// colorEnabled reports whether styled output should be written to w
func colorEnabled(w io.Writer, noColor bool) bool {
	if noColor || os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd())
}

package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime/pprof"
	"strings"

	tea "github.com/charmbracelet/bubbletea/v2"
	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/log"
	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"lifter/internal/cfg"
	lifterlog "lifter/internal/lifter/log"
	"lifter/internal/logging"
	"lifter/internal/report"
)

func init() {
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Debug")
	rootCmd.PersistentFlags().String("config", "", "JSON config file (see 'lifter schema')")
	rootCmd.PersistentFlags().String("arch", "", "Architecture (arm64, amd64); detected from ELF headers when empty")
	rootCmd.PersistentFlags().Int("max-blocks", 0, "Abort once the graph grows past this many blocks (0 = unlimited)")
	rootCmd.PersistentFlags().Bool("no-resolve", false, "Do not trace register jump targets")
	rootCmd.PersistentFlags().StringSlice("passes", nil, "Optimizer passes in order (constprop, branches)")
	rootCmd.PersistentFlags().String("theme", "", "Summary theme (charm, dark)")
	rootCmd.PersistentFlags().BoolP("no-tui", "n", false, "Show summary without TUI")
	rootCmd.PersistentFlags().BoolP("full", "f", false, "Show the full block listing (implies --no-tui)")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "Output the graph as JSON")
	rootCmd.PersistentFlags().Bool("dot", false, "Output the graph in Graphviz DOT format")
	rootCmd.PersistentFlags().String("cpuprofile", "", "Write CPU profile to file")
	rootCmd.PersistentFlags().String("memprofile", "", "Write memory profile to file")

	rootCmd.Flags().BoolP("help", "h", false, "Help")
	rootCmd.Flags().StringP("entry", "e", "", "Entry address (default: ELF entry point)")
	rootCmd.Flags().StringP("symbol", "s", "", "Start at the function with this name")
	rootCmd.MarkFlagsMutuallyExclusive("entry", "symbol")
}

var rootCmd = &cobra.Command{
	Use:   "lifter [file]",
	Short: "Recover control-flow graphs from machine code",
	Long: `Lifter explores machine code by recursive descent from an entry point and
recovers its control-flow graph: basic blocks, the edges between them, and
destinations it could not resolve.`,
	Example: `
# Browse the graph of an ELF entry point interactively
lifter /path/to/binary

# Start at a function and print the full listing
lifter --symbol main --full /path/to/binary

# Emit JSON for a raw arm64 blob mapped at 0x80000
lifter raw --arch arm64 --base 0x80000 --json firmware.bin
  `,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		debug, _ := cmd.Flags().GetBool("debug")
		lifterlog.Setup(os.Getenv("LIFTER_SLOG_FILE"), debug)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		stop, err := startProfiling(cmd)
		if err != nil {
			return err
		}
		defer stop()

		c, err := resolveConfig(cmd)
		if err != nil {
			return err
		}
		entry, _ := cmd.Flags().GetString("entry")
		symbol, _ := cmd.Flags().GetString("symbol")

		s, err := openELF(args[0], c, entry, symbol)
		if err != nil {
			return err
		}
		defer s.Close()
		return run(cmd, s, c)
	},
}

type outputMode int

const (
	outputTUI outputMode = iota
	outputSummary
	outputJSON
	outputDot
)

func selectOutput(cmd *cobra.Command) (mode outputMode, full bool) {
	noTUI, _ := cmd.Flags().GetBool("no-tui")
	full, _ = cmd.Flags().GetBool("full")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	dotOutput, _ := cmd.Flags().GetBool("dot")

	switch {
	case jsonOutput:
		return outputJSON, full
	case dotOutput:
		return outputDot, full
	case noTUI || full || !isTerminal(cmd.OutOrStdout()):
		return outputSummary, full
	}
	return outputTUI, full
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(f.Fd())
}

// newLogger returns the explorer logger. In the TUI, logs would tear the
// screen, so they are dropped unless they go to a file.
func newLogger(c Config, tui bool) *logging.LoggerCloser {
	var lg *logging.LoggerCloser
	if tui && os.Getenv("LIFTER_LOG_TO_FILE") != "1" {
		lg = logging.NewLoggerWithWriter(io.Discard)
	} else {
		lg = logging.NewLogger()
	}
	if c.Debug {
		lg.SetLevel(log.DebugLevel)
	}
	return lg
}

func run(cmd *cobra.Command, s *session, c Config) error {
	mode, full := selectOutput(cmd)
	out := cmd.OutOrStdout()
	if !isTerminal(out) {
		os.Setenv("LIFTER_NO_COLOR", "1")
	}

	logger := newLogger(c, mode == outputTUI)
	defer logger.Close()

	if mode == outputTUI {
		program := tea.NewProgram(
			newModel(s, c, logger.Logger),
			tea.WithAltScreen(),
			tea.WithContext(cmd.Context()),
		)
		if _, err := program.Run(); err != nil {
			slog.Error("TUI run error", "error", err)
			return fmt.Errorf("TUI error: %w", err)
		}
		return nil
	}

	g, stats, err := explore(s, c, logger.Logger)
	if err != nil {
		return err
	}
	r := report.Build(g, s.reportOptions(stats, full))

	switch mode {
	case outputJSON:
		bts, err := r.JSON()
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(bts))
	case outputDot:
		fmt.Fprint(out, g.ToDot())
	default:
		return runNoTUI(out, g, r, s, c, full)
	}
	return nil
}

// runNoTUI prints the summary, rendered when writing to a terminal, and
// with --full the listing of every block.
func runNoTUI(out io.Writer, g *cfg.Graph, r report.Report, s *session, c Config, full bool) error {
	if isTerminal(out) {
		width := 80
		if f, ok := out.(*os.File); ok {
			if w, _, err := term.GetSize(f.Fd()); err == nil && w > 0 {
				width = w
			}
		}
		rendered, err := report.Render(r, width-2, c.Theme)
		if err != nil {
			return err
		}
		fmt.Fprint(out, rendered)
	} else {
		fmt.Fprintln(out, strings.TrimSpace(report.Markdown(r)))
	}

	if full {
		fmt.Fprintln(out)
		fmt.Fprint(out, report.Listing(g, s.listingOptions()))
	}
	return nil
}

func startProfiling(cmd *cobra.Command) (func(), error) {
	var stops []func()
	stop := func() {
		for i := len(stops) - 1; i >= 0; i-- {
			stops[i]()
		}
	}

	cpuprofile, _ := cmd.Flags().GetString("cpuprofile")
	if cpuprofile != "" {
		f, err := os.Create(cpuprofile)
		if err != nil {
			return stop, fmt.Errorf("could not create CPU profile: %w", err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			f.Close()
			return stop, fmt.Errorf("could not start CPU profile: %w", err)
		}
		stops = append(stops, func() {
			pprof.StopCPUProfile()
			f.Close()
		})
	}

	memprofile, _ := cmd.Flags().GetString("memprofile")
	if memprofile != "" {
		stops = append(stops, func() {
			f, err := os.Create(memprofile)
			if err != nil {
				fmt.Fprintf(os.Stderr, "could not create memory profile: %v\n", err)
				return
			}
			defer f.Close()
			if err := pprof.WriteHeapProfile(f); err != nil {
				fmt.Fprintf(os.Stderr, "could not write memory profile: %v\n", err)
			}
		})
	}
	return stop, nil
}

// plainOutput reports whether the arguments ask for machine or plain text
// output, which fang's styled rendering would get in the way of.
func plainOutput(args []string) bool {
	for _, arg := range args {
		switch arg {
		case "--no-tui", "-n", "--full", "-f", "--json", "-j", "--dot":
			return true
		}
	}
	return false
}

func Execute() {
	if plainOutput(os.Args[1:]) || !term.IsTerminal(os.Stdout.Fd()) {
		if err := rootCmd.Execute(); err != nil {
			os.Exit(1)
		}
		return
	}

	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		os.Exit(1)
	}
}

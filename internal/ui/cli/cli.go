package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"repoaudit/internal/core/config"
	"repoaudit/internal/shared/version"
)

const (
	exitOK       = 0
	exitError    = 1
	exitUsage    = 2
	exitFindings = 3
)

type cliOptions struct {
	configPath   string
	root         string
	format       string
	output       string
	failOn       string
	verbosity    string
	includeTests bool
	noLLM        bool
	noCache      bool
	verbose      bool
}

// Run executes the command line and returns the process exit code.
func Run(args []string) int {
	return run(args, os.Stdout, os.Stderr, coreAppFactory{})
}

func run(args []string, stdout, stderr io.Writer, factory appFactory) int {
	rt := &runtime{stdout: stdout, stderr: stderr, factory: factory, exitCode: exitOK}
	root := newRootCmd(rt)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		if rt.exitCode == exitOK {
			return exitUsage
		}
	}
	return rt.exitCode
}

func newRootCmd(rt *runtime) *cobra.Command {
	root := &cobra.Command{
		Use:                   "repoaudit [command]",
		SilenceUsage:          true,
		SilenceErrors:         true,
		DisableFlagsInUseLine: true,
		Short:                 "repoaudit audits a source repository for security vulnerabilities.",
		Long: `repoaudit chunks a repository, maps every chunk to security signals, routes
the signals to vulnerability rules and verifies them with a language model,
static analysis and secret detection. Results are ranked findings.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			configureLogging(rt.stderr, rt.opts.verbose)
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true

	flags := root.PersistentFlags()
	flags.StringVar(&rt.opts.configPath, "config", "", "Path to config file (default ./"+config.DefaultFile+" when present)")
	flags.StringVar(&rt.opts.root, "root", "", "Repository root to scan (overrides scan.root)")
	flags.BoolVar(&rt.opts.includeTests, "include-tests", false, "Include test files in the scan")
	flags.BoolVar(&rt.opts.noLLM, "no-llm", false, "Disable model calls; route chunks from detector signals only")
	flags.BoolVar(&rt.opts.noCache, "no-cache", false, "Do not read or write the result cache")
	flags.BoolVar(&rt.opts.verbose, "verbose", false, "Enable verbose logging")

	root.AddCommand(newScanCmd(rt), newWatchCmd(rt), newRulesCmd(rt), newVersionCmd(rt))
	return root
}

func addReportFlags(cmd *cobra.Command, rt *runtime) {
	cmd.Flags().StringVarP(&rt.opts.format, "format", "f", "", "Report format: text, json, sarif, markdown, tsv (overrides output.format)")
	cmd.Flags().StringVarP(&rt.opts.output, "output", "o", "", "Write the report to this path instead of stdout (overrides output.path)")
	cmd.Flags().StringVar(&rt.opts.verbosity, "verbosity", "standard", "Markdown report verbosity: summary, standard, detailed")
}

func newScanCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan [path]",
		Short: "Scan a repository once and print the report",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				rt.opts.root = args[0]
			}
			return rt.scan(cmd.Context())
		},
	}
	addReportFlags(cmd, rt)
	cmd.Flags().StringVar(&rt.opts.failOn, "fail-on", "", "Exit with code 3 when a finding at or above this severity is reported")
	return cmd
}

func newWatchCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [path]",
		Short: "Scan, then rescan whenever files change",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				rt.opts.root = args[0]
			}
			return rt.watch(cmd.Context())
		},
	}
	addReportFlags(cmd, rt)
	return cmd
}

func newRulesCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "rules",
		Short: "List the rule catalog, including configured rule packs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.listRules()
		},
	}
}

func newVersionCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:                   "version",
		SilenceUsage:          true,
		DisableFlagsInUseLine: true,
		Short:                 "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(rt.stdout, "repoaudit %s\n", version.Version)
		},
	}
}

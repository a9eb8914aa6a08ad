package cli

import (
	"flag"
	"fmt"
	"io"
	"strings"
)

const versionString = "1.0.0"
const defaultConfigPath = "packt.toml"

type cliOptions struct {
	configPath  string
	watch       bool
	history     int
	historyJSON bool
	explain     string
	impact      string
	variant     string
	verbose     bool
	version     bool
	args        []string
}

func parseOptions(args []string, stderr io.Writer) (cliOptions, error) {
	var opts cliOptions
	fs := flag.NewFlagSet("packt", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&opts.configPath, "config", defaultConfigPath, "Path to config file (TOML or YAML)")
	fs.BoolVar(&opts.watch, "watch", false, "Rebuild on source changes until interrupted")
	fs.IntVar(&opts.history, "history", 0, "Print the last N builds from history and exit")
	fs.BoolVar(&opts.historyJSON, "history-json", false, "Print history as JSON instead of TSV")
	fs.StringVar(&opts.explain, "explain", "", "Build, then print the import chains that include this file")
	fs.StringVar(&opts.impact, "impact", "", "Build, then print the modules that import this file")
	fs.StringVar(&opts.variant, "variant", "", "Variant for --explain or --impact (defaults to the first configured variant)")
	fs.BoolVar(&opts.verbose, "verbose", false, "Enable verbose logging")
	fs.BoolVar(&opts.version, "version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, err
	}
	opts.args = fs.Args()
	return opts, validateOptions(opts)
}

func validateOptions(opts cliOptions) error {
	if len(opts.args) > 0 {
		return fmt.Errorf("unexpected arguments: %s", strings.Join(opts.args, " "))
	}
	if opts.history < 0 {
		return fmt.Errorf("--history must not be negative")
	}
	modes := 0
	for _, on := range []bool{opts.watch, opts.history > 0, opts.explain != "", opts.impact != ""} {
		if on {
			modes++
		}
	}
	if modes > 1 {
		return fmt.Errorf("--watch, --history, --explain and --impact cannot be combined")
	}
	if opts.historyJSON && opts.history == 0 {
		return fmt.Errorf("--history-json requires --history")
	}
	if opts.variant != "" && opts.explain == "" && opts.impact == "" {
		return fmt.Errorf("--variant requires --explain or --impact")
	}
	return nil
}

// Command espcfg bulk-configures a fleet of embedded devices through their
// HTTP configuration UI.
//
//	espcfg config [-d] [-f] [-p] [-host H] [-q|-v] <source>
//	espcfg discover [-t seconds] [-prescan] [-q|-v] <iprange>
//
// config reads a spreadsheet-shaped table (CSV file or HTML page), decodes
// the configuration islands in it and applies them to the listed units.
// discover sweeps a /24 for live devices and persists the name→address
// table that config resolves logical unit names through.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"espcfg/internal/browser"
	"espcfg/internal/config"
	"espcfg/internal/discovery"
	"espcfg/internal/engine"
	"espcfg/internal/island"
	"espcfg/internal/store"
	"espcfg/internal/table"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	switch os.Args[1] {
	case "config":
		runConfig(os.Args[2:])
	case "discover":
		runDiscover(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  espcfg config [-d] [-f] [-p] [-host H] [-q|-v] <csv file | table URL>")
	fmt.Fprintln(os.Stderr, "  espcfg discover [-t seconds] [-prescan] [-q|-v] <iprange>")
}

func runConfig(args []string) {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	quiet := fs.Bool("q", false, "only log errors")
	verbose := fs.Bool("v", false, "log debug detail")
	dryRun := fs.Bool("d", false, "make no changes")
	failFast := fs.Bool("f", false, "fail/exit on first failure, otherwise move on to the next unit")
	precheck := fs.Bool("p", false, "connect all mentioned units before updating")
	host := fs.String("host", "", "process only the given host")
	fs.Parse(args)

	if fs.NArg() != 1 {
		usage()
		os.Exit(2)
	}
	source := fs.Arg(0)

	cfg, cfgPath, err := config.Load()
	if err != nil {
		fatal("load config: %v", err)
	}
	logger := setupLogging(cfg.LogDir, "config.log", level(*quiet, *verbose))
	if cfgPath != "" {
		logger.Debug("config loaded", "path", cfgPath)
	}

	grid, err := readGrid(source, cfg)
	if err != nil {
		fatal("%v", err)
	}
	logger.Info("loaded table", "rows", len(grid), "columns", maxColumns(grid))

	islands, err := island.Decode(grid)
	if err != nil {
		fatal("%v", err)
	}
	logger.Info("loaded islands", "count", len(islands))

	aliases := loadAliases(cfg, logger)

	if *dryRun {
		logger.Info("-----------------------------")
		logger.Info("-- DRY RUN ------------------")
		logger.Info("-----------------------------")
	}

	proc := engine.New(engine.Options{
		DryRun:   *dryRun,
		FailFast: *failFast,
		Aliases:  aliases,
		Host:     *host,
	}, logger)
	proc.SetSessionFactory(func() browser.Session {
		return browser.New(newHTTPClient(cfg))
	})

	if *precheck {
		if err := proc.Precheck(islands); err != nil {
			fatal("%v", err)
		}
	}
	if err := proc.Apply(islands); err != nil {
		fatal("%v", err)
	}
}

func runDiscover(args []string) {
	fs := flag.NewFlagSet("discover", flag.ExitOnError)
	quiet := fs.Bool("q", false, "only log errors")
	verbose := fs.Bool("v", false, "log debug detail")
	timeout := fs.Int("t", 1, "probe timeout in seconds")
	prescan := fs.Bool("prescan", false, "narrow the sweep with an nmap port scan first")
	fs.Parse(args)

	if fs.NArg() != 1 {
		usage()
		os.Exit(2)
	}
	// An address like 192.168.0.1; the whole 192.168.0.0/24 is swept.
	ipRange := fs.Arg(0)

	cfg, _, err := config.Load()
	if err != nil {
		fatal("load config: %v", err)
	}
	logger := setupLogging(cfg.LogDir, "discover.log", level(*quiet, *verbose))

	st, err := store.Open(cfg.Database.Path, cfg.VarDir)
	if err != nil {
		fatal("%v", err)
	}
	defer st.Close()

	probeTimeout := time.Duration(*timeout) * time.Second
	disc := discovery.New(discovery.Options{
		Timeout:       probeTimeout,
		MaxConcurrent: cfg.Probe.MaxConcurrent,
	}, st, logger)

	ctx := context.Background()
	var units map[string]discovery.Doc
	if *prescan || cfg.Probe.Prescan {
		addrs, err := discovery.Prescan(ctx, ipRange, probeTimeout, logger)
		if err != nil {
			fatal("%v", err)
		}
		units = disc.DiscoverAddrs(ctx, addrs)
	} else {
		units, err = disc.Discover(ctx, ipRange)
		if err != nil {
			fatal("%v", err)
		}
	}

	names := make([]string, 0, len(units))
	for name := range units {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		logger.Info("unit", "name", name, "address", units[name].Address())
	}

	if err := st.ExportUnitsFile(cfg.UnitsFile()); err != nil {
		fatal("%v", err)
	}
}

// readGrid dispatches on the source argument: an http(s) URL is fetched as
// an HTML table, a .csv path is read as a delimited file.
func readGrid(source string, cfg *config.Config) ([][]string, error) {
	lower := strings.ToLower(source)
	switch {
	case strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://"):
		return table.WebSource{URL: source, Client: newHTTPClient(cfg)}.Read()
	case strings.HasSuffix(lower, ".csv"):
		return table.CSVSource{Path: source}.Read()
	}
	return nil, fmt.Errorf("source %q is neither a URL nor a .csv file", source)
}

// loadAliases reads the name→address table: the unit database when present,
// overlaid on the units.json exchange file.
func loadAliases(cfg *config.Config, logger *slog.Logger) map[string]string {
	aliases, err := store.ReadUnitsFile(cfg.UnitsFile())
	if err != nil {
		logger.Error("read units file", "error", err)
		aliases = map[string]string{}
	}

	if _, err := os.Stat(cfg.Database.Path); err == nil {
		st, err := store.Open(cfg.Database.Path, "")
		if err != nil {
			logger.Error("open unit database", "error", err)
			return aliases
		}
		defer st.Close()
		fromDB, err := st.Aliases()
		if err != nil {
			logger.Error("load aliases", "error", err)
			return aliases
		}
		for name, addr := range fromDB {
			aliases[name] = addr
		}
	}

	logger.Debug("aliases loaded", "count", len(aliases))
	return aliases
}

func newHTTPClient(cfg *config.Config) *http.Client {
	jar, _ := cookiejar.New(nil)
	return &http.Client{Jar: jar, Timeout: cfg.HTTP.Timeout.Duration()}
}

// setupLogging builds a logger that tees to stdout and a per-command log
// file. A broken log file degrades to stdout only.
func setupLogging(dir, name string, lvl slog.Level) *slog.Logger {
	var w io.Writer = os.Stdout
	if err := os.MkdirAll(dir, 0o755); err == nil {
		path := filepath.Join(dir, name)
		if f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err == nil {
			w = io.MultiWriter(os.Stdout, f)
		}
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

func level(quiet, verbose bool) slog.Level {
	switch {
	case quiet:
		return slog.LevelError
	case verbose:
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

func maxColumns(grid [][]string) int {
	max := 0
	for _, row := range grid {
		if len(row) > max {
			max = len(row)
		}
	}
	return max
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

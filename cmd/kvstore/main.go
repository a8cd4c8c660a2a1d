// Package main is the kvstore command line tool.
//
// kvstore runs one command against a JSON key-value store and exits, or
// reads commands from stdin when none is given. Settings come from a YAML
// configuration file, created with defaults when missing, and CLI flags.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/maruel/kvstore/internal/config"
	"github.com/maruel/kvstore/internal/history"
	"github.com/maruel/kvstore/internal/jsonkv"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "kvstore: %v\n", err)
		os.Exit(1)
	}
}

func mainImpl() error {
	version := flag.Bool("version", false, "Print version and exit")
	cfgPath := flag.String("config", "kvstore.yaml", "Configuration file, created with defaults when missing")
	dataFile := flag.String("data", "", "Data file, overrides data_file from the configuration")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error), overrides log_level from the configuration")
	flag.Usage = func() {
		out := flag.CommandLine.Output()
		_, _ = fmt.Fprintf(out, "usage: kvstore [flags] [command [args]]\n\nWithout a command, commands are read from stdin.\n\nFlags:\n")
		flag.PrintDefaults()
		_, _ = fmt.Fprintf(out, "\nCommands:\n")
		_ = cmdHelp(context.Background(), &cli{out: out}, nil)
	}
	flag.Parse()

	if *version {
		printVersion()
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()
	ll := &slog.LevelVar{}
	ll.Set(slog.LevelInfo)
	logger := slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:       ll,
		TimeFormat:  "15:04:05.000", // Like time.TimeOnly plus milliseconds.
		NoColor:     !isatty.IsTerminal(os.Stderr.Fd()),
		ReplaceAttr: dropZero,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	lvl, err := cfg.Level()
	if err != nil {
		return err
	}
	ll.Set(lvl)

	opts := cfg.Options()
	if *dataFile != "" {
		// Flag paths are relative to the working directory, not the config.
		opts.Path = *dataFile
	}
	if opts.Path, err = filepath.Abs(opts.Path); err != nil {
		return err
	}
	opts.Logger = logger
	var hist *history.Repo
	if cfg.History {
		if hist, err = history.Open(filepath.Dir(opts.Path), "kvstore", "kvstore@localhost"); err != nil {
			return err
		}
		opts.History = hist
	}
	start := time.Now()
	st, err := jsonkv.Open(opts)
	if err != nil {
		return err
	}
	slog.Debug("opened", "path", st.Path(), "entries", st.Len(), "indexes", len(st.ListIndexes()), "dur", time.Since(start))

	c := &cli{st: st, hist: hist, out: os.Stdout}
	if flag.NArg() == 0 {
		return c.shell(ctx, os.Stdin, isatty.IsTerminal(os.Stdin.Fd()))
	}
	return c.run(ctx, flag.Args())
}

// dropZero removes attributes holding a zero value.
func dropZero(_ []string, a slog.Attr) slog.Attr {
	skip := false
	switch t := a.Value.Any().(type) {
	case string:
		skip = t == ""
	case bool:
		skip = !t
	case uint64:
		skip = t == 0
	case int64:
		skip = t == 0
	case float64:
		skip = t == 0
	case time.Time:
		skip = t.IsZero()
	case time.Duration:
		skip = t == 0
	case nil:
		skip = true
	}
	if skip {
		return slog.Attr{}
	}
	return a
}

func printVersion() {
	version, goVersion, revision, dirty := getBuildInfo()
	fmt.Printf("kvstore %s\n", version)
	fmt.Printf("  Go version: %s\n", goVersion)
	fmt.Printf("  Revision:   %s\n", revision)
	if dirty {
		fmt.Printf("  Modified:   true\n")
	}
}

func getBuildInfo() (version, goVersion, revision string, dirty bool) {
	version = "unknown"
	goVersion = "unknown"
	revision = "unknown"
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	version = info.Main.Version
	if version == "" || version == "(devel)" {
		version = "dev"
	}
	goVersion = info.GoVersion
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}
	return
}

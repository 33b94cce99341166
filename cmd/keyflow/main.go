// Package main is a terminal host for the keyflow input pipeline. It
// drives the controller with the built-in demo engine so the pipeline,
// chord typing and view reconstruction can be exercised interactively.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gdamore/tcell/v2"

	"github.com/dshills/keyflow/internal/app"
	"github.com/dshills/keyflow/internal/engine"
	"github.com/dshills/keyflow/internal/engine/demo"
	"github.com/dshills/keyflow/internal/input/key"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

type options struct {
	configPath string
	logLevel   string
	watch      bool
}

func main() {
	os.Exit(run())
}

func run() int {
	opts := parseFlags()

	logFile, err := os.OpenFile("keyflow.log", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to open log file: %v\n", err)
		return 1
	}
	defer logFile.Close()
	logger := app.NewLogger(app.ParseLogLevel(opts.logLevel), logFile)

	term, err := newTerminal()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to create terminal: %v\n", err)
		return 1
	}
	defer term.close()

	controller, err := app.New(app.Options{
		ProfilePath: opts.configPath,
		Factory: func() (engine.Session, error) {
			return demo.New(nil), nil
		},
		Publisher: term,
		Inserter:  term,
		Logger:    logger,
		Watch:     opts.watch,
	})
	if err != nil {
		term.close()
		fmt.Fprintf(os.Stderr, "Error: failed to initialize: %v\n", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = controller.Shutdown(ctx)
	}()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signals
		term.screen.PostEventWait(tcell.NewEventInterrupt(nil))
	}()

	term.setSchema(controller.SchemaName())
	term.setStatus("type pinyin; Space commits, 1-9 selects, Ctrl+Q quits")
	loop(term, controller)
	return 0
}

// loop is the UI event loop. All screen access happens here; the
// pipeline posts its results in as events.
func loop(term *terminal, controller *app.Controller) {
	for {
		ev := term.screen.PollEvent()
		if ev == nil {
			return
		}
		if term.apply(ev) {
			continue
		}

		switch e := ev.(type) {
		case *tcell.EventKey:
			if e.Key() == tcell.KeyCtrlQ {
				return
			}
			kev, ok := key.FromTerminal(e)
			if !ok {
				continue
			}
			if !controller.HandleKey(kev) {
				// Host-native path for keys the pipeline cannot take.
				if kev.Code.IsPrintableASCII() {
					term.committed.WriteRune(rune(kev.Code))
					term.render()
				}
				continue
			}
			term.setSchema(controller.SchemaName())
			stats := controller.Stats()
			term.setStatus(fmt.Sprintf(
				"dispatched %d  dropped %d  stale %d  commits %d  fallbacks %d",
				stats.Dispatched, stats.Dropped, stats.Stale, stats.Commits, stats.Fallbacks))

		case *tcell.EventResize:
			term.screen.Sync()
			term.render()

		case *tcell.EventInterrupt:
			return
		}
	}
}

func parseFlags() options {
	var opts options
	var showVersion bool
	var showHelp bool

	flag.StringVar(&opts.configPath, "config", "", "Path to profile file")
	flag.StringVar(&opts.configPath, "c", "", "Path to profile file (shorthand)")
	flag.StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.BoolVar(&opts.watch, "watch", true, "Reload the profile file on change")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showVersion, "v", false, "Show version information (shorthand)")
	flag.BoolVar(&showHelp, "help", false, "Show help message")
	flag.BoolVar(&showHelp, "h", false, "Show help message (shorthand)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Keyflow - input method pipeline terminal host\n\n")
		fmt.Fprintf(os.Stderr, "Usage: keyflow [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  keyflow                     Run with the default profile\n")
		fmt.Fprintf(os.Stderr, "  keyflow -c profile.toml     Run with a profile file\n")
	}

	flag.Parse()

	if showHelp {
		flag.Usage()
		os.Exit(0)
	}

	if showVersion {
		fmt.Printf("Keyflow %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", date)
		os.Exit(0)
	}

	switch opts.logLevel {
	case "debug", "info", "warn", "error":
		// Valid
	default:
		fmt.Fprintf(os.Stderr, "Error: invalid log level %q (must be debug, info, warn, or error)\n", opts.logLevel)
		os.Exit(1)
	}

	return opts
}

// Command reflec is the MMS-over-HTTP streaming reflector: it opens a
// single upstream MMS-HTTP session to an origin media server and fans
// the live stream back out to any number of downstream players.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kotareflec/reflec/internal/downstream"
	"github.com/kotareflec/reflec/internal/events"
	"github.com/kotareflec/reflec/internal/reflecconfig"
	"github.com/kotareflec/reflec/internal/ring"
	"github.com/kotareflec/reflec/internal/supervisor"
	"github.com/kotareflec/reflec/internal/upstream"
)

var (
	flagConfig    string
	flagBindings  string
	flagClientMax int
	flagBufSize   int
	flagTimeout   int
	flagRetry     int
	flagQuiet     bool
	flagVerbose   bool
	flagLogDir    string
	flagLogFile   string
)

func main() {
	root := &cobra.Command{
		Use:   "reflec [host port [path] | host:port | url]",
		Short: "Reflect a single upstream MMS-over-HTTP stream to many downstream players",
		Args:  cobra.MaximumNArgs(3),
		RunE:  run,
	}

	root.Flags().StringVar(&flagConfig, "config", "", "path to an INI config file")
	root.Flags().StringVar(&flagBindings, "bindings", "", "downstream listen address(es), e.g. \":8080\"")
	root.Flags().IntVar(&flagClientMax, "client-max", 0, "max concurrent downstream clients (0 = use config/default)")
	root.Flags().IntVar(&flagBufSize, "buffer-size", 0, "ring buffer capacity in packets (0 = use config/default)")
	root.Flags().IntVar(&flagTimeout, "timeout", 0, "upstream socket timeout in seconds (0 = use config/default)")
	root.Flags().IntVar(&flagRetry, "retry", -1, "upstream retry count (-1 = use config/default)")
	root.Flags().BoolVar(&flagQuiet, "quiet", false, "suppress informational logging")
	root.Flags().BoolVar(&flagVerbose, "verbose", false, "set the logging level to debug (log output is not filtered by level)")
	root.Flags().StringVar(&flagLogDir, "logdir", "", "directory for log files (default: config)")
	root.Flags().StringVar(&flagLogFile, "logfile", "", "log file name pattern (default: config)")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	opts := reflecconfig.Default()
	if err := reflecconfig.LoadINI(flagConfig, &opts); err != nil {
		return err
	}
	if err := reflecconfig.ApplyPositional(args, &opts.Client); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	applyFlags(&opts)

	logger, closeLog := buildLogger(opts)
	defer closeLog()

	bus := events.New(logger)
	r := ring.New(opts.Client.BufSize)

	peer := upstream.Peer{Host: opts.Client.Host, Port: opts.Client.Port, Path: opts.Client.Path}
	client := upstream.New(
		peer,
		time.Duration(opts.Client.Timeout)*time.Second,
		opts.Client.Retry,
		time.Duration(opts.Client.RetrySec)*time.Second,
		bus, r, logger,
	)

	source := &downstream.Source{Client: client, Ring: r}

	bindings := reflecconfig.ParseBindings(opts.Server.Bindings)
	servers := make([]*downstream.Server, 0, len(bindings))
	for _, b := range bindings {
		addr := fmt.Sprintf("%s:%d", b.Addr, b.Port)
		srv, err := downstream.New(
			addr, source, opts.Server.ClientMax,
			time.Duration(opts.Server.Timeout)*time.Second,
			time.Duration(opts.Server.Countdown)*time.Second,
			bus, logger,
		)
		if err != nil {
			return fmt.Errorf("reflec: %w", err)
		}
		servers = append(servers, srv)
	}

	sup := supervisor.New(client, servers, logger)
	sup.ShutdownTimeout = time.Duration(opts.Server.Timeout) * time.Second

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Printf("reflec: signal received, quitting.")
		cancel()
	}()
	go supervisor.Prompt(ctx, os.Stdin, cancel)

	logger.Printf("reflec: reflecting %s", peer)
	return sup.Run(ctx)
}

func applyFlags(opts *reflecconfig.Options) {
	if flagBindings != "" {
		opts.Server.Bindings = flagBindings
	}
	if flagClientMax > 0 {
		opts.Server.ClientMax = flagClientMax
	}
	if flagBufSize > 0 {
		opts.Client.BufSize = flagBufSize
	}
	if flagTimeout > 0 {
		opts.Client.Timeout = flagTimeout
	}
	if flagRetry >= 0 {
		opts.Client.Retry = flagRetry
	}
	if flagLogDir != "" {
		opts.Logging.Directory = flagLogDir
	}
	if flagLogFile != "" {
		opts.Logging.Filename = flagLogFile
	}
	if flagQuiet {
		opts.Logging.Level = "error"
	}
	if flagVerbose {
		opts.Logging.Level = "debug"
	}
}

// buildLogger opens opts.Logging's configured file (macro-expanded the
// way ReflecApplication.replace_macro expands "%0"/"%a"/"%p") if a
// directory is set, tee-ing to stdout unless --quiet was given;
// otherwise it logs to stdout alone.
func buildLogger(opts reflecconfig.Options) (*log.Logger, func()) {
	var console io.Writer = os.Stdout
	if flagQuiet {
		console = io.Discard
	}
	if opts.Logging.Directory == "" {
		return log.New(console, "[reflec] ", log.LstdFlags), func() {}
	}

	if err := os.MkdirAll(opts.Logging.Directory, 0o755); err != nil {
		return log.New(console, "[reflec] ", log.LstdFlags), func() {}
	}
	name := expandLogMacro(opts.Logging.Filename, opts.Server.Bindings)
	path := opts.Logging.Directory + string(os.PathSeparator) + name
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return log.New(console, "[reflec] ", log.LstdFlags), func() {}
	}
	return log.New(io.MultiWriter(console, f), "[reflec] ", log.LstdFlags), func() { f.Close() }
}

// expandLogMacro mirrors ReflecApplication.replace_macro: "%0" is the
// app name, "%a"/"%p" are the bind address/port parsed from
// server.bindings.
func expandLogMacro(pattern, bindings string) string {
	addr, port := "", "8080"
	if host, p, ok := strings.Cut(strings.Split(bindings, ",")[0], ":"); ok {
		addr, port = host, p
	}
	out := strings.ReplaceAll(pattern, "%0", "reflec")
	out = strings.ReplaceAll(out, "%a", addr)
	out = strings.ReplaceAll(out, "%p", port)
	return out
}


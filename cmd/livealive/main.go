// Command livealive is the companion liveness monitor: it watches a
// list of TCP endpoints and emits events when one becomes reachable or
// unreachable. It never touches the streaming path — deciding whether
// to (re)launch a reflec process in response belongs to an
// out-of-scope launcher plugin (spec.md §1); livealive only detects
// and reports the state change.
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
	"gopkg.in/ini.v1"

	"github.com/kotareflec/reflec/internal/events"
	"github.com/kotareflec/reflec/internal/monitor"
)

var (
	flagConfig   string
	flagInterval int
	flagDelay    int
	flagTimeout  int
	flagQuiet    bool
)

func main() {
	root := &cobra.Command{
		Use:   "livealive [host:port ...]",
		Short: "Watch a list of TCP endpoints and report liveness changes",
		RunE:  run,
	}
	root.Flags().StringVar(&flagConfig, "config", "", "path to an INI config file listing [monitor] settings and [clients]")
	root.Flags().IntVar(&flagInterval, "interval", 0, "seconds between liveness checks per target (0 = use config/default)")
	root.Flags().IntVar(&flagDelay, "delay", 0, "seconds to stagger target start-up by (0 = use config/default)")
	root.Flags().IntVar(&flagTimeout, "timeout", 0, "seconds to wait for a TCP connect before calling a target dead (0 = use config/default)")
	root.Flags().BoolVar(&flagQuiet, "quiet", false, "suppress informational logging")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// settings is livealive's own small INI-backed config: an [monitor]
// section (interval/delay/timeout) plus a [clients] section whose
// keys are ignored and whose values are "host:port" addresses,
// mirroring lib/livealive/monitor.py's clients.xml list but expressed
// in the same INI format reflec's own config uses (spec.md §6).
type settings struct {
	Interval time.Duration
	Delay    time.Duration
	Timeout  time.Duration
	Targets  []string
}

func defaultSettings() settings {
	return settings{
		Interval: 60 * time.Second,
		Delay:    5 * time.Second,
		Timeout:  3 * time.Second,
	}
}

func loadSettings(path string) (settings, error) {
	s := defaultSettings()
	if path == "" {
		return s, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return s, nil
	}
	f, err := ini.Load(path)
	if err != nil {
		return s, fmt.Errorf("livealive: load %s: %w", path, err)
	}
	if sec, err := f.GetSection("monitor"); err == nil {
		if k, err := sec.GetKey("interval"); err == nil {
			if v, err := k.Int(); err == nil {
				s.Interval = time.Duration(v) * time.Second
			}
		}
		if k, err := sec.GetKey("delay"); err == nil {
			if v, err := k.Int(); err == nil {
				s.Delay = time.Duration(v) * time.Second
			}
		}
		if k, err := sec.GetKey("timeout"); err == nil {
			if v, err := k.Int(); err == nil {
				s.Timeout = time.Duration(v) * time.Second
			}
		}
	}
	if sec, err := f.GetSection("clients"); err == nil {
		for _, k := range sec.Keys() {
			if addr := strings.TrimSpace(k.String()); addr != "" {
				s.Targets = append(s.Targets, addr)
			}
		}
	}
	return s, nil
}

func run(cmd *cobra.Command, args []string) error {
	s, err := loadSettings(flagConfig)
	if err != nil {
		return err
	}
	if flagInterval > 0 {
		s.Interval = time.Duration(flagInterval) * time.Second
	}
	if flagDelay > 0 {
		s.Delay = time.Duration(flagDelay) * time.Second
	}
	if flagTimeout > 0 {
		s.Timeout = time.Duration(flagTimeout) * time.Second
	}
	s.Targets = append(s.Targets, args...)

	if len(s.Targets) == 0 {
		return fmt.Errorf("livealive: no targets given (pass host:port arguments or a --config [clients] section)")
	}

	logger := log.New(os.Stdout, "[livealive] ", log.LstdFlags)
	if flagQuiet {
		logger.SetOutput(io.Discard)
	}

	bus := events.New(logger)
	bus.Subscribe("change", func(_ events.Name, payload any) {
		if c, ok := payload.(*monitor.Client); ok {
			logger.Printf("%s is now %s", c, c.Status())
		}
	})

	m := monitor.New(s.Interval, s.Delay, bus, logger)
	for _, addr := range s.Targets {
		if err := m.Append(addr, s.Timeout); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Printf("livealive: signal received, quitting.")
		cancel()
		m.Terminate()
	}()

	logger.Printf("livealive: watching %d target(s) every %s", len(s.Targets), s.Interval)
	m.Start()

	done := make(chan struct{})
	go func() {
		m.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
	case <-done:
	}
	return nil
}

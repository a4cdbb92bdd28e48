// Package supervisor wires an upstream.Client, a ring.Ring, and a
// downstream.Server into one running reflector and drives the startup
// and shutdown sequence spec.md §2 describes as "control flow": start
// the client and the server, wait for either the client to terminate
// or the operator to quit, then stop the server from accepting new
// connections and drain active ones with a bounded timeout.
//
// Grounded on original_source/lib/reflec/app.py's ReflecApplication
// (setup/run/wait_for_termination/finish) and lib/appbase/prompt.py's
// CommandPrompt, reduced to a minimal line-reading goroutine since the
// interactive prompt is an out-of-scope collaborator (spec.md §1).
package supervisor

import (
	"bufio"
	"context"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/kotareflec/reflec/internal/downstream"
	"github.com/kotareflec/reflec/internal/upstream"
)

// Supervisor owns one reflector's lifecycle: an upstream.Client feeding
// a shared ring.Ring, and one or more downstream.Server instances
// relaying it (spec.md §3's server.bindings may list several
// addresses).
type Supervisor struct {
	Client  *upstream.Client
	Servers []*downstream.Server
	Logger  *log.Logger

	// ShutdownTimeout bounds how long Run waits, in total, for the
	// servers to drain after the operator quits or the client
	// terminates.
	ShutdownTimeout time.Duration

	clientErr chan error
}

// New builds a Supervisor over an already-configured client and server
// set. Run starts them; it does not start them itself, so callers can
// still subscribe extra event handlers first.
func New(client *upstream.Client, servers []*downstream.Server, logger *log.Logger) *Supervisor {
	if logger == nil {
		logger = log.Default()
	}
	return &Supervisor{
		Client:    client,
		Servers:   servers,
		Logger:    logger,
		clientErr: make(chan error, 1),
	}
}

// Run starts the client and every server, then blocks until either the
// client's Run returns (the upstream terminated for good — retries
// exhausted or a non-retryable failure) or ctx is cancelled (the
// operator asked to quit, typically via SIGINT/SIGTERM or the "Q"
// prompt command). It then terminates the client and closes every
// server within ShutdownTimeout, mirroring
// run/wait_for_termination/finish.
func (s *Supervisor) Run(ctx context.Context) error {
	go func() {
		s.clientErr <- s.Client.Run(ctx)
	}()

	for _, srv := range s.Servers {
		srv := srv
		go func() {
			if err := srv.Serve(); err != nil {
				s.Logger.Printf("supervisor: server %s exited: %v", srv.Addr(), err)
			}
		}()
	}

	var runErr error
	select {
	case runErr = <-s.clientErr:
		s.Logger.Printf("supervisor: upstream client terminated, shutting down.")
	case <-ctx.Done():
		s.Logger.Printf("supervisor: quit requested, shutting down.")
	}

	s.Client.Terminate()

	drainCtx, cancel := context.WithTimeout(context.Background(), s.ShutdownTimeout)
	defer cancel()
	for _, srv := range s.Servers {
		if err := srv.Close(drainCtx); err != nil {
			s.Logger.Printf("supervisor: server %s drain: %v", srv.Addr(), err)
		}
	}

	return runErr
}

// Prompt reads "QUIT"/"Q" (case-insensitive) lines from r and cancels
// cancel when seen, the minimal surviving fragment of
// CommandPrompt: the reflector's interactive operator console is an
// out-of-scope collaborator (spec.md §1), but a bare quit command is
// how an operator stops a foreground reflector without a signal.
func Prompt(ctx context.Context, r io.Reader, cancel context.CancelFunc) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		cmd := strings.ToUpper(strings.TrimSpace(scanner.Text()))
		switch cmd {
		case "Q", "QUIT":
			cancel()
			return
		case "H", "HELP":
			os.Stdout.WriteString("Commands: H(elp), Q(uit)\n")
		case "":
			// ignore blank lines
		}
	}
}

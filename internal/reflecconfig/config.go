// Package reflecconfig loads Reflec's configuration: an INI file read
// first, then overridden by whatever command-line flags the operator
// actually passed.
//
// Grounded on original_source/lib/appbase/option.py (BaseOption: INI
// defaults merged with argv overrides) and lib/reflec/option.py
// (ReflecOption: the client/server/logging sections and the
// "host port [path] | host:port | url" positional form), replacing the
// Python optparse layer with gopkg.in/ini.v1 for the file and
// github.com/spf13/cobra for the flags — both real dependencies already
// present in the example pack, per spec.md §6's literal "INI file"
// requirement.
package reflecconfig

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"
)

// Logging holds the [logging] section.
type Logging struct {
	Directory string
	Filename  string
	Level     string
}

// Client holds the [client] section: the upstream MMS-over-HTTP peer
// Reflec pulls a stream from.
type Client struct {
	Host     string
	Port     int
	Path     string
	BufSize  int
	Timeout  int
	Retry    int
	RetrySec int
}

// Server holds the [server] section: the downstream listener Reflec
// serves listeners from.
type Server struct {
	Bindings   string
	ClientMax  int
	Timeout    int
	Countdown  int
}

// Options is the fully resolved configuration: INI defaults overridden
// by any flags the operator passed on the command line.
type Options struct {
	Logging Logging
	Client  Client
	Server  Server
}

// Default mirrors original_source/lib/reflec/option.py's config_defaults
// and lib/appbase/option.py's logging defaults.
func Default() Options {
	return Options{
		Logging: Logging{
			Directory: "logs",
			Filename:  "%0_%a%p.log",
			Level:     "info",
		},
		Client: Client{
			Host:     "localhost",
			Port:     8888,
			Path:     "/",
			BufSize:  16,
			Timeout:  30,
			Retry:    5,
			RetrySec: 10,
		},
		Server: Server{
			Bindings:  ":8080",
			ClientMax: 100,
			Timeout:   180,
			Countdown: 10,
		},
	}
}

// LoadINI reads path into opts, leaving any section or key the file
// omits at its current value. A missing file is not an error: Reflec
// runs on its built-in defaults (original_source tries a short list of
// conventional paths and tolerates none of them existing).
func LoadINI(path string, opts *Options) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	f, err := ini.Load(path)
	if err != nil {
		return fmt.Errorf("reflecconfig: load %s: %w", path, err)
	}

	if sec, err := f.GetSection("logging"); err == nil {
		applyString(sec, "directory", &opts.Logging.Directory)
		applyString(sec, "filename", &opts.Logging.Filename)
		applyString(sec, "level", &opts.Logging.Level)
	}
	if sec, err := f.GetSection("client"); err == nil {
		applyString(sec, "host", &opts.Client.Host)
		applyInt(sec, "port", &opts.Client.Port)
		applyString(sec, "path", &opts.Client.Path)
		applyInt(sec, "bufsize", &opts.Client.BufSize)
		applyInt(sec, "timeout", &opts.Client.Timeout)
		applyInt(sec, "retry", &opts.Client.Retry)
		applyInt(sec, "retrysec", &opts.Client.RetrySec)
	}
	if sec, err := f.GetSection("server"); err == nil {
		applyString(sec, "bindings", &opts.Server.Bindings)
		applyInt(sec, "client_max", &opts.Server.ClientMax)
		applyInt(sec, "timeout", &opts.Server.Timeout)
		applyInt(sec, "countdown", &opts.Server.Countdown)
	}

	return nil
}

func applyString(sec *ini.Section, key string, dst *string) {
	if k, err := sec.GetKey(key); err == nil {
		*dst = k.String()
	}
}

func applyInt(sec *ini.Section, key string, dst *int) {
	if k, err := sec.GetKey(key); err == nil {
		if v, err := k.Int(); err == nil {
			*dst = v
		}
	}
}

// argvPattern matches original_source's
// ^(?:[^:]+://)?([^/:]+)(?::(\d+))?(.*) — an optional scheme, a host,
// an optional :port, and a trailing path.
var argvPattern = regexp.MustCompile(`^(?:[^:]+://)?([^/:]+)(?::(\d+))?(.*)`)

// ApplyPositional parses the "host port [path] | host:port | url" form
// documented by ReflecOption.parse_argv: args[0] is matched against
// argvPattern for host[:port][path]; args[1] and args[2], if present,
// override port and path respectively. An invalid port number is a
// fatal usage error, matching the original's sys.exit behavior.
func ApplyPositional(args []string, c *Client) error {
	if len(args) >= 1 {
		m := argvPattern.FindStringSubmatch(args[0])
		if m != nil {
			c.Host = m[1]
			if m[2] != "" {
				port, err := strconv.Atoi(m[2])
				if err != nil {
					return fmt.Errorf("reflecconfig: given client port is not a number")
				}
				c.Port = port
			}
			if m[3] != "" {
				c.Path = m[3]
			}
		}
	}
	if len(args) >= 2 {
		port, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("reflecconfig: given client port is not a number")
		}
		c.Port = port
	}
	if len(args) >= 3 {
		c.Path = args[2]
	}
	return nil
}

// Binding is a parsed server.bindings entry: an address and a port.
type Binding struct {
	Addr string
	Port int
}

// ParseBindings parses the server.bindings INI value the way
// original_source's MMSHTTPServer does: comma-separated entries of
// ":port", "host:port", or a bare integer port; any entry whose port
// fails to parse falls back to ("", 8080). Unlike the client's port parsing, a malformed
// server binding is tolerated, not fatal — the server always has
// *some* binding to listen on.
func ParseBindings(raw string) []Binding {
	var out []Binding
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, parseBinding(part))
	}
	if len(out) == 0 {
		out = append(out, Binding{Addr: "", Port: 8080})
	}
	return out
}

func parseBinding(s string) Binding {
	if strings.HasPrefix(s, ":") {
		if port, err := strconv.Atoi(s[1:]); err == nil {
			return Binding{Addr: "", Port: port}
		}
		return Binding{Addr: "", Port: 8080}
	}
	if idx := strings.LastIndex(s, ":"); idx >= 0 {
		host, portStr := s[:idx], s[idx+1:]
		if port, err := strconv.Atoi(portStr); err == nil {
			return Binding{Addr: host, Port: port}
		}
		return Binding{Addr: "", Port: 8080}
	}
	// A bare value with no ":" at all is a bare port, mirroring the
	// original's `bindings = ('', int(bindings))`.
	if port, err := strconv.Atoi(s); err == nil {
		return Binding{Addr: "", Port: port}
	}
	return Binding{Addr: "", Port: 8080}
}

// Package upstream implements the MMS-over-HTTP client that pulls a
// live stream from a Windows Media source and feeds each packet into a
// ring.Ring for the downstream server to fan back out.
//
// Grounded on original_source/lib/mmshttp/client.py (HTTPClient,
// MMSHTTPClient, MMSHTTPBufferedClient): the two-phase info/streaming
// handshake, the Pragma sub-header format, the "3rd packet means
// streaming actually started" heuristic, and the retry/backoff loop.
package upstream

import "strings"

// pragmaEntry is one "name[=value]" token of an MMS-HTTP Pragma header.
// A slice (not a map) preserves the exact ordering MMSHTTPClient sends,
// since some Windows Media servers are picky about it.
type pragmaEntry struct {
	Key, Value string
}

// infoPragma mirrors MMSHTTPClient.addheader_for_info: the first
// request, asking only for the stream's header/info packet.
var infoPragma = []pragmaEntry{
	{"no-cache", ""},
	{"rate", "1.000000"},
	{"stream-time", "0"},
	{"stream-offset", "0:0"},
	{"request-context", "1"},
	{"max-duration", "0"},
}

// streamingPragma mirrors MMSHTTPClient.addheader_for_streaming: the
// second request, asking the server to actually start streaming.
var streamingPragma = []pragmaEntry{
	{"no-cache", ""},
	{"rate", "1.000000"},
	{"stream-time", "0"},
	{"stream-offset", "0:0"},
	{"request-context", "2"},
	{"max-duration", "0"},
	{"xPlayStrm", "1"},
	{"stream-switch-count", "2"},
	{"stream-switch-entry", "ffff:1:0 ffff:2:0"},
}

// renderPragma turns a pragma entry list into the comma-joined
// "name=value,name,name=value" wire form (build_header in
// MMSHTTPClient: a bare key when its value is empty).
func renderPragma(entries []pragmaEntry) string {
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Value != "" {
			parts = append(parts, e.Key+"="+e.Value)
		} else {
			parts = append(parts, e.Key)
		}
	}
	return strings.Join(parts, ",")
}

// BuildInfoPragma renders the Pragma header value for the info-request
// phase of the handshake.
func BuildInfoPragma() string { return renderPragma(infoPragma) }

// BuildStreamingPragma renders the Pragma header value for the
// streaming-request phase of the handshake.
func BuildStreamingPragma() string { return renderPragma(streamingPragma) }

// ParsePragma parses a received Pragma header value into a lowercased
// key/value map, mirroring MMSHTTPBaseHandler.parse_pragma: entries are
// split on commas, then on the first "=" (a bare token maps to "").
func ParsePragma(raw string) map[string]string {
	out := make(map[string]string)
	for _, tok := range strings.Split(raw, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		key, value, _ := strings.Cut(tok, "=")
		out[strings.ToLower(strings.TrimSpace(key))] = strings.TrimSpace(value)
	}
	return out
}

// Package downstream implements the MMS-over-HTTP server that fans a
// live stream back out to players: request classification, the raw
// ASF header + info-packet passthrough, and the bit-exact packet
// relay itself.
//
// Grounded on original_source/lib/mmshttp/server.py
// (MMSHTTPStreamingHandler/MMSHTTPClientMaxHandler/MMSHTTPServer) and
// on the teacher's internal/source/handler.go for the Go idiom of
// using http.Hijacker to drop to raw bytes once a request is
// classified, since net/http's own response writer would otherwise
// re-encode or re-chunk bytes that must reach the player bit-exact.
package downstream

// pragmasForStreaming are the Pragma sub-keys present on a streaming
// (body) request, mirroring MMSHTTPStreamingHandler.pragmas_for_streaming.
var pragmasForStreaming = []string{
	"xplaystrm",
	"stream-switch-count",
	"stream-switch-entry",
}

// pragmasForHeader extends pragmasForStreaming with the keys seen on a
// header/info-only request, mirroring pragmas_for_header.
var pragmasForHeader = []string{
	"xplaystrm",
	"stream-switch-count",
	"stream-switch-entry",
	"rate",
	"stream-time",
	"stream-offset",
	"request-context",
	"max-duration",
	"xclientguid",
}

// IsRequestForStreaming reports whether pragmas describes the second
// ("give me the body") phase of the handshake: any streaming-only key
// present, or an explicit request-context other than "1".
func IsRequestForStreaming(pragmas map[string]string) bool {
	for _, k := range pragmasForStreaming {
		if _, ok := pragmas[k]; ok {
			return true
		}
	}
	rc, ok := pragmas["request-context"]
	if !ok {
		rc = "1"
	}
	return rc != "1"
}

// IsRequestForHeader reports whether pragmas describes the first
// ("give me just the info packet") phase of the handshake.
func IsRequestForHeader(pragmas map[string]string) bool {
	for _, k := range pragmasForHeader {
		if _, ok := pragmas[k]; ok {
			return true
		}
	}
	return false
}

package main

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/equalitie/ouinet-sub000/internal/cacheclient"
	"github.com/equalitie/ouinet-sub000/internal/signedhttp"
)

// newAgentHandler adapts net/http requests from the local agent into
// cacheclient.Request/ServeLocal calls. The agent addresses a resource
// the way an HTTP proxy client does: an absolute-URI request line
// (GET http://example.com/path HTTP/1.1) or, when the client can't emit
// that (e.g. Go's http.Client for a PROPFIND hash-list request), the
// X-Ouinet-URI header as a fallback.
//
// ServeLocal writes a complete, self-framed response (status line,
// headers, chunked body, trailer) directly to its sink, so each request
// hijacks the underlying connection and writes raw bytes rather than
// going through ResponseWriter's own header/status machinery; the
// connection is closed after every response rather than honoring
// ServeLocal's keepAlive return, trading connection reuse for a much
// simpler front end (this repository's HTTP proxy front end proper is
// out of scope, per spec §1).
func newAgentHandler(client *cacheclient.Client) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, err := toCacheRequest(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		hj, ok := w.(http.Hijacker)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}
		conn, buf, err := hj.Hijack()
		if err != nil {
			http.Error(w, "hijack failed", http.StatusInternalServerError)
			return
		}
		defer conn.Close()

		_, _ = client.ServeLocal(r.Context(), req, buf)
		_ = buf.Flush()
	})
}

func toCacheRequest(r *http.Request) (*cacheclient.Request, error) {
	uri := r.URL.String()
	if !r.URL.IsAbs() {
		if hdr := r.Header.Get(signedhttp.HeaderURI); hdr != "" {
			uri = hdr
		}
	}

	req := &cacheclient.Request{
		Method:  r.Method,
		URI:     uri,
		Version: signedhttp.CurrentProtocolVersion,
	}
	if v := r.Header.Get(signedhttp.HeaderVersion); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			req.Version = n
		}
	}

	if rng := r.Header.Get("Range"); rng != "" {
		first, last, ok := parseByteRange(rng)
		if !ok {
			return nil, errBadRange
		}
		req.HasRange = true
		req.RangeFirst = first
		req.RangeLast = last
	}
	return req, nil
}

type rangeError string

func (e rangeError) Error() string { return string(e) }

const errBadRange = rangeError("malformed Range header")

// parseByteRange parses "bytes=<first>-<last>", the only form ServeLocal
// supports (spec §4.2's range reader takes a closed [first,last] pair).
func parseByteRange(v string) (first, last uint64, ok bool) {
	const prefix = "bytes="
	if !strings.HasPrefix(v, prefix) {
		return 0, 0, false
	}
	parts := strings.SplitN(strings.TrimPrefix(v, prefix), "-", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return 0, 0, false
	}
	f, err1 := strconv.ParseUint(parts[0], 10, 64)
	l, err2 := strconv.ParseUint(parts[1], 10, 64)
	if err1 != nil || err2 != nil || l < f {
		return 0, 0, false
	}
	return f, l, true
}

package cacheclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/equalitie/ouinet-sub000/internal/resourceid"
	"github.com/equalitie/ouinet-sub000/internal/signedhttp"
)

// Request is the minimal shape of an agent's request that ServeLocal
// needs: method, the canonical URL being requested, its declared
// protocol version, and an optional byte range.
type Request struct {
	Method     string
	URI        string
	Version    int
	RangeFirst uint64
	RangeLast  uint64
	HasRange   bool
}

// minSupportedVersion/maxSupportedVersion bound the X-Ouinet-Version
// values this node accepts from an agent, per spec §6's
// version-too-low/version-too-high error codes.
const (
	minSupportedVersion = signedhttp.CurrentProtocolVersion
	maxSupportedVersion = signedhttp.CurrentProtocolVersion
)

// writeErrorResponse renders a minimal status-line-plus-header error
// response with an X-Ouinet-Error field, per spec §6.2's error table.
func writeErrorResponse(sink io.Writer, status int, code int, msg string) error {
	if _, err := fmt.Fprintf(sink, "HTTP/1.1 %d %s\r\n", status, http.StatusText(status)); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(sink, "%s: %d %s\r\n\r\n", signedhttp.HeaderError, code, msg); err != nil {
		return err
	}
	return nil
}

// ServeLocal answers one agent request by streaming a verified response
// to sink, per spec §4.7: PROPFIND gets a hash list, GET/HEAD get the
// (optionally range-restricted) signed body either from the local store
// or, failing that, from the multi-peer swarm via Load. keepAlive
// reports whether the connection can be reused for a further request.
func (c *Client) ServeLocal(ctx context.Context, req *Request, sink io.Writer) (keepAlive bool, err error) {
	if req.Version < minSupportedVersion {
		_ = writeErrorResponse(sink, http.StatusBadRequest, 1, "protocol version too low")
		return false, fmt.Errorf("cacheclient: servelocal: version %d too low", req.Version)
	}
	if req.Version > maxSupportedVersion {
		_ = writeErrorResponse(sink, http.StatusBadRequest, 2, "protocol version too high")
		return false, fmt.Errorf("cacheclient: servelocal: version %d too high", req.Version)
	}
	if req.URI == "" {
		_ = writeErrorResponse(sink, http.StatusBadRequest, 3, "missing URI")
		return false, fmt.Errorf("cacheclient: servelocal: empty URI")
	}

	if strings.EqualFold(req.Method, "PROPFIND") {
		return c.serveHashList(req, sink)
	}

	isHead := strings.EqualFold(req.Method, "HEAD")

	if req.HasRange {
		return c.serveRange(req, sink)
	}

	group := req.URI
	session, err := c.Load(ctx, req.URI, group, isHead)
	if err != nil {
		_ = writeErrorResponse(sink, http.StatusNotFound, 3, "resource retrieval failed")
		return false, fmt.Errorf("cacheclient: servelocal: %w", err)
	}

	if session.Warning != "" {
		return true, c.writeSessionWithWarning(sink, session)
	}
	if err := signedhttp.WriteParts(sink, session.Parts); err != nil {
		return false, fmt.Errorf("cacheclient: servelocal: write: %w", err)
	}
	return true, nil
}

// serveRange serves a Range: request directly from the local store
// (range requests are only meaningful against a cache this node already
// holds; a miss simply 404s rather than falling back to a full
// multi-peer fetch of the whole resource).
func (c *Client) serveRange(req *Request, sink io.Writer) (bool, error) {
	id := resourceid.FromURL(req.URI)
	entry, err := c.HTTPStore.Whole(id)
	if err != nil {
		_ = writeErrorResponse(sink, http.StatusNotFound, 3, "resource retrieval failed")
		return false, fmt.Errorf("cacheclient: servelocal: range: %w", err)
	}
	parts, servedFirst, servedLast, err := entry.RangeParts(req.RangeFirst, req.RangeLast)
	if err != nil {
		_ = writeErrorResponse(sink, http.StatusBadRequest, 3, "malformed range")
		return false, fmt.Errorf("cacheclient: servelocal: range: %w", err)
	}
	parts[0].Head.StatusCode = http.StatusPartialContent
	parts[0].Head.Header.Set("X-Ouinet-HTTP-Status", strconv.Itoa(entry.Head.StatusCode))
	parts[0].Head.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", servedFirst, servedLast, len(entry.Body)))
	if err := signedhttp.WriteParts(sink, &partsReader{parts: parts}); err != nil {
		return false, fmt.Errorf("cacheclient: servelocal: range: write: %w", err)
	}
	return true, nil
}

func (c *Client) serveHashList(req *Request, sink io.Writer) (bool, error) {
	id := resourceid.FromURL(req.URI)
	entry, err := c.HTTPStore.Whole(id)
	if err != nil {
		_ = writeErrorResponse(sink, http.StatusNotFound, 3, "resource retrieval failed")
		return false, fmt.Errorf("cacheclient: servelocal: hashlist: %w", err)
	}
	if err := entry.WriteHashList(sink); err != nil {
		return false, fmt.Errorf("cacheclient: servelocal: hashlist: write: %w", err)
	}
	return true, nil
}

// writeSessionWithWarning writes a session whose first part is a head,
// injecting a Warning header before handing off to WriteParts — used
// only for the incomplete-local-copy fallback path.
func (c *Client) writeSessionWithWarning(sink io.Writer, session *Session) error {
	first, err := session.Parts.ReadPart()
	if err != nil {
		return err
	}
	if first.Kind == signedhttp.PartHead {
		first.Head = first.Head.Clone()
		first.Head.Header.Set("Warning", session.Warning)
	}
	return signedhttp.WriteParts(sink, &prependedReader{first: first, rest: session.Parts})
}

// prependedReader replays one already-read Part before falling through
// to an underlying PartReader.
type prependedReader struct {
	first     signedhttp.Part
	rest      signedhttp.PartReader
	firstDone bool
}

func (r *prependedReader) ReadPart() (signedhttp.Part, error) {
	if !r.firstDone {
		r.firstDone = true
		return r.first, nil
	}
	return r.rest.ReadPart()
}

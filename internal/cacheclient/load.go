package cacheclient

import (
	"context"
	"fmt"
	"strconv"

	"github.com/equalitie/ouinet-sub000/internal/multipeer"
	"github.com/equalitie/ouinet-sub000/internal/ouierr"
	"github.com/equalitie/ouinet-sub000/internal/resourceid"
	"github.com/equalitie/ouinet-sub000/internal/signedhttp"
)

// Session is the result of a Load: a Part stream together with the
// X-Ouinet-Source tag it should be reported under and, when it was
// served from an incomplete local copy after a failed remote fetch, a
// Warning header value to attach.
type Session struct {
	Parts   signedhttp.PartReader
	Source  string
	Warning string
}

// partsReader adapts a pre-assembled []signedhttp.Part slice (as
// returned by httpstore.Entry.Parts/RangeParts) to the PartReader
// interface the rest of the signedhttp/multipeer machinery consumes.
type partsReader struct {
	parts []signedhttp.Part
	pos   int
}

func (r *partsReader) ReadPart() (signedhttp.Part, error) {
	if r.pos >= len(r.parts) {
		return signedhttp.Part{Kind: signedhttp.PartEnd}, nil
	}
	p := r.parts[r.pos]
	r.pos++
	return p, nil
}

// headOnlyReader truncates an underlying part stream to its head plus an
// immediate end, for answering HEAD requests without paying for a body
// fetch that will be discarded.
type headOnlyReader struct {
	head *signedhttp.Head
	done bool
}

func (r *headOnlyReader) ReadPart() (signedhttp.Part, error) {
	if r.done {
		return signedhttp.Part{Kind: signedhttp.PartEnd}, nil
	}
	r.done = true
	return signedhttp.Part{Kind: signedhttp.PartHead, Head: r.head}, nil
}

// isLocalComplete reports whether a locally stored entry's body matches
// its signed X-Ouinet-Data-Size — an entry can be present on disk but
// incomplete if a previous Store was interrupted mid-transfer and this
// node kept whatever prefix it had verified so far.
func isLocalComplete(head *signedhttp.Head, bodyLen int) bool {
	sizeStr := head.Header.Get(signedhttp.HeaderDataSize)
	size, err := strconv.ParseUint(sizeStr, 10, 64)
	if err != nil {
		return false
	}
	return uint64(bodyLen) == size
}

// Load resolves a resource, per spec §4.7: try the local store first and
// return it immediately if complete; otherwise fall through to a
// multi-peer fetch against the resource's group swarm, falling back to
// an incomplete local copy (flagged with a Warning header) if that fetch
// also fails.
func (c *Client) Load(ctx context.Context, canonicalURL, group string, isHeadRequest bool) (*Session, error) {
	id := resourceid.FromURL(canonicalURL)

	local, localErr := c.HTTPStore.Whole(id)
	if localErr == nil && isLocalComplete(local.Head, len(local.Body)) {
		return c.sessionFromEntryParts(local.Parts(), local.Head, signedhttp.SourceLocalCache, "", isHeadRequest), nil
	}

	var incomplete *Session
	if localErr == nil {
		incomplete = c.sessionFromEntryParts(local.Parts(), local.Head,
			signedhttp.SourceLocalCache,
			`119 Ouinet "Using incomplete response body from local cache"`,
			isHeadRequest)
	}

	set, err := multipeer.Discover(ctx, c.Host, c.Lookups, c.SwarmName(group), canonicalURL, c.InjectorPub)
	if err == nil {
		reader, rerr := multipeer.NewReader(ctx, set)
		if rerr == nil {
			return &Session{Parts: reader, Source: signedhttp.SourceDistCache}, nil
		}
		err = rerr
	}

	if incomplete != nil {
		return incomplete, nil
	}

	return nil, fmt.Errorf("cacheclient: load %s: %w", canonicalURL, errOrNotFound(err))
}

func errOrNotFound(err error) error {
	if err == nil {
		return ouierr.ErrNotFound
	}
	return err
}

func (c *Client) sessionFromEntryParts(parts []signedhttp.Part, head *signedhttp.Head, source, warning string, isHeadRequest bool) *Session {
	if isHeadRequest {
		return &Session{Parts: &headOnlyReader{head: head.Clone()}, Source: source, Warning: warning}
	}
	return &Session{Parts: &partsReader{parts: parts}, Source: source, Warning: warning}
}

package signedhttp

import (
	"fmt"
	"io"
	"net/http"
)

// WriteParts renders a Part stream to w as the literal wire bytes
// described in spec §6.1/§6.2: an HTTP/1.1 status line, headers, a
// chunked body whose chunk-size lines carry the `;ouisig="...";ouihash="..."`
// extensions, and trailer fields. This is the one place those extensions
// are written as actual HTTP chunked-transfer-coding bytes rather than as
// Go struct fields — used by cacheclient.ServeLocal to answer a local
// agent's request with exactly the format a downstream agent (or another
// Ouinet node proxying through this one) expects on the wire.
func WriteParts(w io.Writer, r PartReader) error {
	for {
		p, err := r.ReadPart()
		if err != nil {
			return err
		}
		switch p.Kind {
		case PartHead:
			if _, err := fmt.Fprintf(w, "HTTP/1.1 %d %s\r\n", p.Head.StatusCode, http.StatusText(p.Head.StatusCode)); err != nil {
				return err
			}
			if err := p.Head.Header.Write(w); err != nil {
				return err
			}
			if _, err := io.WriteString(w, "\r\n"); err != nil {
				return err
			}
		case PartChunkHeader:
			if _, err := fmt.Fprintf(w, "%x%s\r\n", p.ChunkHeader.Size, p.ChunkHeader.Exts); err != nil {
				return err
			}
		case PartChunkBody:
			if _, err := w.Write(p.ChunkBody); err != nil {
				return err
			}
			if _, err := io.WriteString(w, "\r\n"); err != nil {
				return err
			}
		case PartTrailer:
			if err := p.Trailer.Header.Write(w); err != nil {
				return err
			}
			if _, err := io.WriteString(w, "\r\n"); err != nil {
				return err
			}
		case PartEnd:
			return nil
		}
	}
}

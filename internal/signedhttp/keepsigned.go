package signedhttp

import (
	"net/http"
	"strings"
)

// signatureHeaderNames lists the header fields that are never dropped by
// KeepSigned, regardless of whether they appear in any signature's
// headers= list: they carry the signatures themselves.
var signatureHeaderNames = map[string]bool{
	strings.ToLower(HeaderSig0): true,
	strings.ToLower(HeaderSig1): true,
}

// KeepSigned drops every header field that is neither a signature header
// nor named in the headers= list of any signature present in head,
// preventing storage of unsigned, potentially hop-specific fields (e.g.
// Connection, Transfer-Encoding).
//
// Grounded on original_source/src/cache/http_sign.cpp's KeepSignedReader.
func KeepSigned(head *Head) *Head {
	covered := map[string]bool{}
	for _, hv := range []string{head.Header.Get(HeaderSig0), head.Header.Get(HeaderSig1)} {
		if hv == "" {
			continue
		}
		sig, err := ParseSignature(hv)
		if err != nil {
			continue
		}
		for _, h := range sig.Headers {
			covered[strings.ToLower(h)] = true
		}
	}

	out := &Head{StatusCode: head.StatusCode, Header: http.Header{}}
	for k, vs := range head.Header {
		lk := strings.ToLower(k)
		if signatureHeaderNames[lk] || covered[lk] {
			out.Header[k] = append([]string(nil), vs...)
		}
	}
	return out
}

package signedhttp

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// Signature is a parsed draft-cavage-http-signatures-11 value, restricted
// to the subset this format uses: algorithm is always "hs2019" (mapped to
// Ed25519-over-SHA-512) and keyId is always "ed25519=<base64 pubkey>".
//
// Grounded on original_source/src/cache/http_sign.cpp's HttpSignature
// (parse/verify) and http_signature() builder.
type Signature struct {
	PubKey    ed25519.PublicKey
	Algorithm string
	Created   int64
	Headers   []string
	Sig       []byte
}

// String renders the signature in wire form, suitable as the value of
// X-Ouinet-Sig0 / X-Ouinet-Sig1 / a signature in the list building
// X-Ouinet-BSigs's keyId.
func (s Signature) String() string {
	return fmt.Sprintf(
		`keyId="ed25519=%s",algorithm="%s",created=%d,headers="%s",signature="%s"`,
		base64.StdEncoding.EncodeToString(s.PubKey),
		s.Algorithm,
		s.Created,
		strings.Join(s.Headers, " "),
		base64.StdEncoding.EncodeToString(s.Sig),
	)
}

// ParseSignature parses a signature header value of the form
// `keyId="ed25519=<b64>",algorithm="hs2019",created=<unix>,headers="<space-sep>",signature="<b64>"`.
func ParseSignature(value string) (Signature, error) {
	fields := splitSignatureFields(value)

	var out Signature
	var keyID string
	var haveSig, haveCreated bool

	for k, v := range fields {
		switch k {
		case "keyid":
			keyID = v
		case "algorithm":
			out.Algorithm = v
		case "created":
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return Signature{}, fmt.Errorf("signedhttp: bad created: %w", err)
			}
			out.Created = n
			haveCreated = true
		case "headers":
			out.Headers = strings.Fields(v)
		case "signature":
			sig, err := base64.StdEncoding.DecodeString(v)
			if err != nil {
				return Signature{}, fmt.Errorf("signedhttp: bad signature base64: %w", err)
			}
			out.Sig = sig
			haveSig = true
		}
	}

	if out.Algorithm != "hs2019" {
		return Signature{}, fmt.Errorf("signedhttp: unsupported algorithm %q", out.Algorithm)
	}
	if !strings.HasPrefix(keyID, "ed25519=") {
		return Signature{}, fmt.Errorf("signedhttp: keyId missing explicit ed25519= prefix")
	}
	pk, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(keyID, "ed25519="))
	if err != nil || len(pk) != ed25519.PublicKeySize {
		return Signature{}, fmt.Errorf("signedhttp: bad ed25519 keyId")
	}
	out.PubKey = ed25519.PublicKey(pk)
	if !haveSig || !haveCreated || len(out.Headers) == 0 {
		return Signature{}, fmt.Errorf("signedhttp: incomplete signature header")
	}
	return out, nil
}

// splitSignatureFields parses `key="value",key2=value2,...` into a map of
// lower-cased keys to unquoted values.
func splitSignatureFields(value string) map[string]string {
	out := map[string]string{}
	for _, part := range splitTopLevelCommas(value) {
		part = strings.TrimSpace(part)
		eq := strings.IndexByte(part, '=')
		if eq < 0 {
			continue
		}
		k := strings.ToLower(strings.TrimSpace(part[:eq]))
		v := strings.TrimSpace(part[eq+1:])
		v = strings.Trim(v, `"`)
		out[k] = v
	}
	return out
}

// splitTopLevelCommas splits on commas that are not inside a quoted
// string, since headers="a b c" never contains a comma but keeping this
// general costs nothing.
func splitTopLevelCommas(s string) []string {
	var out []string
	inQuotes := false
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			inQuotes = !inQuotes
		case ',':
			if !inQuotes {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	out = append(out, s[start:])
	return out
}

// SigningString builds the signing string for a list of header names, per
// §4.1.2: one line per named header, "<lower-cased name>: <whitespace-
// trimmed value>" (a pseudo-header contributes its bare value),
// newline-joined, in the order given. trailer may be
// nil when building Sig0 (which only covers the frame-less head).
//
// Grounded on http_sign.cpp's prep_sig_head/get_sig_str_hdrs/verification_head.
func SigningString(statusCode int, created int64, expires *int64, requestTarget string, header, trailer http.Header, headers []string) (string, error) {
	lines := make([]string, 0, len(headers))
	for _, raw := range headers {
		name := strings.ToLower(strings.TrimSpace(raw))
		switch name {
		case "(response-status)":
			lines = append(lines, strconv.Itoa(statusCode))
		case "(created)":
			lines = append(lines, strconv.FormatInt(created, 10))
		case "(expires)":
			if expires == nil {
				return "", fmt.Errorf("signedhttp: (expires) requested but not set")
			}
			lines = append(lines, strconv.FormatInt(*expires, 10))
		case "(request-target)":
			lines = append(lines, requestTarget)
		default:
			v, ok := lookupHeader(trailer, name)
			if !ok {
				v, ok = lookupHeader(header, name)
			}
			if !ok {
				return "", fmt.Errorf("signedhttp: missing header %q for signing", name)
			}
			lines = append(lines, name+": "+strings.TrimSpace(v))
		}
	}
	return strings.Join(lines, "\n"), nil
}

func lookupHeader(h http.Header, lowerName string) (string, bool) {
	if h == nil {
		return "", false
	}
	for k, vs := range h {
		if strings.ToLower(k) == lowerName && len(vs) > 0 {
			return vs[0], true
		}
	}
	return "", false
}

// SignSignature produces a Signature over the given header set.
func SignSignature(priv ed25519.PrivateKey, pub ed25519.PublicKey, created int64, headers []string, statusCode int, expires *int64, requestTarget string, header, trailer http.Header) (Signature, error) {
	s, err := SigningString(statusCode, created, expires, requestTarget, header, trailer, headers)
	if err != nil {
		return Signature{}, err
	}
	return Signature{
		PubKey:    pub,
		Algorithm: "hs2019",
		Created:   created,
		Headers:   headers,
		Sig:       ed25519.Sign(priv, []byte(s)),
	}, nil
}

// VerifySignature checks a parsed Signature against the given header set.
func VerifySignature(sig Signature, statusCode int, expires *int64, requestTarget string, header, trailer http.Header) (bool, error) {
	s, err := SigningString(statusCode, sig.Created, expires, requestTarget, header, trailer, sig.Headers)
	if err != nil {
		return false, err
	}
	return ed25519.Verify(sig.PubKey, []byte(s), sig.Sig), nil
}

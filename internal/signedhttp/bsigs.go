package signedhttp

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// BSigs is the parsed content of the X-Ouinet-BSigs header: the
// block-signature parameters needed to verify the body.
type BSigs struct {
	PubKey    ed25519.PublicKey
	Algorithm string
	BlockSize int
}

// ParseBSigs parses `keyId="ed25519=<b64>",algorithm="hs2019",size=<n>`.
func ParseBSigs(value string) (BSigs, error) {
	fields := splitSignatureFields(value)

	algo := fields["algorithm"]
	if algo != "hs2019" {
		return BSigs{}, fmt.Errorf("signedhttp: unsupported BSigs algorithm %q", algo)
	}

	keyID := fields["keyid"]
	if !strings.HasPrefix(keyID, "ed25519=") {
		return BSigs{}, fmt.Errorf("signedhttp: BSigs keyId missing explicit ed25519= prefix")
	}
	pk, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(keyID, "ed25519="))
	if err != nil || len(pk) != ed25519.PublicKeySize {
		return BSigs{}, fmt.Errorf("signedhttp: bad BSigs ed25519 keyId")
	}

	sizeStr, ok := fields["size"]
	if !ok {
		return BSigs{}, fmt.Errorf("signedhttp: BSigs missing size")
	}
	size, err := strconv.Atoi(sizeStr)
	if err != nil || size <= 0 {
		return BSigs{}, fmt.Errorf("signedhttp: bad BSigs size %q", sizeStr)
	}
	if size > MaxBlockSize {
		return BSigs{}, fmt.Errorf("signedhttp: BSigs size %d exceeds max block size", size)
	}

	return BSigs{PubKey: ed25519.PublicKey(pk), Algorithm: algo, BlockSize: size}, nil
}

// String renders the BSigs header value.
func (b BSigs) String() string {
	return fmt.Sprintf(`keyId="ed25519=%s",algorithm="%s",size=%d`,
		base64.StdEncoding.EncodeToString(b.PubKey), b.Algorithm, b.BlockSize)
}

// InjectionInfo is the parsed content of X-Ouinet-Injection.
type InjectionInfo struct {
	ID        string
	Timestamp int64
}

// ParseInjection parses `id=<uuid>,ts=<unix>`.
func ParseInjection(value string) (InjectionInfo, error) {
	var out InjectionInfo
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		eq := strings.IndexByte(part, '=')
		if eq < 0 {
			continue
		}
		k, v := strings.TrimSpace(part[:eq]), strings.TrimSpace(part[eq+1:])
		switch k {
		case "id":
			out.ID = v
		case "ts":
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return InjectionInfo{}, fmt.Errorf("signedhttp: bad injection ts: %w", err)
			}
			out.Timestamp = n
		}
	}
	if out.ID == "" {
		return InjectionInfo{}, fmt.Errorf("signedhttp: injection header missing id")
	}
	return out, nil
}

// String renders the X-Ouinet-Injection header value.
func (i InjectionInfo) String() string {
	return fmt.Sprintf("id=%s,ts=%d", i.ID, i.Timestamp)
}

// NewInjection mints a fresh injection identity for a response about to
// be signed: a random UUID plus the current time, per spec §3's
// "Injection — identified by a UUID and a timestamp". The injector-side
// request pipeline that calls Sign is out of this repository's scope
// (spec §1), but the identity it needs still belongs to this package,
// the one that owns the wire format using it.
func NewInjection() InjectionInfo {
	return InjectionInfo{ID: uuid.NewString(), Timestamp: time.Now().Unix()}
}

// ChunkExts parses the `;ouisig="...";ouihash="..."` chunk extension
// string. Either field may be absent (empty return values), as is the
// case on the first chunk header of a non-resumed response.
func ChunkExts(exts string) (sig, hash []byte, err error) {
	for _, part := range strings.Split(exts, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		eq := strings.IndexByte(part, '=')
		if eq < 0 {
			continue
		}
		name := strings.TrimSpace(part[:eq])
		val := strings.Trim(strings.TrimSpace(part[eq+1:]), `"`)
		b, decErr := base64.StdEncoding.DecodeString(val)
		if decErr != nil {
			return nil, nil, fmt.Errorf("signedhttp: bad chunk ext %q: %w", name, decErr)
		}
		switch name {
		case ExtSig:
			sig = b
		case ExtHash:
			hash = b
		}
	}
	return sig, hash, nil
}

// FormatChunkExts renders the `;ouisig="...";ouihash="..."` extension
// string for a block's signature and chained digest. Either may be nil,
// in which case that extension is omitted (used for the very first chunk
// header of a non-resumed response, which describes no prior block).
func FormatChunkExts(sig, hash []byte) string {
	var sb strings.Builder
	if len(sig) > 0 {
		sb.WriteString(`;`)
		sb.WriteString(ExtSig)
		sb.WriteString(`="`)
		sb.WriteString(base64.StdEncoding.EncodeToString(sig))
		sb.WriteString(`"`)
	}
	if len(hash) > 0 {
		sb.WriteString(`;`)
		sb.WriteString(ExtHash)
		sb.WriteString(`="`)
		sb.WriteString(base64.StdEncoding.EncodeToString(hash))
		sb.WriteString(`"`)
	}
	return sb.String()
}

package signedhttp

// CurrentProtocolVersion is the cache protocol major version this package
// implements (directory layout data-v3, as named in the specification).
const CurrentProtocolVersion = 6

// MaxBlockSize is the upper bound on the signed block size accepted at
// verification time (16 MiB, per the specification's boundary property).
const MaxBlockSize = 16 * 1024 * 1024

// Header names, all in the X-Ouinet-* namespace except Digest, which is
// the standard RFC 3230 header reused for the whole-body digest.
const (
	HeaderVersion    = "X-Ouinet-Version"
	HeaderURI        = "X-Ouinet-URI"
	HeaderInjection  = "X-Ouinet-Injection"
	HeaderBSigs      = "X-Ouinet-BSigs"
	HeaderSig0       = "X-Ouinet-Sig0"
	HeaderSig1       = "X-Ouinet-Sig1"
	HeaderDataSize   = "X-Ouinet-Data-Size"
	HeaderDigest     = "Digest"
	HeaderHTTPStatus = "X-Ouinet-HTTP-Status"
	HeaderError      = "X-Ouinet-Error"
	HeaderSource     = "X-Ouinet-Source"
)

// Chunk extension names. The specification's own Open Question (§9) about
// whether these are named `ouisig`/`ouihash` or by the longer constant
// names is resolved here in favor of the short names used on the wire by
// every chunk header — both injector and client must agree, and this is
// the one place that agreement is pinned down.
const (
	ExtSig  = "ouisig"
	ExtHash = "ouihash"
)

// Source tag values for X-Ouinet-Source.
const (
	SourceOrigin     = "origin"
	SourceProxy      = "proxy"
	SourceInjector   = "injector"
	SourceDistCache  = "dist-cache"
	SourceLocalCache = "local-cache"
	SourceFrontEnd   = "front-end"
)

// Error codes for X-Ouinet-Error.
const (
	ErrCodeVersionTooLow   = 1
	ErrCodeVersionTooHigh  = 2
	ErrCodeRetrievalFailed = 3
)

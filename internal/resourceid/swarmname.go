package resourceid

import (
	"crypto/ed25519"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
)

// CurrentSwarmVersion is the "v<N>" component of a derived swarm name.
// Kept alongside signedhttp.CurrentProtocolVersion's value (6) rather
// than importing that package, since resourceid sits below signedhttp in
// the dependency graph and the two numbers are the same protocol major
// by definition — a version bump changes both together.
const CurrentSwarmVersion = 6

// SwarmName derives the DHT swarm identifier for a resource group, per
// spec §3: "ed25519:<hex-pubkey>/v<N>/uri/<group>". injectorPub is the
// injector's Ed25519 public key (the same one carried in a response's
// X-Ouinet-BSigs keyId); group is typically a host name.
func SwarmName(injectorPub ed25519.PublicKey, group string) string {
	return fmt.Sprintf("ed25519:%s/v%d/uri/%s", hex.EncodeToString(injectorPub), CurrentSwarmVersion, group)
}

// InfoHash is the SHA-1 digest of a swarm name, the reference DHT's key
// for registering/looking up peer endpoints per spec §3 and §6.4. The
// Kademlia transport this repository runs over (go-libp2p-kad-dht, see
// internal/kademlia) maps a namespace string to its own CID internally;
// InfoHash is kept for parity with the wire protocol's documented
// identifier and for any caller that needs the literal reference value.
func InfoHash(swarmName string) [sha1.Size]byte {
	return sha1.Sum([]byte(swarmName))
}

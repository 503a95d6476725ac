package httpstore

import (
	"fmt"
	"regexp"

	"github.com/equalitie/ouinet-sub000/internal/resourceid"
)

// DataDirName is the protocol v6 store directory name.
const DataDirName = "data-v3"

var (
	shardHeadRe = regexp.MustCompile(`^[0-9a-f]{2}$`)
	shardRestRe = regexp.MustCompile(`^[0-9a-f]{38}$`)
)

// ResourcePath returns the two sharded path components for a resource,
// e.g. ("ab", "cdef...") for data-v3/ab/cdef.../.
func ResourcePath(id resourceid.ResourceId) (head, rest string) {
	return id.ShardPath()
}

// ValidShardName reports whether a directory entry name is a syntactically
// valid first- or second-level shard component.
func ValidShardName(level int, name string) bool {
	switch level {
	case 0:
		return shardHeadRe.MatchString(name)
	case 1:
		return shardRestRe.MatchString(name)
	default:
		return false
	}
}

// ResourceIdFromShard reconstructs a ResourceId from its two shard path
// components, validating their syntax first.
func ResourceIdFromShard(head, rest string) (resourceid.ResourceId, error) {
	if !ValidShardName(0, head) || !ValidShardName(1, rest) {
		return resourceid.ResourceId{}, fmt.Errorf("httpstore: invalid shard name %s/%s", head, rest)
	}
	return resourceid.FromHex(head + rest)
}

const (
	headFileName     = "head"
	bodyFileName     = "body"
	sigsFileName     = "sigs"
	bodyPathFileName = "body-path"
)

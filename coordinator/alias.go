package coordinator

import (
	"strconv"

	"github.com/OneOfOne/xxhash"
)

// aliasSeed de-correlates the alias namespace from the request_id namespace
// so a compromised/leaked alias can't be walked back to a request_id by
// guessing hash inputs.
const aliasSeed = 0x444d4d5f

// genAlias derives the short SDN-facing alias token for a request from its
// request_id. Adapted from aistore's cos.HashK8sProxyID (hash the stable ID
// down to a short base36 token instead of using the ID itself on the wire).
func genAlias(requestID string) string {
	digest := xxhash.Checksum64S([]byte(requestID), aliasSeed)
	return strconv.FormatUint(digest, 36)
}

package permcache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

const keySeparator = "|"

// Key builds the cache key for a decision. The principal ID always comes
// first so Invalidate can match on prefix.
func Key(principalID, permission, fingerprint, companyID string) string {
	return strings.Join([]string{principalID, permission, fingerprint, companyID}, keySeparator)
}

// Fingerprint hashes a set of context fields into a short deterministic
// token. Empty values are skipped, so absent and empty fields fingerprint
// the same.
func Fingerprint(fields map[string]string) string {
	if len(fields) == 0 {
		return ""
	}
	names := make([]string, 0, len(fields))
	for name, v := range fields {
		if v != "" {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return ""
	}
	sort.Strings(names)

	h := sha256.New()
	for _, name := range names {
		h.Write([]byte(name))
		h.Write([]byte{0})
		h.Write([]byte(fields[name]))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)[:12])
}

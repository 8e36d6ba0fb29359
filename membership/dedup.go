package membership

import (
	"encoding/binary"
	"sort"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
)

// snapshotDedup remembers the digest of the last snapshot seen from each
// source. Peers repeat the same view every tick once the cluster is stable,
// and those repeats need no merge.
type snapshotDedup struct {
	last *lru.Cache[ManagerID, uint64]
}

// newSnapshotDedup returns nil (dedup disabled) for size <= 0.
func newSnapshotDedup(size int) (*snapshotDedup, error) {
	if size <= 0 {
		return nil, nil
	}
	cache, err := lru.New[ManagerID, uint64](size)
	if err != nil {
		return nil, err
	}
	return &snapshotDedup{last: cache}, nil
}

// repeated reports whether snap carries the same roles as the previous
// snapshot from its source, and remembers it otherwise. The timestamp is not
// part of the digest.
func (d *snapshotDedup) repeated(snap Snapshot) bool {
	if d == nil {
		return false
	}

	digest := rolesDigest(snap.Roles)
	if prev, ok := d.last.Get(snap.Source); ok && prev == digest {
		return true
	}
	d.last.Add(snap.Source, digest)
	return false
}

// rolesDigest hashes a membership view walking roles and members in sorted
// order, so two equal views hash the same regardless of map iteration order.
// Strings and sections are length prefixed.
func rolesDigest(roles map[RoleName]RoleView) uint64 {
	h := xxhash.New()
	writeLen(h, len(roles))
	for _, role := range sortedKeys(roles) {
		view := roles[role]
		writeString(h, string(role))

		writeLen(h, len(view.Managers))
		for _, id := range sortedKeys(view.Managers) {
			writeString(h, string(id))
			writeString(h, string(view.Managers[id]))
		}

		writeLen(h, len(view.Statuses))
		for _, id := range sortedKeys(view.Statuses) {
			writeString(h, string(id))
			writeString(h, string(view.Statuses[id]))
		}
	}
	return h.Sum64()
}

func writeLen(h *xxhash.Digest, n int) {
	var buf [binary.MaxVarintLen64]byte
	_, _ = h.Write(buf[:binary.PutUvarint(buf[:], uint64(n))])
}

func writeString(h *xxhash.Digest, s string) {
	writeLen(h, len(s))
	_, _ = h.WriteString(s)
}

func sortedKeys[K ~string, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

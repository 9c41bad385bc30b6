// Package fingerprint computes cheap order-independent digests of snapshot
// collections so the sync loop can tell whether anything worth syncing moved.
//
// Only the identity, the update stamp and a short set of volatile fields take
// part, so an edit that touches none of them goes unnoticed.
package fingerprint

import (
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"

	"github.com/zeebo/blake3"

	"fleetsync/internal/models"
)

// Fingerprint holds one digest per collection kind
type Fingerprint map[models.CollectionKind]string

func checksum(b []byte) string {
	sum := blake3.Sum256(b)
	return hex.EncodeToString(sum[:4])
}

// Entity renders id|stamp|checksum(volatile fields)
func Entity(e models.Entity) string {
	return e.EntityID() + "|" + e.Stamp() + "|" + checksum([]byte(e.VolatileFields()))
}

// Collection digests entities sorted by ID, independent of their order.
// Entities sharing an ID fall back to their full fingerprint.
func Collection(entities []models.Entity) string {
	type entry struct{ id, fp string }
	entries := make([]entry, len(entities))
	for i, e := range entities {
		entries[i] = entry{id: e.EntityID(), fp: Entity(e)}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].id != entries[j].id {
			return entries[i].id < entries[j].id
		}
		return entries[i].fp < entries[j].fp
	})
	parts := make([]string, len(entries))
	for i, e := range entries {
		parts[i] = e.fp
	}
	return strings.Join(parts, ";")
}

// Value digests an opaque JSON value (analytics). encoding/json sorts map
// keys, which makes the encoding canonical for maps.
func Value(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	if string(raw) == "null" || string(raw) == "{}" {
		return ""
	}
	return checksum(raw)
}

// Snapshot fingerprints every collection of s
func Snapshot(s models.Snapshot) Fingerprint {
	fp := make(Fingerprint, len(models.AllKinds))
	for _, kind := range models.AllKinds {
		fp[kind] = Kind(s, kind)
	}
	return fp
}

// Kind fingerprints a single collection of s
func Kind(s models.Snapshot, kind models.CollectionKind) string {
	if kind == models.KindAnalytics {
		return Value(s.Analytics)
	}
	return Collection(s.Entities(kind))
}

// Equal reports whether every kind has the same digest
func (f Fingerprint) Equal(other Fingerprint) bool {
	return len(Changed(f, other)) == 0
}

// Changed lists the kinds whose digest differs, in wire order
func Changed(before, after Fingerprint) []models.CollectionKind {
	var changed []models.CollectionKind
	for _, kind := range models.AllKinds {
		if before[kind] != after[kind] {
			changed = append(changed, kind)
		}
	}
	return changed
}

package rotation

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Hadi-Serhan/vwrotation/internal/vault"
)

// Policy says how often passwords should rotate and which slice of the
// vault a sweep looks at.
type Policy struct {
	Frequency   time.Duration
	Grace       time.Duration // reminder window opens this long before due
	Collections []string      // empty means all
	Users       []string      // empty means all
}

// Candidate is an item inside its reminder window or overdue.
type Candidate struct {
	Item  vault.Item
	DueAt time.Time
}

// SelectDue returns the items whose reminder window has opened:
// now >= rotation source + frequency - grace.
func SelectDue(items []vault.Item, p Policy, now time.Time) []Candidate {
	threshold := p.Frequency - p.Grace

	var due []Candidate
	for _, it := range items {
		source := it.RotationSource()
		if !now.Before(source.Add(threshold)) {
			due = append(due, Candidate{Item: it, DueAt: source.Add(p.Frequency)})
		}
	}
	return due
}

// FilterCollections keeps items belonging to at least one of the given
// collections. An empty filter keeps everything.
func FilterCollections(items []vault.Item, ids []string) []vault.Item {
	if len(ids) == 0 {
		return items
	}
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}

	var kept []vault.Item
	for _, it := range items {
		for _, cid := range it.CollectionIDs {
			if _, ok := want[cid]; ok {
				kept = append(kept, it)
				break
			}
		}
	}
	return kept
}

// FilterUsers keeps items owned by one of the given users. An empty
// filter keeps everything.
func FilterUsers(items []vault.Item, ids []string) []vault.Item {
	if len(ids) == 0 {
		return items
	}
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}

	var kept []vault.Item
	for _, it := range items {
		if _, ok := want[it.UserID]; ok {
			kept = append(kept, it)
		}
	}
	return kept
}

// Digest fingerprints a candidate set. Sweeps that find the same set
// produce the same digest regardless of item order, so unchanged
// reminders are not resent.
func Digest(cands []Candidate) string {
	lines := make([]string, 0, len(cands))
	for _, c := range cands {
		lines = append(lines, c.Item.ID+"|"+c.DueAt.UTC().Format(time.RFC3339))
	}
	sort.Strings(lines)

	sum := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(sum[:])
}

// Summary renders the policy for the notification footer.
func (p Policy) Summary() string {
	parts := []string{fmt.Sprintf("frequency %dd", int(p.Frequency.Hours()/24))}
	if p.Grace > 0 {
		parts = append(parts, fmt.Sprintf("grace %dd", int(p.Grace.Hours()/24)))
	}
	if len(p.Collections) > 0 {
		parts = append(parts, fmt.Sprintf("collections %d", len(p.Collections)))
	}
	if len(p.Users) > 0 {
		parts = append(parts, fmt.Sprintf("users %d", len(p.Users)))
	}
	return strings.Join(parts, ", ")
}

package rotation

import (
	"fmt"
	"strings"

	"github.com/Hadi-Serhan/vwrotation/internal/vault"
)

var typeLabels = map[int]string{
	1: "Login",
	2: "SecureNote",
	3: "Card",
	4: "Identity",
}

// Body renders the plaintext reminder. Deep links open the item in the
// web vault; maxLines bounds the list so a huge sweep cannot produce an
// unreadable message.
func Body(cands []Candidate, p Policy, baseURL string, maxLines int) string {
	lines := []string{
		"Hello,",
		"",
		"The following Vaultwarden entries are due for password rotation:",
		"",
	}

	base := strings.TrimRight(baseURL, "/")
	for i, c := range cands {
		if i >= maxLines {
			lines = append(lines, fmt.Sprintf("... and %d more", len(cands)-maxLines))
			break
		}

		due := c.DueAt.UTC().Format("2006-01-02 15:04 UTC")
		lines = append(lines, fmt.Sprintf("- %s (due %s)", label(c.Item), due))
		lines = append(lines, "  ID: "+c.Item.ID)
		if base != "" && c.Item.ID != "" {
			lines = append(lines, fmt.Sprintf("  Link: %s/#/vault?itemId=%s", base, c.Item.ID))
		}
	}

	lines = append(lines,
		"",
		"Policy: "+p.Summary(),
		"",
		"Please rotate these passwords at your earliest convenience.",
		"If you have already updated them, you can ignore this reminder.",
		"",
		"-- Vaultwarden",
	)
	return strings.Join(lines, "\n")
}

// label substitutes a type tag and short id for names the scheduler
// cannot read. Item names arrive encrypted when the API client has no
// org key.
func label(it vault.Item) string {
	if !looksEncrypted(it.Name) {
		return it.Name
	}
	t, ok := typeLabels[it.Type]
	if !ok {
		t = "Item"
	}
	short := it.ID
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("(%s) ID:%s", t, short)
}

// Encrypted names look like "<type>.<b64>|<b64>|<b64>" and run long.
func looksEncrypted(s string) bool {
	if s == "" {
		return false
	}
	return (strings.Contains(s, "|") && strings.Contains(s, ".")) || len(s) > 60
}

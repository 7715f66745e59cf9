package vault

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Item is the slice of a Vaultwarden cipher the scheduler cares about.
// Names stay encrypted; the scheduler never holds vault keys.
type Item struct {
	ID            string
	Name          string
	Type          int // 1 login, 2 secure note, 3 card, 4 identity
	UserID        string
	CollectionIDs []string
	RevisionDate  time.Time
	LastRotatedAt *time.Time
}

// RotationSource is the reference point rotation age is measured from:
// the recorded rotation when present, the last revision otherwise.
func (it Item) RotationSource() time.Time {
	if it.LastRotatedAt != nil {
		return *it.LastRotatedAt
	}
	return it.RevisionDate
}

type cipherPayload struct {
	ID                   string   `json:"id"`
	Name                 string   `json:"name"`
	Type                 int      `json:"type"`
	UserID               string   `json:"userId"`
	OrganizationID       string   `json:"organizationId"`
	CollectionID         string   `json:"collectionId"`
	CollectionIDs        []string `json:"collectionIds"`
	RevisionDate         string   `json:"revisionDate"`
	PasswordRotation     string   `json:"passwordRotation"`
	LastPasswordRotation string   `json:"lastPasswordRotation"`
}

// decodeCipherList tolerates both response shapes Vaultwarden has
// shipped: {"data": [...]} and the bare array.
func decodeCipherList(body []byte) ([]cipherPayload, error) {
	var wrapped struct {
		Data []cipherPayload `json:"data"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil && wrapped.Data != nil {
		return wrapped.Data, nil
	}
	var bare []cipherPayload
	if err := json.Unmarshal(body, &bare); err == nil {
		return bare, nil
	}
	return nil, errors.New("unexpected response shape from /api/ciphers")
}

func itemFromPayload(p cipherPayload) Item {
	name := p.Name
	if name == "" {
		name = p.OrganizationID
	}
	if name == "" {
		name = "Unnamed entry"
	}

	revision, ok := parseTimestamp(p.RevisionDate)
	if !ok {
		revision = time.Now().UTC()
	}

	var lastRotated *time.Time
	if t, ok := parseTimestamp(p.PasswordRotation); ok {
		lastRotated = &t
	} else if t, ok := parseTimestamp(p.LastPasswordRotation); ok {
		lastRotated = &t
	}

	collections := p.CollectionIDs
	if len(collections) == 0 && p.CollectionID != "" {
		collections = []string{p.CollectionID}
	}

	return Item{
		ID:            p.ID,
		Name:          name,
		Type:          p.Type,
		UserID:        p.UserID,
		CollectionIDs: collections,
		RevisionDate:  revision,
		LastRotatedAt: lastRotated,
	}
}

var timestampFormats = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// parseTimestamp tolerates the timestamp shapes Vaultwarden has shipped:
// RFC 3339 with or without a zone, plus a space-separated variant.
// Zoneless values are taken as UTC.
func parseTimestamp(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampFormats {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

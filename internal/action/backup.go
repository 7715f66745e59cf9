package action

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Hadi-Serhan/vwrotation/internal/vault"
)

// CipherLister is the slice of the API client the backup needs.
type CipherLister interface {
	ListCiphers(ctx context.Context) ([]vault.Item, error)
}

// Backup snapshots cipher metadata to a timestamped JSON file. Item
// names stay encrypted in the snapshot; this is an inventory for
// disaster checks, not a vault export. Params: dir and keep override
// the configured values.
type Backup struct {
	client CipherLister
	dir    string
	keep   int
	logger *slog.Logger
}

func NewBackup(client CipherLister, dir string, keep int, logger *slog.Logger) *Backup {
	return &Backup{
		client: client,
		dir:    dir,
		keep:   keep,
		logger: logger.With("action", "vault-backup"),
	}
}

func (b *Backup) Invoke(ctx context.Context, params Params) error {
	dir := b.dir
	if v := params["dir"]; v != "" {
		dir = v
	}
	if dir == "" {
		return errors.New("backup: no directory configured")
	}

	keep := b.keep
	if v := params["keep"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return fmt.Errorf("backup: invalid keep param %q", v)
		}
		keep = n
	}

	items, err := b.client.ListCiphers(ctx)
	if err != nil {
		return fmt.Errorf("list ciphers: %w", err)
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create backup dir: %w", err)
	}

	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	name := fmt.Sprintf("vault-%s.json", time.Now().UTC().Format("20060102T150405Z"))
	path := filepath.Join(dir, name)

	// Write-then-rename so a crash mid-write never leaves a truncated
	// snapshot with a valid name.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("finalize snapshot: %w", err)
	}

	b.logger.InfoContext(ctx, "wrote vault snapshot", "path", path, "items", len(items))

	if keep > 0 {
		b.prune(ctx, dir, keep)
	}
	return nil
}

// prune drops the oldest snapshots beyond keep. Best effort: a failed
// prune never fails the run that just produced a good snapshot.
func (b *Backup) prune(ctx context.Context, dir string, keep int) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		b.logger.WarnContext(ctx, "prune snapshots", "error", err)
		return
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "vault-") && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	if len(names) <= keep {
		return
	}

	// Timestamped names sort chronologically.
	sort.Strings(names)
	for _, name := range names[:len(names)-keep] {
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			b.logger.WarnContext(ctx, "prune snapshot", "name", name, "error", err)
		}
	}
}

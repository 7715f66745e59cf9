package action_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Hadi-Serhan/vwrotation/internal/action"
	"github.com/Hadi-Serhan/vwrotation/internal/vault"
)

// ---- fixtures ----

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, nil))

type fakeLister struct {
	listCiphers func(ctx context.Context) ([]vault.Item, error)
}

func (f *fakeLister) ListCiphers(ctx context.Context) ([]vault.Item, error) {
	return f.listCiphers(ctx)
}

func twoItems() *fakeLister {
	return &fakeLister{
		listCiphers: func(context.Context) ([]vault.Item, error) {
			return []vault.Item{
				{ID: "a", Name: "2.knW5Tg==|aGVsbG8=|c2ln", Type: 1, UserID: "u1"},
				{ID: "b", Name: "2.dGVzdA==|d29ybGQ=|c2ln", Type: 2, UserID: "u1"},
			}, nil
		},
	}
}

func snapshots(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read backup dir: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func seedSnapshot(t *testing.T, dir, name string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte("[]"), 0o600); err != nil {
		t.Fatalf("seed %s: %v", name, err)
	}
}

// ---- tests ----

func TestBackup_WritesSnapshot(t *testing.T) {
	dir := t.TempDir()
	b := action.NewBackup(twoItems(), dir, 0, testLogger)

	if err := b.Invoke(context.Background(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	names := snapshots(t, dir)
	if len(names) != 1 {
		t.Fatalf("dir holds %v, want exactly one snapshot", names)
	}
	name := names[0]
	if !strings.HasPrefix(name, "vault-") || !strings.HasSuffix(name, ".json") {
		t.Errorf("snapshot name = %q", name)
	}

	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	var items []vault.Item
	if err := json.Unmarshal(data, &items); err != nil {
		t.Fatalf("snapshot is not valid JSON: %v", err)
	}
	if len(items) != 2 || items[0].ID != "a" {
		t.Errorf("snapshot items = %+v", items)
	}
	// The name must remain ciphertext; a snapshot never plaintexts the vault.
	if !strings.HasPrefix(items[0].Name, "2.") {
		t.Errorf("snapshot name field = %q, want encrypted form", items[0].Name)
	}
}

func TestBackup_PrunesOldestBeyondKeep(t *testing.T) {
	dir := t.TempDir()
	seedSnapshot(t, dir, "vault-20240101T000000Z.json")
	seedSnapshot(t, dir, "vault-20240601T000000Z.json")
	seedSnapshot(t, dir, "vault-20250101T000000Z.json")
	seedSnapshot(t, dir, "vault-20250601T000000Z.json")
	seedSnapshot(t, dir, "unrelated.txt")

	b := action.NewBackup(twoItems(), dir, 3, testLogger)
	if err := b.Invoke(context.Background(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	names := snapshots(t, dir)
	var kept []string
	for _, n := range names {
		if strings.HasPrefix(n, "vault-") {
			kept = append(kept, n)
		}
	}
	if len(kept) != 3 {
		t.Fatalf("kept %v, want the newest 3", kept)
	}
	for _, n := range kept {
		if n == "vault-20240101T000000Z.json" || n == "vault-20240601T000000Z.json" {
			t.Errorf("oldest snapshot %s survived the prune", n)
		}
	}
	found := false
	for _, n := range names {
		if n == "unrelated.txt" {
			found = true
		}
	}
	if !found {
		t.Error("prune removed a file that is not a snapshot")
	}
}

func TestBackup_ParamsOverrideDirAndKeep(t *testing.T) {
	configured := t.TempDir()
	override := t.TempDir()
	seedSnapshot(t, override, "vault-20250101T000000Z.json")

	b := action.NewBackup(twoItems(), configured, 14, testLogger)
	params := action.Params{"dir": override, "keep": "1"}
	if err := b.Invoke(context.Background(), params); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := snapshots(t, configured); len(got) != 0 {
		t.Errorf("configured dir received %v despite override", got)
	}
	got := snapshots(t, override)
	if len(got) != 1 || got[0] == "vault-20250101T000000Z.json" {
		t.Errorf("override dir holds %v, want only the fresh snapshot", got)
	}
}

func TestBackup_InvalidKeepParam(t *testing.T) {
	calls := 0
	lister := &fakeLister{
		listCiphers: func(context.Context) ([]vault.Item, error) {
			calls++
			return nil, nil
		},
	}

	b := action.NewBackup(lister, t.TempDir(), 14, testLogger)
	err := b.Invoke(context.Background(), action.Params{"keep": "many"})
	if err == nil {
		t.Fatal("want error for unparseable keep")
	}
	if calls != 0 {
		t.Error("vault queried before params validated")
	}
}

func TestBackup_NoDirConfigured(t *testing.T) {
	b := action.NewBackup(twoItems(), "", 14, testLogger)
	if err := b.Invoke(context.Background(), nil); err == nil {
		t.Fatal("want error when no directory is configured")
	}
}

func TestBackup_ListError(t *testing.T) {
	sentinel := errors.New("vault unreachable")
	lister := &fakeLister{
		listCiphers: func(context.Context) ([]vault.Item, error) { return nil, sentinel },
	}

	b := action.NewBackup(lister, t.TempDir(), 0, testLogger)
	err := b.Invoke(context.Background(), nil)
	if !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want the lister error wrapped", err)
	}
}

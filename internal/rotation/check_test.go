package rotation_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/Hadi-Serhan/vwrotation/internal/action"
	"github.com/Hadi-Serhan/vwrotation/internal/rotation"
	"github.com/Hadi-Serhan/vwrotation/internal/vault"
)

// ---- fakes ----

type fakeVault struct {
	listCiphers      func(ctx context.Context) ([]vault.Item, error)
	resolveUserEmail func(ctx context.Context, userID string) (string, error)
}

func (f *fakeVault) ListCiphers(ctx context.Context) ([]vault.Item, error) {
	return f.listCiphers(ctx)
}

func (f *fakeVault) ResolveUserEmail(ctx context.Context, userID string) (string, error) {
	return f.resolveUserEmail(ctx, userID)
}

type sentMail struct {
	to      []string
	subject string
	body    string
}

type fakeSender struct {
	err  error
	sent []sentMail
}

func (f *fakeSender) Send(_ context.Context, to []string, subject, body string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMail{to: to, subject: subject, body: body})
	return nil
}

type fakeState struct {
	get func(ctx context.Context, key string) (string, error)
	put func(ctx context.Context, key, value string) error
}

func (f *fakeState) GetState(ctx context.Context, key string) (string, error) {
	return f.get(ctx, key)
}

func (f *fakeState) PutState(ctx context.Context, key, value string) error {
	return f.put(ctx, key, value)
}

// ---- helpers ----

func memState() (*fakeState, map[string]string) {
	m := make(map[string]string)
	return &fakeState{
		get: func(_ context.Context, key string) (string, error) { return m[key], nil },
		put: func(_ context.Context, key, value string) error { m[key] = value; return nil },
	}, m
}

func newCheck(v *fakeVault, s *fakeSender, st *fakeState, cfg rotation.CheckConfig) *rotation.Check {
	if cfg.Policy.Frequency == 0 {
		cfg.Policy = ninetyDays
	}
	if cfg.MaxLines == 0 {
		cfg.MaxLines = 50
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	return rotation.NewCheck(v, s, st, cfg, logger)
}

func dueVault(items ...vault.Item) *fakeVault {
	return &fakeVault{
		listCiphers: func(_ context.Context) ([]vault.Item, error) { return items, nil },
		resolveUserEmail: func(_ context.Context, _ string) (string, error) {
			return "", errors.New("not wired in this test")
		},
	}
}

func dueItem(id, userID string) vault.Item {
	rotated := time.Now().UTC().Add(-120 * 24 * time.Hour)
	return vault.Item{ID: id, Name: id, Type: 1, UserID: userID, RevisionDate: rotated, LastRotatedAt: &rotated}
}

func freshItem(id string) vault.Item {
	rotated := time.Now().UTC().Add(-24 * time.Hour)
	return vault.Item{ID: id, Name: id, Type: 1, UserID: "u1", RevisionDate: rotated, LastRotatedAt: &rotated}
}

// ---- digest mode ----

func TestInvoke_NoCandidates_NoSend(t *testing.T) {
	sender := &fakeSender{}
	st, _ := memState()
	check := newCheck(dueVault(freshItem("a")), sender, st, rotation.CheckConfig{
		Recipients: []string{"admin@example.com"},
		Digest:     true,
	})

	if err := check.Invoke(context.Background(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sender.sent) != 0 {
		t.Errorf("sent %d notices with nothing due, want 0", len(sender.sent))
	}
}

func TestInvoke_DigestMode_SendsOncePerCandidateSet(t *testing.T) {
	sender := &fakeSender{}
	st, stored := memState()
	check := newCheck(dueVault(dueItem("item-1", "u1")), sender, st, rotation.CheckConfig{
		BaseURL:    "https://vault.example.com",
		Recipients: []string{"admin@example.com"},
		Digest:     true,
	})

	if err := check.Invoke(context.Background(), nil); err != nil {
		t.Fatalf("first sweep: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("sent %d notices, want 1", len(sender.sent))
	}
	mail := sender.sent[0]
	if mail.to[0] != "admin@example.com" {
		t.Errorf("recipient = %v, want configured admin", mail.to)
	}
	if mail.subject != "Vaultwarden password rotation reminder" {
		t.Errorf("subject = %q", mail.subject)
	}
	if !strings.Contains(mail.body, "item-1") {
		t.Errorf("body missing candidate:\n%s", mail.body)
	}
	if stored["rotation.digest"] == "" {
		t.Error("digest not persisted after a successful send")
	}

	// Same candidate set again: no resend.
	if err := check.Invoke(context.Background(), nil); err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Errorf("unchanged set resent the notice, %d sends total", len(sender.sent))
	}
}

func TestInvoke_StateReadError_StillSends(t *testing.T) {
	sender := &fakeSender{}
	st := &fakeState{
		get: func(_ context.Context, _ string) (string, error) { return "", errors.New("ledger down") },
		put: func(_ context.Context, _, _ string) error { return errors.New("ledger down") },
	}
	check := newCheck(dueVault(dueItem("item-1", "u1")), sender, st, rotation.CheckConfig{
		Recipients: []string{"admin@example.com"},
		Digest:     true,
	})

	if err := check.Invoke(context.Background(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Errorf("sent %d notices with unreadable state, want 1 (duplicate beats dropped)", len(sender.sent))
	}
}

func TestInvoke_SendFailure_FailsTheRun(t *testing.T) {
	sender := &fakeSender{err: errors.New("rate limited")}
	st, stored := memState()
	check := newCheck(dueVault(dueItem("item-1", "u1")), sender, st, rotation.CheckConfig{
		Recipients: []string{"admin@example.com"},
		Digest:     true,
	})

	if err := check.Invoke(context.Background(), nil); err == nil {
		t.Fatal("failed send must fail the run so it retries")
	}
	if stored["rotation.digest"] != "" {
		t.Error("digest persisted despite the failed send; the retry would be skipped")
	}
}

func TestInvoke_DryRun_NoSend(t *testing.T) {
	sender := &fakeSender{}
	st, _ := memState()
	check := newCheck(dueVault(dueItem("item-1", "u1")), sender, st, rotation.CheckConfig{
		Recipients: []string{"admin@example.com"},
		Digest:     true,
		DryRun:     true,
	})

	if err := check.Invoke(context.Background(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sender.sent) != 0 {
		t.Errorf("dry run sent %d notices, want 0", len(sender.sent))
	}
}

func TestInvoke_NoRecipients_DigestDropped(t *testing.T) {
	sender := &fakeSender{}
	st, _ := memState()
	check := newCheck(dueVault(dueItem("item-1", "u1")), sender, st, rotation.CheckConfig{Digest: true})

	if err := check.Invoke(context.Background(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sender.sent) != 0 {
		t.Errorf("sent %d notices with no recipients, want 0", len(sender.sent))
	}
}

// ---- grouped mode ----

func TestInvoke_GroupedMode_OneNoticePerOwner(t *testing.T) {
	items := []vault.Item{dueItem("a1", "u1"), dueItem("a2", "u1"), dueItem("b1", "u2"), dueItem("c1", "u3")}
	v := &fakeVault{
		listCiphers: func(_ context.Context) ([]vault.Item, error) { return items, nil },
		resolveUserEmail: func(_ context.Context, userID string) (string, error) {
			switch userID {
			case "u1":
				return "alice@example.com", nil
			case "u2":
				return "bob@example.com", nil
			default:
				return "", errors.New("membership lookup failed")
			}
		},
	}
	sender := &fakeSender{}
	st, _ := memState()
	check := newCheck(v, sender, st, rotation.CheckConfig{})

	if err := check.Invoke(context.Background(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sender.sent) != 2 {
		t.Fatalf("sent %d notices, want one per resolvable owner", len(sender.sent))
	}

	byOwner := map[string]string{}
	for _, mail := range sender.sent {
		byOwner[mail.to[0]] = mail.body
	}
	if body := byOwner["alice@example.com"]; !strings.Contains(body, "a1") || !strings.Contains(body, "a2") || strings.Contains(body, "b1") {
		t.Errorf("alice's notice has the wrong items:\n%s", body)
	}
	if body := byOwner["bob@example.com"]; !strings.Contains(body, "b1") || strings.Contains(body, "a1") {
		t.Errorf("bob's notice has the wrong items:\n%s", body)
	}
}

// ---- param overrides ----

func TestInvoke_ParamOverrides_ShrinkWindow(t *testing.T) {
	// 50 days old: not due under the 90-day default, due under 30 days.
	rotated := time.Now().UTC().Add(-50 * 24 * time.Hour)
	item := vault.Item{ID: "it", Name: "it", Type: 1, UserID: "u1", RevisionDate: rotated, LastRotatedAt: &rotated}

	sender := &fakeSender{}
	st, _ := memState()
	check := newCheck(dueVault(item), sender, st, rotation.CheckConfig{
		Recipients: []string{"admin@example.com"},
		Digest:     true,
	})

	params := action.Params{"frequency_days": "30", "grace_days": "0"}
	if err := check.Invoke(context.Background(), params); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Errorf("sent %d notices, want the override to open the window", len(sender.sent))
	}
}

func TestInvoke_MalformedOverride_FailsBeforeTheSweep(t *testing.T) {
	listed := false
	v := &fakeVault{
		listCiphers: func(_ context.Context) ([]vault.Item, error) {
			listed = true
			return nil, nil
		},
		resolveUserEmail: func(_ context.Context, _ string) (string, error) { return "", nil },
	}
	st, _ := memState()
	check := newCheck(v, &fakeSender{}, st, rotation.CheckConfig{Digest: true})

	err := check.Invoke(context.Background(), action.Params{"frequency_days": "ninety"})
	if err == nil {
		t.Fatal("malformed override must fail the run")
	}
	if listed {
		t.Error("sweep ran despite the bad override")
	}
}

func TestInvoke_VaultError_Propagates(t *testing.T) {
	vaultErr := errors.New("bad gateway")
	v := &fakeVault{
		listCiphers:      func(_ context.Context) ([]vault.Item, error) { return nil, vaultErr },
		resolveUserEmail: func(_ context.Context, _ string) (string, error) { return "", nil },
	}
	st, _ := memState()
	check := newCheck(v, &fakeSender{}, st, rotation.CheckConfig{Digest: true})

	if err := check.Invoke(context.Background(), nil); !errors.Is(err, vaultErr) {
		t.Errorf("want wrapped vault error, got %v", err)
	}
}

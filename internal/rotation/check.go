package rotation

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/Hadi-Serhan/vwrotation/internal/action"
	"github.com/Hadi-Serhan/vwrotation/internal/metrics"
	"github.com/Hadi-Serhan/vwrotation/internal/notify"
	"github.com/Hadi-Serhan/vwrotation/internal/vault"
)

// digestStateKey holds the fingerprint of the last notified candidate
// set in the ledger's state area, surviving restarts.
const digestStateKey = "rotation.digest"

// CheckConfig carries the sweep settings that come from the environment.
// Per-job params can override the policy fields.
type CheckConfig struct {
	Policy        Policy
	BaseURL       string   // web vault base, for deep links
	Recipients    []string // digest mode recipients
	SubjectPrefix string
	MaxLines      int
	Digest        bool // one digest per sweep vs per-owner grouping
	DryRun        bool
}

// Vault is the slice of the API client the sweep needs.
type Vault interface {
	ListCiphers(ctx context.Context) ([]vault.Item, error)
	ResolveUserEmail(ctx context.Context, userID string) (string, error)
}

// StateStore remembers the last notified candidate set across restarts.
// The run ledger provides it.
type StateStore interface {
	GetState(ctx context.Context, key string) (string, error)
	PutState(ctx context.Context, key, value string) error
}

// Check sweeps the vault for passwords due to rotate and sends a
// reminder when the candidate set changed since the last notice.
type Check struct {
	client Vault
	sender notify.Sender
	state  StateStore
	cfg    CheckConfig
	logger *slog.Logger
}

func NewCheck(client Vault, sender notify.Sender, state StateStore, cfg CheckConfig, logger *slog.Logger) *Check {
	return &Check{
		client: client,
		sender: sender,
		state:  state,
		cfg:    cfg,
		logger: logger.With("action", "rotation-check"),
	}
}

func (c *Check) Invoke(ctx context.Context, params action.Params) error {
	policy, err := c.policyFor(params)
	if err != nil {
		return err
	}

	items, err := c.client.ListCiphers(ctx)
	if err != nil {
		return fmt.Errorf("list ciphers: %w", err)
	}

	items = FilterCollections(items, policy.Collections)
	items = FilterUsers(items, policy.Users)

	cands := SelectDue(items, policy, time.Now().UTC())
	metrics.RotationCandidates.Set(float64(len(cands)))
	c.logger.InfoContext(ctx, "rotation sweep finished", "items", len(items), "due", len(cands))

	if len(cands) == 0 {
		return nil
	}
	if c.cfg.DryRun {
		c.logger.InfoContext(ctx, "dry run, skipping notifications", "due", len(cands))
		return nil
	}

	if c.cfg.Digest {
		return c.sendDigest(ctx, cands, policy)
	}
	return c.sendGrouped(ctx, cands, policy)
}

func (c *Check) sendDigest(ctx context.Context, cands []Candidate, policy Policy) error {
	if len(c.cfg.Recipients) == 0 {
		c.logger.WarnContext(ctx, "no recipients configured, dropping rotation notice", "due", len(cands))
		return nil
	}

	digest := Digest(cands)
	prev, err := c.state.GetState(ctx, digestStateKey)
	if err != nil {
		// Better a duplicate reminder than a dropped one.
		c.logger.WarnContext(ctx, "read digest state, sending anyway", "error", err)
	} else if prev == digest {
		metrics.NotificationsTotal.WithLabelValues("skipped").Inc()
		c.logger.InfoContext(ctx, "candidate set unchanged, not resending", "due", len(cands))
		return nil
	}

	body := Body(cands, policy, c.cfg.BaseURL, c.cfg.MaxLines)
	if err := c.sender.Send(ctx, c.cfg.Recipients, c.subject(), body); err != nil {
		metrics.NotificationsTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("send rotation notice: %w", err)
	}
	metrics.NotificationsTotal.WithLabelValues("sent").Inc()
	c.logger.InfoContext(ctx, "sent rotation notice", "recipients", len(c.cfg.Recipients), "due", len(cands))

	if err := c.state.PutState(ctx, digestStateKey, digest); err != nil {
		c.logger.WarnContext(ctx, "persist digest state", "error", err)
	}
	return nil
}

// sendGrouped resolves each item's owner and sends one notice per owner.
// Owners that cannot be resolved are skipped, not failed: one broken
// membership must not silence everyone else's reminder.
func (c *Check) sendGrouped(ctx context.Context, cands []Candidate, policy Policy) error {
	groups := make(map[string][]Candidate)
	for _, cand := range cands {
		email, err := c.client.ResolveUserEmail(ctx, cand.Item.UserID)
		if err != nil {
			c.logger.WarnContext(ctx, "resolve owner email", "item_id", cand.Item.ID, "error", err)
			continue
		}
		if email == "" {
			continue
		}
		groups[email] = append(groups[email], cand)
	}
	if len(groups) == 0 {
		return nil
	}

	var firstErr error
	for email, group := range groups {
		body := Body(group, policy, c.cfg.BaseURL, c.cfg.MaxLines)
		if err := c.sender.Send(ctx, []string{email}, c.subject(), body); err != nil {
			metrics.NotificationsTotal.WithLabelValues("failed").Inc()
			c.logger.ErrorContext(ctx, "send rotation notice", "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		metrics.NotificationsTotal.WithLabelValues("sent").Inc()
	}
	return firstErr
}

func (c *Check) subject() string {
	prefix := c.cfg.SubjectPrefix
	if prefix == "" {
		prefix = "Vaultwarden"
	}
	return prefix + " password rotation reminder"
}

// policyFor applies per-job overrides from the registry on top of the
// configured policy. Malformed overrides fail the run so the typo shows
// up in the ledger instead of silently changing the sweep.
func (c *Check) policyFor(params action.Params) (Policy, error) {
	p := c.cfg.Policy

	if v := params["frequency_days"]; v != "" {
		days, err := strconv.Atoi(v)
		if err != nil || days <= 0 {
			return Policy{}, fmt.Errorf("invalid frequency_days param %q", v)
		}
		p.Frequency = time.Duration(days) * 24 * time.Hour
	}
	if v := params["grace_days"]; v != "" {
		days, err := strconv.Atoi(v)
		if err != nil || days < 0 {
			return Policy{}, fmt.Errorf("invalid grace_days param %q", v)
		}
		p.Grace = time.Duration(days) * 24 * time.Hour
	}
	if v := params["collections"]; v != "" {
		p.Collections = splitCSV(v)
	}
	if v := params["users"]; v != "" {
		p.Users = splitCSV(v)
	}
	return p, nil
}

func splitCSV(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

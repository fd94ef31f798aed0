// Package monitor computes password-health statistics over the local item
// cache and checks addresses against known breaches.
package monitor

import (
	"context"
	"fmt"
	"sync/atomic"
	"unicode"

	"passvault.dev/passvault/internal/broadcast"
	"passvault.dev/passvault/internal/client/items"
	"passvault.dev/passvault/internal/client/keys"
	"passvault.dev/passvault/internal/logging"
)

// SecurityStats summarizes the health of the user's active log-in items.
type SecurityStats struct {
	TotalLogins     int
	WeakPasswords   int
	ReusedPasswords int
	MissingTOTP     int
}

// Breach is one known exposure of an address.
type Breach struct {
	ID           string
	Name         string
	Email        string
	ExposedData  []string
	PublishedAt  int64
	ResolvedFlag bool
}

// Remote checks addresses against the breach database.
type Remote interface {
	BreachesForEmail(ctx context.Context, email string) ([]Breach, error)
}

// Monitor recomputes security stats on demand and replays the latest result.
type Monitor struct {
	itemsRepo   items.Repository
	remote      Remote
	symProvider keys.SymmetricKeyProvider
	log         logging.Logger

	stats      *broadcast.Value[SecurityStats]
	generation atomic.Uint64
}

func New(itemsRepo items.Repository, remote Remote, symProvider keys.SymmetricKeyProvider, log logging.Logger) *Monitor {
	return &Monitor{
		itemsRepo:   itemsRepo,
		remote:      remote,
		symProvider: symProvider,
		log:         log,
		stats:       broadcast.NewValue(SecurityStats{}),
	}
}

// Stats replays the most recently computed statistics.
func (m *Monitor) Stats() *broadcast.Value[SecurityStats] {
	return m.stats
}

// Refresh recomputes the statistics over all active log-in items. A cancelled
// context ends the computation early without error; a refresh superseded by a
// newer one discards its result.
func (m *Monitor) Refresh(ctx context.Context, userID string) error {
	gen := m.generation.Add(1)

	logins, err := m.itemsRepo.GetActiveLogInItems(ctx, userID)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	symKey, err := m.symProvider.SymmetricKey(ctx)
	if err != nil {
		return err
	}

	stats := SecurityStats{TotalLogins: len(logins)}
	passwordUses := make(map[string]int)

	for i := range logins {
		if ctx.Err() != nil {
			return nil
		}
		content, err := logins[i].Content(symKey)
		if err != nil {
			return err
		}
		if content.Login == nil {
			continue
		}
		if content.Login.Password != "" {
			passwordUses[content.Login.Password]++
			if isWeakPassword(content.Login.Password) {
				stats.WeakPasswords++
			}
		}
		if content.Login.TOTPURI == "" {
			stats.MissingTOTP++
		}
	}
	for _, uses := range passwordUses {
		if uses > 1 {
			stats.ReusedPasswords += uses
		}
	}

	if m.generation.Load() != gen {
		return nil
	}
	m.stats.Send(stats)
	m.log.Debug(ctx, "refreshed security stats",
		"logins", stats.TotalLogins, "weak", stats.WeakPasswords, "reused", stats.ReusedPasswords)
	return nil
}

// BreachesForEmail checks one address. Unlike Refresh, cancellation here is
// an error: the caller asked for a definite answer.
func (m *Monitor) BreachesForEmail(ctx context.Context, email string) ([]Breach, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	breaches, err := m.remote.BreachesForEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to check breaches: %w", err)
	}
	return breaches, nil
}

// isWeakPassword applies a coarse length-and-classes heuristic: anything
// under 12 characters, or under 16 with fewer than three character classes,
// counts as weak.
func isWeakPassword(password string) bool {
	if len(password) < 12 {
		return true
	}
	if len(password) >= 16 {
		return false
	}
	var lower, upper, digit, other bool
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		default:
			other = true
		}
	}
	classes := 0
	for _, ok := range []bool{lower, upper, digit, other} {
		if ok {
			classes++
		}
	}
	return classes < 3
}

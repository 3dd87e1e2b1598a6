package follow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"sky-agent/internal/core/domain"
	"sky-agent/internal/core/ports"
)

// Filter decides whether a suggested account should be followed.
type Filter struct {
	terms []string
	// ExcludeUnfollowed blocks any account with a ledger row, not only active ones.
	ExcludeUnfollowed bool
	Ledger            ports.Ledger
	Logger            *slog.Logger
}

func NewFilter(terms []string, excludeUnfollowed bool, ledger ports.Ledger, logger *slog.Logger) *Filter {
	lowered := make([]string, 0, len(terms))
	for _, t := range terms {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			lowered = append(lowered, t)
		}
	}
	return &Filter{terms: lowered, ExcludeUnfollowed: excludeUnfollowed, Ledger: ledger, Logger: logger}
}

// IsEligible fails closed: any error or panic during evaluation means false.
func (f *Filter) IsEligible(ctx context.Context, acct domain.Account) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			f.Logger.Error("error checking criteria", "account", acct.ID, "handle", acct.Handle, "panic", fmt.Sprint(r))
			ok = false
		}
	}()

	if !f.MatchesHandle(acct.Handle) {
		return false
	}

	var blocked bool
	var err error
	if f.ExcludeUnfollowed {
		blocked, err = f.Ledger.HasRecord(ctx, acct.ID)
	} else {
		blocked, err = f.Ledger.IsActive(ctx, acct.ID)
	}
	if err != nil {
		f.Logger.Error("error checking criteria", "account", acct.ID, "handle", acct.Handle, "error", err)
		return false
	}
	return !blocked
}

func (f *Filter) MatchesHandle(handle string) bool {
	h := strings.ToLower(handle)
	for _, t := range f.terms {
		if strings.Contains(h, t) {
			return true
		}
	}
	return false
}

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/rules"
)

// RuleLister reads posting rules.
type RuleLister interface {
	List(ctx context.Context, filter rules.ListFilter) ([]rules.PostingRule, error)
}

// RulesListOptions controls the rules list output.
type RulesListOptions struct {
	EventType  string
	ActiveOnly bool
	JSONOutput bool
	Stdout     io.Writer
}

// ListRules prints posting rules with their line templates.
func ListRules(ctx context.Context, store RuleLister, opts RulesListOptions) error {
	list, err := store.List(ctx, rules.ListFilter{EventType: opts.EventType, ActiveOnly: opts.ActiveOnly})
	if err != nil {
		return err
	}
	if opts.JSONOutput {
		enc := json.NewEncoder(opts.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	}
	tw := tabwriter.NewWriter(opts.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tEVENT TYPE\tACTIVE\tMODULE\tLINES")
	for _, r := range list {
		parts := make([]string, 0, len(r.Lines))
		for _, l := range r.Lines {
			parts = append(parts, fmt.Sprintf("%s %d <- %s", l.Side, l.AccountID, l.AmountKey))
		}
		fmt.Fprintf(tw, "%d\t%s\t%t\t%s\t%s\n", r.ID, r.EventType, r.IsActive, r.Module, strings.Join(parts, "; "))
	}
	return tw.Flush()
}

// PeriodLocker locks and unlocks accounting periods.
type PeriodLocker interface {
	Lock(ctx context.Context, id, actorID int64, notes string) (periods.Period, error)
	Unlock(ctx context.Context, id, actorID int64) (periods.Period, error)
}

// SetPeriodLock locks (lock=true) or unlocks period id and prints the result.
func SetPeriodLock(ctx context.Context, svc PeriodLocker, id, actorID int64, lock bool, notes string, out io.Writer) error {
	var (
		p   periods.Period
		err error
	)
	if lock {
		p, err = svc.Lock(ctx, id, actorID, notes)
	} else {
		p, err = svc.Unlock(ctx, id, actorID)
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "period %d (%s, %s..%s) is %s\n", p.ID, p.Name,
		p.StartDate.Format("2006-01-02"), p.EndDate.Format("2006-01-02"), p.Status)
	return err
}

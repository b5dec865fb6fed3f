package rules

import (
	"errors"
	"time"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
)

// ErrDuplicateActiveRule indicates another active rule already serves the event type.
var ErrDuplicateActiveRule = errors.New("accounting: active posting rule already exists for event type")

// PostingRule maps an event type to the lines of the journal entry it produces.
type PostingRule struct {
	ID          int64             `json:"id"`
	EventType   string            `json:"event_type"`
	Description string            `json:"description"`
	Module      string            `json:"module"`
	IsActive    bool              `json:"is_active"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	Lines       []PostingRuleLine `json:"lines"`
}

// PostingRuleLine is one line template of a rule.
type PostingRuleLine struct {
	ID                  int64           `json:"id"`
	RuleID              int64           `json:"rule_id"`
	LineNo              int             `json:"line_no"`
	AccountID           int64           `json:"account_id"`
	Side                accounting.Side `json:"side"`
	AmountKey           string          `json:"amount_key"`
	DescriptionTemplate string          `json:"description_template"`
}

// AccountIDs lists the distinct accounts referenced by the rule.
func (r PostingRule) AccountIDs() []int64 {
	seen := make(map[int64]struct{}, len(r.Lines))
	ids := make([]int64, 0, len(r.Lines))
	for _, l := range r.Lines {
		if _, ok := seen[l.AccountID]; ok {
			continue
		}
		seen[l.AccountID] = struct{}{}
		ids = append(ids, l.AccountID)
	}
	return ids
}

// LineInput describes a rule line for authoring.
type LineInput struct {
	AccountID           int64           `json:"account_id" validate:"required,gt=0"`
	Side                accounting.Side `json:"side" validate:"required,oneof=DEBIT CREDIT"`
	AmountKey           string          `json:"amount_key" validate:"required"`
	DescriptionTemplate string          `json:"description_template"`
}

// RuleInput captures a rule definition for create and update.
type RuleInput struct {
	EventType   string      `json:"event_type" validate:"required,max=128"`
	Description string      `json:"description"`
	Module      string      `json:"module" validate:"max=64"`
	IsActive    bool        `json:"is_active"`
	Lines       []LineInput `json:"lines" validate:"min=2,dive"`
	// SamplePayload, when present, is run through the journal builder and
	// must produce a balanced entry.
	SamplePayload map[string]any `json:"sample_payload,omitempty"`
}

// ListFilter narrows rule listings.
type ListFilter struct {
	EventType  string
	ActiveOnly bool
}

func linesFromInput(in []LineInput) []PostingRuleLine {
	out := make([]PostingRuleLine, 0, len(in))
	for i, l := range in {
		out = append(out, PostingRuleLine{
			LineNo:              i + 1,
			AccountID:           l.AccountID,
			Side:                l.Side,
			AmountKey:           l.AmountKey,
			DescriptionTemplate: l.DescriptionTemplate,
		})
	}
	return out
}

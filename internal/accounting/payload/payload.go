// Package payload resolves amounts and description templates against the flat
// key/value payload carried by a business event.
package payload

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrMissingAmountKey indicates the amount key is absent or null.
	ErrMissingAmountKey = errors.New("accounting: amount key missing from payload")
	// ErrInvalidAmountType indicates the value cannot be read as a number.
	ErrInvalidAmountType = errors.New("accounting: amount value is not numeric")
	// ErrAmountScale indicates more fractional digits than the ledger stores.
	ErrAmountScale = errors.New("accounting: amount exceeds ledger scale")
)

// AmountScale is the number of fractional digits journal lines store.
const AmountScale = 4

// MissingAmountKeyError names the key that could not be resolved.
type MissingAmountKeyError struct {
	Key string
}

func (e *MissingAmountKeyError) Error() string {
	return fmt.Sprintf("%s: %q", ErrMissingAmountKey.Error(), e.Key)
}

// Is makes errors.Is(err, ErrMissingAmountKey) hold.
func (e *MissingAmountKeyError) Is(target error) bool { return target == ErrMissingAmountKey }

// InvalidAmountTypeError names the key and the offending value.
type InvalidAmountTypeError struct {
	Key   string
	Value any
}

func (e *InvalidAmountTypeError) Error() string {
	return fmt.Sprintf("%s: %q=%v (%T)", ErrInvalidAmountType.Error(), e.Key, e.Value, e.Value)
}

// Is makes errors.Is(err, ErrInvalidAmountType) hold.
func (e *InvalidAmountTypeError) Is(target error) bool { return target == ErrInvalidAmountType }

// AmountScaleError names a key whose amount cannot be stored without
// rounding. It also matches ErrInvalidAmountType.
type AmountScaleError struct {
	Key    string
	Amount decimal.Decimal
}

func (e *AmountScaleError) Error() string {
	return fmt.Sprintf("%s: %q=%s (max %d decimal places)", ErrAmountScale.Error(), e.Key, e.Amount.String(), AmountScale)
}

// Is makes errors.Is hold for ErrAmountScale and ErrInvalidAmountType.
func (e *AmountScaleError) Is(target error) bool {
	return target == ErrAmountScale || target == ErrInvalidAmountType
}

// Payload is a flat map of scalar event attributes. Nested documents are
// flattened into dotted keys (see Flatten).
type Payload map[string]any

var bracketIndex = regexp.MustCompile(`\[(\w+)\]`)

// NormalizeKey rewrites bracket notation into dotted form: lines[0].amount
// becomes lines.0.amount.
func NormalizeKey(key string) string {
	key = strings.TrimSpace(key)
	if !strings.Contains(key, "[") {
		return key
	}
	key = bracketIndex.ReplaceAllString(key, ".$1")
	return strings.TrimPrefix(key, ".")
}

// Lookup returns the raw value stored under key.
func (p Payload) Lookup(key string) (any, bool) {
	v, ok := p[NormalizeKey(key)]
	return v, ok
}

// ResolveAmount reads key from p as a fixed-point decimal. Amounts with more
// than AmountScale significant fractional digits are rejected; trailing zeros
// are fine.
func ResolveAmount(p Payload, key string) (decimal.Decimal, error) {
	raw, ok := p.Lookup(key)
	if !ok || raw == nil {
		return decimal.Zero, &MissingAmountKeyError{Key: key}
	}
	amount, ok := toDecimal(raw)
	if !ok {
		return decimal.Zero, &InvalidAmountTypeError{Key: key, Value: raw}
	}
	if !FitsScale(amount) {
		return decimal.Zero, &AmountScaleError{Key: key, Amount: amount}
	}
	return amount, nil
}

// FitsScale reports whether d is stored exactly at AmountScale.
func FitsScale(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(AmountScale))
}

func toDecimal(raw any) (decimal.Decimal, bool) {
	switch v := raw.(type) {
	case decimal.Decimal:
		return v, true
	case *decimal.Decimal:
		if v == nil {
			return decimal.Zero, false
		}
		return *v, true
	case json.Number:
		d, err := decimal.NewFromString(v.String())
		return d, err == nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		return d, err == nil
	case float64:
		return decimal.NewFromFloat(v), true
	case float32:
		return decimal.NewFromFloat32(v), true
	case int:
		return decimal.NewFromInt(int64(v)), true
	case int8:
		return decimal.NewFromInt(int64(v)), true
	case int16:
		return decimal.NewFromInt(int64(v)), true
	case int32:
		return decimal.NewFromInt32(v), true
	case int64:
		return decimal.NewFromInt(v), true
	case uint:
		return decimal.NewFromUint64(uint64(v)), true
	case uint8:
		return decimal.NewFromUint64(uint64(v)), true
	case uint16:
		return decimal.NewFromUint64(uint64(v)), true
	case uint32:
		return decimal.NewFromUint64(uint64(v)), true
	case uint64:
		return decimal.NewFromUint64(v), true
	default:
		return decimal.Zero, false
	}
}

var placeholder = regexp.MustCompile(`\{([^{}]+)\}`)

// RenderTemplate substitutes {field} placeholders with payload values.
// Placeholders without a value are left untouched.
func RenderTemplate(p Payload, tmpl string) string {
	if !strings.Contains(tmpl, "{") {
		return tmpl
	}
	return placeholder.ReplaceAllStringFunc(tmpl, func(match string) string {
		key := match[1 : len(match)-1]
		v, ok := p.Lookup(key)
		if !ok || v == nil {
			return match
		}
		return Stringify(v)
	})
}

// Stringify renders a payload scalar for descriptions.
func Stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case decimal.Decimal:
		return val.String()
	case *decimal.Decimal:
		return val.String()
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case time.Time:
		return val.Format("2006-01-02")
	default:
		return fmt.Sprint(val)
	}
}

package payload

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Flatten converts a decoded JSON document into a Payload. Nested objects
// become dotted keys and array elements are addressed by index, so
// {"lines":[{"amount":5}]} yields lines.0.amount.
func Flatten(doc map[string]any) (Payload, error) {
	out := make(Payload, len(doc))
	for k, v := range doc {
		if err := flattenInto(out, k, v); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func flattenInto(out Payload, prefix string, v any) error {
	switch val := v.(type) {
	case map[string]any:
		for k, child := range val {
			if err := flattenInto(out, prefix+"."+k, child); err != nil {
				return err
			}
		}
	case Payload:
		for k, child := range val {
			if err := flattenInto(out, prefix+"."+k, child); err != nil {
				return err
			}
		}
	case []any:
		for i, child := range val {
			if err := flattenInto(out, prefix+"."+strconv.Itoa(i), child); err != nil {
				return err
			}
		}
	case nil, string, bool, json.Number, float64, float32,
		int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64,
		decimal.Decimal, time.Time:
		out[prefix] = val
	default:
		return fmt.Errorf("accounting: unsupported payload value at %q: %T", prefix, v)
	}
	return nil
}

package store

import (
	"fmt"
	"time"

	"github.com/roach88/satisfy/internal/ir"
)

// marshalRule converts a rule to canonical JSON TEXT for storage.
func marshalRule(r ir.Rule) (string, error) {
	data, err := ir.MarshalCanonical(r.ToObject())
	if err != nil {
		return "", fmt.Errorf("marshal rule: %w", err)
	}
	return string(data), nil
}

// unmarshalRule parses canonical JSON TEXT back into a rule.
// Integers go through json.Number, so values above 2^53 survive.
func unmarshalRule(data string) (ir.Rule, error) {
	v, err := ir.UnmarshalValue([]byte(data))
	if err != nil {
		return ir.Rule{}, fmt.Errorf("unmarshal rule: %w", err)
	}
	obj, ok := v.(ir.Object)
	if !ok {
		return ir.Rule{}, fmt.Errorf("unmarshal rule: expected object, got %T", v)
	}
	r, err := ir.RuleFromObject(obj)
	if err != nil {
		return ir.Rule{}, fmt.Errorf("unmarshal rule: %w", err)
	}
	return r, nil
}

// Timestamps are stored as Unix milliseconds, read back in UTC.
func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

package ir

import (
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Rule is a named conjunction of conditions. A rule is satisfied when every
// one of its conditions has been satisfied. Rules are immutable once handed
// to the engine; re-registering an id replaces the previous rule.
type Rule struct {
	ID         string          `json:"id"`
	Conditions []ConditionSpec `json:"conditions"`

	// Payload is delivered unchanged with the satisfaction notification.
	Payload Object `json:"payload,omitempty"`
}

// ConditionSpec is a single typed condition. The meaning of Value depends on
// Type and is interpreted by the condition handler registered for it.
type ConditionSpec struct {
	Type  string `json:"type"`
	Value Value  `json:"value"`
}

// NormalizeID returns the key under which a rule id is stored.
// Ids are trimmed and NFC normalized so that visually identical ids written
// with different Unicode compositions address the same rule.
func NormalizeID(id string) string {
	return norm.NFC.String(strings.TrimSpace(id))
}

// Clone returns a deep copy of the rule so callers cannot mutate a
// registered rule through shared slices or maps.
func (r Rule) Clone() Rule {
	out := Rule{ID: r.ID}
	if r.Conditions != nil {
		out.Conditions = make([]ConditionSpec, len(r.Conditions))
		for i, c := range r.Conditions {
			out.Conditions[i] = ConditionSpec{Type: c.Type, Value: cloneValue(c.Value)}
		}
	}
	if r.Payload != nil {
		out.Payload = cloneValue(r.Payload).(Object)
	}
	return out
}

func cloneValue(v Value) Value {
	switch val := v.(type) {
	case Array:
		out := make(Array, len(val))
		for i, elem := range val {
			out[i] = cloneValue(elem)
		}
		return out
	case Object:
		out := make(Object, len(val))
		for k, elem := range val {
			out[k] = cloneValue(elem)
		}
		return out
	default:
		return v
	}
}

// ToObject converts the rule into its canonical Object form, the shape used
// for hashing and for the journal.
func (r Rule) ToObject() Object {
	conds := make(Array, len(r.Conditions))
	for i, c := range r.Conditions {
		val := c.Value
		if val == nil {
			val = Null{}
		}
		conds[i] = Object{
			"type":  String(c.Type),
			"value": val,
		}
	}
	obj := Object{
		"id":         String(r.ID),
		"conditions": conds,
	}
	if len(r.Payload) > 0 {
		obj["payload"] = r.Payload
	}
	return obj
}

// RuleFromObject is the inverse of ToObject.
func RuleFromObject(obj Object) (Rule, error) {
	var r Rule

	id, ok := obj["id"].(String)
	if !ok {
		return r, fmt.Errorf("rule: id must be a string")
	}
	r.ID = string(id)

	conds, ok := obj["conditions"].(Array)
	if !ok {
		return r, fmt.Errorf("rule %q: conditions must be an array", r.ID)
	}
	for i, c := range conds {
		co, ok := c.(Object)
		if !ok {
			return r, fmt.Errorf("rule %q: conditions[%d] must be an object", r.ID, i)
		}
		typ, ok := co["type"].(String)
		if !ok {
			return r, fmt.Errorf("rule %q: conditions[%d].type must be a string", r.ID, i)
		}
		val, ok := co["value"]
		if !ok {
			val = Null{}
		}
		r.Conditions = append(r.Conditions, ConditionSpec{Type: string(typ), Value: val})
	}

	if p, ok := obj["payload"]; ok {
		po, ok := p.(Object)
		if !ok {
			return r, fmt.Errorf("rule %q: payload must be an object", r.ID)
		}
		r.Payload = po
	}
	return r, nil
}

// MarshalJSON implements json.Marshaler for Rule.
func (r Rule) MarshalJSON() ([]byte, error) {
	return r.ToObject().MarshalJSON()
}

// UnmarshalJSON implements json.Unmarshaler for Rule.
func (r *Rule) UnmarshalJSON(data []byte) error {
	var obj Object
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	rule, err := RuleFromObject(obj)
	if err != nil {
		return err
	}
	*r = rule
	return nil
}

// Package engine holds the pure questionnaire logic: condition
// evaluation, option parsing, tree building and required-answer
// validation. Every function in this package is total over arbitrary
// input; malformed payloads degrade to permissive defaults instead of
// returning errors.
package engine

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Condition decides whether a question is currently visible.
//
// Evaluate receives the answer recorded for the question's parent (empty
// string when the parent is unanswered or the question has no parent)
// and the full answer map for cross-question rules. Implementations
// never panic and never fail closed: anything unrecognized is visible.
type Condition interface {
	Evaluate(parentValue string, answers map[int64]string) bool
}

// ParseCondition converts a raw condition payload into its evaluable
// form. It is called once per question at load time so that evaluation
// is a plain method dispatch instead of repeated shape sniffing.
//
// Recognized shapes, first match wins: a bare string, parent_value
// (scalar or list), show_if, equals, in, not_equals, not_empty,
// is_empty, numeric less_than/greater_than against another question,
// typed equals against another question, and/or combinators, previous
// (unresolvable, always visible), and question_id+value. Everything
// else, including absent and falsy payloads, is always visible.
func ParseCondition(raw json.RawMessage) Condition {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return alwaysVisible{}
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		// An empty string is a falsy payload, not an equality test.
		if s == "" {
			return alwaysVisible{}
		}
		return equalsParent{value: s}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		// Numbers, booleans, arrays: no recognizable rule.
		return alwaysVisible{}
	}

	if v, ok := fields["parent_value"]; ok {
		if values, ok := stringList(v); ok {
			return parentIn{values: values}
		}
		return equalsParent{value: stringify(v)}
	}
	if v, ok := fields["show_if"]; ok {
		return equalsParent{value: stringify(v)}
	}
	if v, ok := fields["equals"]; ok {
		return equalsParent{value: stringify(v)}
	}
	if v, ok := fields["in"]; ok {
		if values, ok := stringList(v); ok {
			return parentIn{values: values}
		}
	}
	if v, ok := fields["not_equals"]; ok {
		return notEqualsParent{value: stringify(v)}
	}
	if v, ok := fields["not_empty"]; ok && truthy(v) {
		return parentNotEmpty{}
	}
	if v, ok := fields["is_empty"]; ok && truthy(v) {
		return parentEmpty{}
	}

	if kind, ok := stringField(fields, "type"); ok {
		if id, ok := intField(fields, "parent_id"); ok && id != 0 {
			switch kind {
			case "less_than":
				return numericCompare{questionID: id, limit: floatField(fields, "value"), less: true}
			case "greater_than":
				return numericCompare{questionID: id, limit: floatField(fields, "value")}
			case "equals":
				return answerEquals{questionID: id, value: stringify(fields["value"])}
			}
		}
	}

	if v, ok := fields["and"]; ok {
		if operands, ok := operandList(v); ok {
			return conjunction{operands: operands}
		}
	}
	if v, ok := fields["or"]; ok {
		if operands, ok := operandList(v); ok {
			return conjunction{operands: operands, any: true}
		}
	}

	if v, ok := fields["previous"]; ok && truthy(v) {
		// The payload names a question by display text, which cannot be
		// resolved to an id here. Fail open rather than guess.
		return previousReference{raw: stringify(v)}
	}

	if id, ok := intField(fields, "question_id"); ok && id != 0 {
		if v, ok := fields["value"]; ok {
			return answerEquals{questionID: id, value: stringify(v)}
		}
	}

	return alwaysVisible{}
}

type alwaysVisible struct{}

func (alwaysVisible) Evaluate(string, map[int64]string) bool { return true }

type equalsParent struct{ value string }

func (c equalsParent) Evaluate(parentValue string, _ map[int64]string) bool {
	return parentValue == c.value
}

type notEqualsParent struct{ value string }

func (c notEqualsParent) Evaluate(parentValue string, _ map[int64]string) bool {
	return parentValue != c.value
}

type parentIn struct{ values []string }

func (c parentIn) Evaluate(parentValue string, _ map[int64]string) bool {
	for _, v := range c.values {
		if parentValue == v {
			return true
		}
	}
	return false
}

type parentNotEmpty struct{}

func (parentNotEmpty) Evaluate(parentValue string, _ map[int64]string) bool {
	return strings.TrimSpace(parentValue) != ""
}

type parentEmpty struct{}

func (parentEmpty) Evaluate(parentValue string, _ map[int64]string) bool {
	return strings.TrimSpace(parentValue) == ""
}

// numericCompare checks another question's answer against a bound.
// A missing or unparseable answer counts as 0.
type numericCompare struct {
	questionID int64
	limit      float64
	less       bool
}

func (c numericCompare) Evaluate(_ string, answers map[int64]string) bool {
	v, err := strconv.ParseFloat(strings.TrimSpace(answers[c.questionID]), 64)
	if err != nil {
		v = 0
	}
	if c.less {
		return v < c.limit
	}
	return v > c.limit
}

// answerEquals compares another question's answer as a string.
type answerEquals struct {
	questionID int64
	value      string
}

func (c answerEquals) Evaluate(_ string, answers map[int64]string) bool {
	return answers[c.questionID] == c.value
}

// operand is one branch of an and/or combinator. A branch carrying its
// own parent_id resolves its parent value from the answer map; otherwise
// it inherits the outer parent value.
type operand struct {
	cond       Condition
	questionID int64
}

type conjunction struct {
	operands []operand
	any      bool
}

func (c conjunction) Evaluate(parentValue string, answers map[int64]string) bool {
	for _, op := range c.operands {
		pv := parentValue
		if op.questionID != 0 {
			pv = answers[op.questionID]
		}
		if op.cond.Evaluate(pv, answers) == c.any {
			return c.any
		}
	}
	return !c.any
}

// previousReference is a legacy rule keyed on a question's display text.
// Text never maps back to an id, so it evaluates as visible.
type previousReference struct{ raw string }

func (previousReference) Evaluate(string, map[int64]string) bool { return true }

func operandList(raw json.RawMessage) ([]operand, bool) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, false
	}
	operands := make([]operand, 0, len(items))
	for _, item := range items {
		op := operand{cond: ParseCondition(item)}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(item, &fields); err == nil {
			if id, ok := intField(fields, "parent_id"); ok {
				op.questionID = id
			}
		}
		operands = append(operands, op)
	}
	return operands, true
}

func stringList(raw json.RawMessage) ([]string, bool) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, false
	}
	values := make([]string, len(items))
	for i, item := range items {
		values[i] = stringify(item)
	}
	return values, true
}

func stringField(fields map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := fields[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func intField(fields map[string]json.RawMessage, key string) (int64, bool) {
	raw, ok := fields[key]
	if !ok {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, false
	}
	return int64(f), true
}

func floatField(fields map[string]json.RawMessage, key string) float64 {
	var f float64
	if raw, ok := fields[key]; ok {
		_ = json.Unmarshal(raw, &f)
	}
	return f
}

// truthy mirrors the authoring tool's loose semantics: null, false,
// zero and the empty string do not activate a rule. The payload is
// parsed as a value so spellings like 0.0 and 0e0 count as zero.
func truthy(raw json.RawMessage) bool {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	switch v := v.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case float64:
		return v != 0
	}
	return true
}

// stringify renders a scalar JSON value the way the authoring tool
// would display it: strings verbatim, numbers without a trailing zero
// fraction. Composite values keep their compact JSON form.
func stringify(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return stringifyValue(v)
}

func stringifyValue(v any) string {
	switch v := v.(type) {
	case nil:
		return "null"
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

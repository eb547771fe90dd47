package engine

import (
	"encoding/json"
	"testing"
)

func evalCond(t *testing.T, raw string, parentValue string, answers map[int64]string) bool {
	t.Helper()
	cond := ParseCondition(json.RawMessage(raw))
	if cond == nil {
		t.Fatalf("ParseCondition(%s) returned nil", raw)
	}
	return cond.Evaluate(parentValue, answers)
}

func TestParseConditionAbsentOrFalsy(t *testing.T) {
	// Absent, null and falsy payloads never hide a question.
	for _, raw := range []string{"", "null", `""`, "0", "false", "[1,2]", "42"} {
		if !evalCond(t, raw, "", nil) {
			t.Errorf("condition %q should be always visible", raw)
		}
		if !evalCond(t, raw, "anything", map[int64]string{1: "x"}) {
			t.Errorf("condition %q should be visible regardless of answers", raw)
		}
	}
}

func TestParseConditionBareString(t *testing.T) {
	tests := []struct {
		parentValue string
		want        bool
	}{
		{"oui", true},
		{"non", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := evalCond(t, `"oui"`, tt.parentValue, nil); got != tt.want {
			t.Errorf(`"oui" with parent %q = %v, want %v`, tt.parentValue, got, tt.want)
		}
	}
}

func TestParseConditionParentValue(t *testing.T) {
	tests := []struct {
		name        string
		raw         string
		parentValue string
		want        bool
	}{
		{"scalar match", `{"parent_value":"oui"}`, "oui", true},
		{"scalar mismatch", `{"parent_value":"oui"}`, "non", false},
		{"numeric scalar", `{"parent_value":3}`, "3", true},
		{"list match", `{"parent_value":["a","b"]}`, "b", true},
		{"list mismatch", `{"parent_value":["a","b"]}`, "c", false},
		{"show_if", `{"show_if":"oui"}`, "oui", true},
		{"equals", `{"equals":"non"}`, "non", true},
		{"in match", `{"in":["x","y"]}`, "y", true},
		{"in mismatch", `{"in":["x","y"]}`, "z", false},
		{"in not a list falls open", `{"in":"x"}`, "z", true},
		{"not_equals match", `{"not_equals":"non"}`, "oui", true},
		{"not_equals mismatch", `{"not_equals":"non"}`, "non", false},
		{"not_empty answered", `{"not_empty":true}`, "oui", true},
		{"not_empty blank", `{"not_empty":true}`, "  ", false},
		{"not_empty falsy flag falls open", `{"not_empty":false}`, "", true},
		{"not_empty zero float falls open", `{"not_empty":0.0}`, "", true},
		{"not_empty zero exponent falls open", `{"not_empty":0e0}`, "", true},
		{"not_empty empty string falls open", `{"not_empty":""}`, "", true},
		{"not_empty nonzero float activates", `{"not_empty":1.0}`, "", false},
		{"is_empty blank", `{"is_empty":true}`, "", true},
		{"is_empty answered", `{"is_empty":true}`, "oui", false},
		{"parent_value wins over not_equals", `{"parent_value":"a","not_equals":"a"}`, "a", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := evalCond(t, tt.raw, tt.parentValue, nil); got != tt.want {
				t.Errorf("Evaluate(%s, parent=%q) = %v, want %v", tt.raw, tt.parentValue, got, tt.want)
			}
		})
	}
}

func TestParseConditionNumericCompare(t *testing.T) {
	answers := map[int64]string{5: "12", 6: "not a number"}
	tests := []struct {
		name string
		raw  string
		want bool
	}{
		{"less_than false", `{"type":"less_than","parent_id":5,"value":10}`, false},
		{"less_than true", `{"type":"less_than","parent_id":5,"value":18}`, true},
		{"greater_than true", `{"type":"greater_than","parent_id":5,"value":10}`, true},
		{"greater_than false", `{"type":"greater_than","parent_id":5,"value":18}`, false},
		{"unparseable counts as zero", `{"type":"less_than","parent_id":6,"value":1}`, true},
		{"missing answer counts as zero", `{"type":"less_than","parent_id":99,"value":1}`, true},
		{"typed equals", `{"type":"equals","parent_id":5,"value":12}`, true},
		{"typed equals mismatch", `{"type":"equals","parent_id":5,"value":13}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := evalCond(t, tt.raw, "", answers); got != tt.want {
				t.Errorf("Evaluate(%s) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParseConditionCombinators(t *testing.T) {
	answers := map[int64]string{7: "oui", 8: "non"}
	tests := []struct {
		name        string
		raw         string
		parentValue string
		want        bool
	}{
		{
			"and both hold",
			`{"and":[{"parent_value":"oui"},{"parent_id":8,"parent_value":"non"}]}`,
			"oui", true,
		},
		{
			"and one fails",
			`{"and":[{"parent_value":"oui"},{"parent_id":8,"parent_value":"oui"}]}`,
			"oui", false,
		},
		{
			"or one holds",
			`{"or":[{"parent_value":"jamais"},{"parent_id":7,"parent_value":"oui"}]}`,
			"non", true,
		},
		{
			"or none hold",
			`{"or":[{"parent_value":"jamais"},{"parent_id":7,"parent_value":"non"}]}`,
			"non", false,
		},
		{
			"operand without parent_id inherits outer parent",
			`{"and":[{"not_equals":"non"}]}`,
			"oui", true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := evalCond(t, tt.raw, tt.parentValue, answers); got != tt.want {
				t.Errorf("Evaluate(%s, parent=%q) = %v, want %v", tt.raw, tt.parentValue, got, tt.want)
			}
		})
	}
}

func TestParseConditionCrossQuestion(t *testing.T) {
	answers := map[int64]string{9: "oui"}

	if !evalCond(t, `{"question_id":9,"value":"oui"}`, "", answers) {
		t.Error("question_id reference should match recorded answer")
	}
	if evalCond(t, `{"question_id":9,"value":"non"}`, "", answers) {
		t.Error("question_id reference should not match a different answer")
	}
}

func TestParseConditionPreviousFailsOpen(t *testing.T) {
	// Legacy rules reference questions by display text, which cannot be
	// resolved; they must never hide anything.
	if !evalCond(t, `{"previous":"Avez-vous des allergies ?"}`, "", nil) {
		t.Error("previous reference should be visible")
	}
}

func TestStringify(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{`"abc"`, "abc"},
		{`3`, "3"},
		{`3.5`, "3.5"},
		{`3.0`, "3"},
		{`true`, "true"},
		{`null`, "null"},
	}
	for _, tt := range tests {
		if got := stringify(json.RawMessage(tt.raw)); got != tt.want {
			t.Errorf("stringify(%s) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

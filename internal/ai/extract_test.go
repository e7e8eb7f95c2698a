package ai

import "testing"

func TestExtractJSON(t *testing.T) {
	cases := map[string]string{
		`{"a":1}`: `{"a":1}`,
		"Here you go:\n```json\n{\"a\":{\"b\":2}}\n```": `{"a":{"b":2}}`,
		"no json here": "",
		"} backwards {": "",
	}
	for in, want := range cases {
		if got := extractJSON(in); got != want {
			t.Errorf("extractJSON(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFitScoreSummary(t *testing.T) {
	f := &FitScore{Rationale: " Strong SQL. ", Gaps: []string{"no dbt", "no people mgmt"}}
	if got := f.Summary(); got != "Strong SQL. Gaps: no dbt; no people mgmt" {
		t.Fatalf("unexpected summary %q", got)
	}
}

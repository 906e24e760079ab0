package utils

import "testing"

func TestShouldInclude(t *testing.T) {
	matcher := NewPatternMatcher(nil, nil)
	if !matcher.ShouldInclude("a.monster") {
		t.Fatal("expected include by default")
	}
	matcher = NewPatternMatcher([]string{"*.monster"}, nil)
	if matcher.ShouldInclude("c.weapon") {
		t.Fatal("should not include unmatched include pattern")
	}
	if !matcher.ShouldInclude("orc.monster") {
		t.Fatal("should include matching include pattern")
	}
	if !matcher.ShouldInclude("/data/ORC.MONSTER") {
		t.Fatal("glob should match case-insensitively")
	}
	matcher = NewPatternMatcher(nil, []string{"draft_*"})
	if matcher.ShouldInclude("draft_a.monster") {
		t.Fatal("should exclude matching exclude pattern")
	}
	if !matcher.ShouldInclude("final.monster") {
		t.Fatal("should include when exclude does not match")
	}
	matcher = NewPatternMatcher([]string{".*/levels/.*"}, nil)
	if !matcher.ShouldInclude("/data/levels/one.level") {
		t.Fatal("should match regex include pattern")
	}
}

func TestNilMatcherIncludesEverything(t *testing.T) {
	var m *PatternMatcher
	if !m.ShouldInclude("anything") {
		t.Fatal("nil matcher should include")
	}
}

package models

import "testing"

func TestPropertyPattern_Matches(t *testing.T) {
	tests := []struct {
		name      string
		pattern   PropertyPattern
		fromValue any
		toValue   any
		expect    bool
	}{
		{
			name:      "exact match on equal strings",
			pattern:   PropertyPattern{Kind: PatternExactMatch, FromProperty: "owner_team_name", ToProperty: "name"},
			fromValue: "payments",
			toValue:   "payments",
			expect:    true,
		},
		{
			name:      "exact match rejects different strings",
			pattern:   PropertyPattern{Kind: PatternExactMatch, FromProperty: "owner_team_name", ToProperty: "name"},
			fromValue: "payments",
			toValue:   "billing",
			expect:    false,
		},
		{
			name:      "exact match rejects cross-type equality",
			pattern:   PropertyPattern{Kind: PatternExactMatch, FromProperty: "team_id", ToProperty: "id"},
			fromValue: "42",
			toValue:   float64(42),
			expect:    false,
		},
		{
			name:      "type coercion matches string against number",
			pattern:   PropertyPattern{Kind: PatternTypeCoercionMatch, FromProperty: "team_id", ToProperty: "id"},
			fromValue: "42",
			toValue:   float64(42),
			expect:    true,
		},
		{
			name:      "type coercion matches int64 against float64",
			pattern:   PropertyPattern{Kind: PatternTypeCoercionMatch, FromProperty: "team_id", ToProperty: "id"},
			fromValue: int64(7),
			toValue:   float64(7),
			expect:    true,
		},
		{
			name:      "substring matches value inside target",
			pattern:   PropertyPattern{Kind: PatternSubstring, FromProperty: "team", ToProperty: "slug"},
			fromValue: "payments",
			toValue:   "payments-team-eu",
			expect:    true,
		},
		{
			name:      "substring is directional",
			pattern:   PropertyPattern{Kind: PatternSubstring, FromProperty: "team", ToProperty: "slug"},
			fromValue: "payments-team-eu",
			toValue:   "payments",
			expect:    false,
		},
		{
			name:      "nil source never matches",
			pattern:   PropertyPattern{Kind: PatternTypeCoercionMatch, FromProperty: "a", ToProperty: "b"},
			fromValue: nil,
			toValue:   "x",
			expect:    false,
		},
		{
			name:      "empty strings never match",
			pattern:   PropertyPattern{Kind: PatternExactMatch, FromProperty: "a", ToProperty: "b"},
			fromValue: "",
			toValue:   "",
			expect:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.pattern.Matches(tt.fromValue, tt.toValue); got != tt.expect {
				t.Errorf("Matches(%v, %v) = %v, want %v", tt.fromValue, tt.toValue, got, tt.expect)
			}
		})
	}
}

func TestPropertyPattern_Validate(t *testing.T) {
	valid := PropertyPattern{Kind: PatternExactMatch, FromProperty: "owner_team_name", ToProperty: "name"}
	if err := valid.Validate(); err != nil {
		t.Errorf("expected valid pattern, got %v", err)
	}

	missingFrom := PropertyPattern{Kind: PatternExactMatch, ToProperty: "name"}
	if err := missingFrom.Validate(); err == nil {
		t.Error("expected error for missing from_property")
	}

	badKind := PropertyPattern{Kind: "fuzzy", FromProperty: "a", ToProperty: "b"}
	if err := badKind.Validate(); err == nil {
		t.Error("expected error for unknown pattern kind")
	}
}

func TestRelationshipCandidate_Signature(t *testing.T) {
	c1 := RelationshipCandidate{
		FromType: "Service",
		ToType:   "Team",
		Pattern:  PropertyPattern{Kind: PatternExactMatch, FromProperty: "owner_team_name", ToProperty: "name"},
	}
	c2 := RelationshipCandidate{
		FromType: "Service",
		ToType:   "Team",
		Pattern:  PropertyPattern{Kind: PatternExactMatch, FromProperty: "owner_team_name", ToProperty: "name"},
		// Scores differ, identity does not.
		HeuristicScore: 0.9,
	}
	if c1.Signature() != c2.Signature() {
		t.Errorf("same pair+pattern must share a signature: %q vs %q", c1.Signature(), c2.Signature())
	}

	c3 := c1
	c3.Pattern.Kind = PatternTypeCoercionMatch
	if c1.Signature() == c3.Signature() {
		t.Error("different pattern kinds must produce different signatures")
	}

	c4 := c1
	c4.FromType, c4.ToType = c4.ToType, c4.FromType
	if c1.Signature() == c4.Signature() {
		t.Error("reversed pair must produce a different signature")
	}
}

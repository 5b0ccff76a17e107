package models

import (
	"fmt"
	"strings"
)

// ============================================================================
// Graph Entities
// ============================================================================

// Entity represents a typed node in the knowledge graph. Entities are owned
// by the graph store and populated by external connectors; the engine only
// reads them. The type is immutable; properties may change on re-ingestion.
type Entity struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
	SourceRef  string         `json:"source_ref,omitempty"`
}

// PropertyString returns the named property coerced to a string, with ok=false
// when the property is absent or nil. Numeric property values are rendered in
// their canonical form ("42", not "42.000000").
func (e *Entity) PropertyString(name string) (string, bool) {
	v, ok := e.Properties[name]
	if !ok || v == nil {
		return "", false
	}
	return CoerceToString(v), true
}

// CoerceToString renders a property value in canonical string form.
// JSON-decoded numbers arrive as float64; integral values are rendered
// without a fractional part so "42" and 42 compare equal.
func CoerceToString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	case float32:
		return CoerceToString(float64(val))
	case int:
		return fmt.Sprintf("%d", val)
	case int32:
		return fmt.Sprintf("%d", val)
	case int64:
		return fmt.Sprintf("%d", val)
	case bool:
		return fmt.Sprintf("%t", val)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", val)
	}
}

// ============================================================================
// Type Pairs & Discovery Scope
// ============================================================================

// TypePair is an ordered pair of entity types. Discovery scans pairs
// directionally: (Service, Team) and (Team, Service) are distinct pairs.
type TypePair struct {
	FromType string `json:"from_type"`
	ToType   string `json:"to_type"`
}

// Key returns the canonical pair key used for advisory locking and logging.
func (p TypePair) Key() string {
	return p.FromType + "->" + p.ToType
}

// Validate checks that both types are present.
func (p TypePair) Validate() error {
	if strings.TrimSpace(p.FromType) == "" {
		return fmt.Errorf("from_type is required")
	}
	if strings.TrimSpace(p.ToType) == "" {
		return fmt.Errorf("to_type is required")
	}
	return nil
}

// DiscoveryScope selects which type pairs a discovery job covers: either an
// explicit pair list or all ordered pairs of types present in the graph.
type DiscoveryScope struct {
	Pairs []TypePair `json:"pairs,omitempty"`
	All   bool       `json:"all,omitempty"`
}

// Validate checks that the scope selects something: either All or at least
// one valid pair, never both.
func (s DiscoveryScope) Validate() error {
	if s.All && len(s.Pairs) > 0 {
		return fmt.Errorf("scope must set either all or pairs, not both")
	}
	if !s.All && len(s.Pairs) == 0 {
		return fmt.Errorf("scope must set all=true or at least one pair")
	}
	for i, p := range s.Pairs {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("pair %d: %w", i, err)
		}
	}
	return nil
}

// Fingerprint returns a stable string identifying the scope, used in cache
// keys and conflict messages. Pair order is preserved (scopes are compared
// pair-by-pair, not as sets).
func (s DiscoveryScope) Fingerprint() string {
	if s.All {
		return "all"
	}
	keys := make([]string, len(s.Pairs))
	for i, p := range s.Pairs {
		keys[i] = p.Key()
	}
	return strings.Join(keys, ",")
}

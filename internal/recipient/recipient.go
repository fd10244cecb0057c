// Package recipient holds the recipient model, the target filter and the
// spreadsheet loader that produces recipient lists.
package recipient

import "strings"

// Recipient is one row of the member list.
type Recipient struct {
	Name             string `json:"name"`
	RegistrationType string `json:"registration_type"`
	AgeGroup         string `json:"age_group"`
}

// TargetFilter selects recipients whose registration type and age group are
// both in the allowed sets.
type TargetFilter struct {
	RegistrationTypes []string `toml:"registration_types" json:"registration_types" yaml:"registration_types"`
	AgeGroups         []string `toml:"age_groups" json:"age_groups" yaml:"age_groups"`
}

// DefaultFilter returns the membership segments the report is sent to.
func DefaultFilter() TargetFilter {
	return TargetFilter{
		RegistrationTypes: []string{"이월", "재등록", "신규"},
		AgeGroups:         []string{"20대", "30대"},
	}
}

// Accepts reports whether r belongs to the target segment. Values are
// compared after trimming surrounding whitespace.
func (f TargetFilter) Accepts(r Recipient) bool {
	return contains(f.RegistrationTypes, r.RegistrationType) && contains(f.AgeGroups, r.AgeGroup)
}

func contains(set []string, v string) bool {
	v = strings.TrimSpace(v)
	for _, s := range set {
		if strings.TrimSpace(s) == v {
			return true
		}
	}
	return false
}

// Filter returns the accepted recipients in source order. The result is never
// nil.
func Filter(all []Recipient, f TargetFilter) []Recipient {
	out := make([]Recipient, 0, len(all))
	for _, r := range all {
		if f.Accepts(r) {
			out = append(out, r)
		}
	}
	return out
}

// Names returns the recipient names in order.
func Names(rs []Recipient) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.Name
	}
	return out
}

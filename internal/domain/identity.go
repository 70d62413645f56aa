package domain

import "slices"

// IdentitySet is an unordered set of user identities stored as a list.
// Methods never mutate the receiver.
type IdentitySet []string

// Contains reports whether id is a member.
func (s IdentitySet) Contains(id string) bool {
	return slices.Contains(s, id)
}

// With returns a copy of s that contains id.
func (s IdentitySet) With(id string) IdentitySet {
	if s.Contains(id) {
		return s.Clone()
	}
	out := make(IdentitySet, len(s), len(s)+1)
	copy(out, s)
	return append(out, id)
}

// Without returns a copy of s that does not contain id.
func (s IdentitySet) Without(id string) IdentitySet {
	out := make(IdentitySet, 0, len(s))
	for _, m := range s {
		if m != id {
			out = append(out, m)
		}
	}
	return out
}

// Set returns s with id present or absent.
func (s IdentitySet) Set(id string, present bool) IdentitySet {
	if present {
		return s.With(id)
	}
	return s.Without(id)
}

// Clone returns an independent copy; a nil set clones to an empty one.
func (s IdentitySet) Clone() IdentitySet {
	out := make(IdentitySet, len(s))
	copy(out, s)
	return out
}

// Dedup returns the set with duplicates removed, keeping first occurrences.
func (s IdentitySet) Dedup() IdentitySet {
	seen := make(map[string]struct{}, len(s))
	out := make(IdentitySet, 0, len(s))
	for _, m := range s {
		if _, ok := seen[m]; ok || m == "" {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}

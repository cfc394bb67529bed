package service

import (
	"slices"
	"strings"
)

// ParseScopes splits a space-delimited scope parameter, dropping duplicates
func ParseScopes(scope string) []string {
	fields := strings.Fields(scope)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if !slices.Contains(out, f) {
			out = append(out, f)
		}
	}
	return out
}

// JoinScopes renders scopes as a scope parameter
func JoinScopes(scopes []string) string {
	return strings.Join(scopes, " ")
}

// isSubset reports whether every element of sub is in set
func isSubset(sub, set []string) bool {
	for _, s := range sub {
		if !slices.Contains(set, s) {
			return false
		}
	}
	return true
}

// difference returns the elements of a missing from b, in a's order
func difference(a, b []string) []string {
	var out []string
	for _, s := range a {
		if !slices.Contains(b, s) {
			out = append(out, s)
		}
	}
	return out
}

// union appends the elements of b missing from a
func union(a, b []string) []string {
	out := slices.Clone(a)
	for _, s := range b {
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}

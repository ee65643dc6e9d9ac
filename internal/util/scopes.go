package util

import "strings"

// ParseScopes splits a space-delimited scope parameter into a list.
// An empty or whitespace-only parameter yields nil, which callers treat as
// "no scope requested".
func ParseScopes(scope string) []string {
	fields := strings.Fields(scope)
	if len(fields) == 0 {
		return nil
	}
	return fields
}

// JoinScopes renders a scope list in its space-delimited wire form.
func JoinScopes(scopes []string) string {
	return strings.Join(scopes, " ")
}

// ContainsAll reports whether every element of subset is present in set.
// An empty subset is always contained.
func ContainsAll(set, subset []string) bool {
	if len(subset) == 0 {
		return true
	}
	index := make(map[string]struct{}, len(set))
	for _, s := range set {
		index[s] = struct{}{}
	}
	for _, s := range subset {
		if _, ok := index[s]; !ok {
			return false
		}
	}
	return true
}

// Contains reports whether value is an exact member of list.
func Contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}

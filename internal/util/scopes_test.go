package util

import (
	"reflect"
	"testing"
)

func TestParseScopes(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"empty", "", nil},
		{"whitespace only", "   ", nil},
		{"single", "read", []string{"read"}},
		{"multiple", "read write", []string{"read", "write"}},
		{"extra spaces", "  read   write ", []string{"read", "write"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseScopes(tt.input)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseScopes(%q) = %#v, want %#v", tt.input, got, tt.want)
			}
		})
	}
}

func TestJoinScopes(t *testing.T) {
	if got := JoinScopes([]string{"read", "write"}); got != "read write" {
		t.Errorf("JoinScopes() = %q, want %q", got, "read write")
	}
	if got := JoinScopes(nil); got != "" {
		t.Errorf("JoinScopes(nil) = %q, want empty", got)
	}
}

func TestContainsAll(t *testing.T) {
	tests := []struct {
		name   string
		set    []string
		subset []string
		want   bool
	}{
		{"empty subset", []string{"a"}, nil, true},
		{"empty set and subset", nil, nil, true},
		{"empty set", nil, []string{"a"}, false},
		{"exact", []string{"a", "b"}, []string{"b", "a"}, true},
		{"narrower", []string{"a", "b", "c"}, []string{"b"}, true},
		{"wider", []string{"a"}, []string{"a", "b"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ContainsAll(tt.set, tt.subset); got != tt.want {
				t.Errorf("ContainsAll(%v, %v) = %v, want %v", tt.set, tt.subset, got, tt.want)
			}
		})
	}
}

func TestContains(t *testing.T) {
	list := []string{"https://cb", "https://other"}
	if !Contains(list, "https://cb") {
		t.Error("Contains() = false for registered value")
	}
	if Contains(list, "https://cb/") {
		t.Error("Contains() = true for a value that only differs by a trailing slash")
	}
}

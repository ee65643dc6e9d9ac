package util

import "testing"

func TestSecretPrefix(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "empty", input: "", want: ""},
		{name: "shorter than prefix", input: "abc", want: "abc"},
		{name: "exactly prefix", input: "abcdefgh", want: "abcdefgh"},
		{name: "access token", input: "Zm9vYmFyYmF6cXV4LXRva2Vu", want: "Zm9vYmFy"},
		{name: "user code", input: "WDJB-MJHT", want: "WDJB-MJH"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SecretPrefix(tt.input); got != tt.want {
				t.Errorf("SecretPrefix(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

package user

import (
	"errors"
	"testing"
)

func TestNormalizeEmail_Valid(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"new@example.com", "new@example.com"},
		{"  Ada.Lovelace@Example.COM ", "ada.lovelace@example.com"},
		{"first+tag@sub.example.co.uk", "first+tag@sub.example.co.uk"},
		{"user@bücher.example", "user@xn--bcher-kva.example"},
	}
	for _, tt := range tests {
		got, err := NormalizeEmail(tt.in)
		if err != nil {
			t.Errorf("NormalizeEmail(%q) unexpected error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("NormalizeEmail(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeEmail_Invalid(t *testing.T) {
	inputs := []string{
		"",
		"   ",
		"not-an-email",
		"@example.com",
		"user@",
		"user@-example.com",
		"user name@example.com",
		"user@exa mple.com",
		"user@example..com",
	}
	for _, in := range inputs {
		if _, err := NormalizeEmail(in); !errors.Is(err, ErrInvalidEmail) {
			t.Errorf("NormalizeEmail(%q) error = %v, want ErrInvalidEmail", in, err)
		}
	}
}

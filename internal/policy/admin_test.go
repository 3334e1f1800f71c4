package policy

import (
	"errors"
	"testing"
)

func TestAuthorizeAdmin(t *testing.T) {
	cases := []struct {
		header string
		token  string
		want   error
	}{
		{"Bearer s3cret", "s3cret", nil},
		{"bearer s3cret", "s3cret", nil},
		{"Bearer wrong", "s3cret", ErrUnauthorized},
		{"s3cret", "s3cret", ErrUnauthorized},
		{"Basic s3cret", "s3cret", ErrUnauthorized},
		{"Bearer s3cret", "", ErrAdminDisabled},
	}
	for _, tc := range cases {
		if got := AuthorizeAdmin(tc.header, tc.token); !errors.Is(got, tc.want) {
			t.Fatalf("AuthorizeAdmin(%q, %q) = %v, want %v", tc.header, tc.token, got, tc.want)
		}
	}
}

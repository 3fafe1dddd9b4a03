package internal

import (
	"strings"
	"testing"
)

func TestNewOTP(t *testing.T) {
	for _, digits := range []int{6, 8, 10} {
		code, err := NewOTP(digits)
		if err != nil {
			t.Fatalf("NewOTP(%d): %v", digits, err)
		}
		if len(code) != digits {
			t.Fatalf("len = %d, want %d", len(code), digits)
		}
		if strings.Trim(code, "0123456789") != "" {
			t.Fatalf("non-digit in code %q", code)
		}
	}
}

func TestNewOTPRejectsBadDigitCount(t *testing.T) {
	for _, digits := range []int{0, 5, 11, -1} {
		if _, err := NewOTP(digits); err == nil {
			t.Fatalf("NewOTP(%d) accepted", digits)
		}
	}
}

func TestNewRefreshSecret(t *testing.T) {
	a, err := NewRefreshSecret()
	if err != nil {
		t.Fatalf("NewRefreshSecret: %v", err)
	}
	b, err := NewRefreshSecret()
	if err != nil {
		t.Fatalf("NewRefreshSecret: %v", err)
	}
	if a == b {
		t.Fatal("two secrets collided")
	}
	// 48 raw bytes, unpadded base64url.
	if len(a) != 64 {
		t.Fatalf("len = %d, want 64", len(a))
	}
	if strings.ContainsAny(a, "+/=") {
		t.Fatalf("secret %q is not url-safe", a)
	}
}

func TestSecretMatches(t *testing.T) {
	secret, err := NewRefreshSecret()
	if err != nil {
		t.Fatalf("NewRefreshSecret: %v", err)
	}
	hash := HashSecret(secret)

	if !SecretMatches(hash, secret) {
		t.Fatal("matching secret rejected")
	}
	if SecretMatches(hash, secret+"x") {
		t.Fatal("non-matching secret accepted")
	}
	if SecretMatches(hash, "") {
		t.Fatal("empty secret accepted")
	}
}

func TestDeriveUsername(t *testing.T) {
	cases := []struct {
		name     string
		login    string
		email    string
		provider string
		userID   string
		want     string
	}{
		{"local registration", "", "john.doe@example.com", "", "", "john.doe"},
		{"provider login preferred", "octo-dev", "x@example.com", "github", "77", "octo-dev_github_77"},
		{"email fallback", "", "maria@example.com", "google", "g-1", "maria_google_g-1"},
		{"strips unsafe runes", "we!rd name", "x@example.com", "google", "1", "werdname_google_1"},
		{"empty everything", "", "@", "facebook", "9", "user_facebook_9"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := DeriveUsername(tc.login, tc.email, tc.provider, tc.userID)
			if got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestDeriveUsernameBoundsLength(t *testing.T) {
	long := strings.Repeat("a", 100)
	got := DeriveUsername(long, "", "google", strings.Repeat("9", 100))
	if len(got) > 50 {
		t.Fatalf("len = %d, want <= 50", len(got))
	}
}

package sandbox

import (
	"errors"
	"testing"
)

func TestNew(t *testing.T) {
	t.Run("empty config", func(t *testing.T) {
		s, err := New(Config{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if s.Enabled() {
			t.Error("empty config should not be enabled")
		}
	})

	t.Run("normalizes entries", func(t *testing.T) {
		s, err := New(Config{AllowedDomains: []string{"*.Example.com", ".shop.test"}})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if s.allowedDomains[0] != "example.com" || s.allowedDomains[1] != "shop.test" {
			t.Errorf("allowedDomains = %v", s.allowedDomains)
		}
	})

	t.Run("invalid entry", func(t *testing.T) {
		if _, err := New(Config{DeniedDomains: []string{"https://bad.example"}}); err == nil {
			t.Fatal("expected error for URL-shaped domain")
		}
		if _, err := New(Config{AllowedDomains: []string{"  "}}); err == nil {
			t.Fatal("expected error for empty domain")
		}
	})
}

func TestCheckURL(t *testing.T) {
	s, err := New(Config{
		AllowedDomains: []string{"example.com", "shop.test"},
		DeniedDomains:  []string{"admin.example.com"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"allowed domain", "https://example.com/cart", false},
		{"allowed subdomain", "https://www.example.com/", false},
		{"case insensitive", "HTTPS://WWW.EXAMPLE.COM/", false},
		{"with port", "http://shop.test:8080/", false},
		{"about blank", "about:blank", false},
		{"denied subdomain", "https://admin.example.com/users", true},
		{"nested under denied", "https://eu.admin.example.com/", true},
		{"not listed", "https://evil.test/", true},
		{"suffix without dot", "https://notexample.com/", true},
		{"file scheme", "file:///etc/passwd", true},
		{"javascript scheme", "javascript:alert(1)", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.CheckURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("CheckURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrDenied) {
				t.Errorf("CheckURL(%q) error = %v, want ErrDenied", tt.url, err)
			}
		})
	}
}

func TestCheckURLDenyOnly(t *testing.T) {
	s, err := New(Config{DeniedDomains: []string{"tracker.test"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.CheckURL("https://anything.example/"); err != nil {
		t.Errorf("unlisted domain should pass without allow list: %v", err)
	}
	if err := s.CheckURL("https://cdn.tracker.test/x.js"); err == nil {
		t.Error("denied domain should fail")
	}
}

func TestCheckURLDisabled(t *testing.T) {
	s, _ := New(Config{})
	for _, u := range []string{"file:///tmp/x.html", "data:text/html,hi", "https://a.example"} {
		if err := s.CheckURL(u); err != nil {
			t.Errorf("CheckURL(%q) = %v, want nil without rules", u, err)
		}
	}
}

package middleware

import (
	"net/url"
	"strings"
	"testing"
)

func TestRedactQueryString(t *testing.T) {
	tests := []struct {
		name     string
		rawQuery string
		want     string
	}{
		{"empty query", "", ""},
		{"no sensitive params", "page=2&limit=50", "page=2&limit=50"},
		{"api key redacted", "api_key=supersecret", "api_key=%5BREDACTED%5D"},
		{"case insensitive", "TOKEN=abc", "TOKEN=%5BREDACTED%5D"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := redactQueryString(tt.rawQuery)
			if got != tt.want {
				t.Errorf("redactQueryString(%q) = %q, want %q", tt.rawQuery, got, tt.want)
			}
		})
	}
}

func TestRedactQueryStringPreservesOtherParams(t *testing.T) {
	got := redactQueryString("page=2&secret=hunter2&limit=50")

	params, err := url.ParseQuery(got)
	if err != nil {
		t.Fatalf("result is not a valid query string: %v", err)
	}
	if params.Get("page") != "2" || params.Get("limit") != "50" {
		t.Errorf("non-sensitive params altered: %q", got)
	}
	if params.Get("secret") != "[REDACTED]" {
		t.Errorf("secret = %q, want [REDACTED]", params.Get("secret"))
	}
	if strings.Contains(got, "hunter2") {
		t.Errorf("sensitive value leaked: %q", got)
	}
}

package utils

import "testing"

func TestGetApexDomain(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "simple domain", input: "example.com", expected: "example.com"},
		{name: "trailing root dot", input: "example.com.", expected: "example.com"},
		{name: "www prefix dropped", input: "www.example.com", expected: "example.com"},
		{name: "deep subdomain", input: "api.service.example.com", expected: "example.com"},
		{name: "co.uk domain", input: "example.co.uk", expected: "example.co.uk"},
		{name: "subdomain of co.uk", input: "ads.example.co.uk", expected: "example.co.uk"},
		{name: "github.io subdomain", input: "user.github.io", expected: "user.github.io"},
		{name: "nested github.io", input: "cdn.user.github.io", expected: "user.github.io"},
		{name: "single label fallback", input: "localhost", expected: "localhost"},
		{name: "empty string", input: "", expected: ""},
		{name: "root only", input: ".", expected: ""},
		{name: "empty label fallback", input: "invalid..domain", expected: "invalid..domain"},
		{name: "unknown tld", input: "foo.invalidtld.", expected: "foo.invalidtld"},
		{name: "uppercase input", input: "ADS.Example.COM", expected: "example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GetApexDomain(tt.input)
			if got != tt.expected {
				t.Errorf("GetApexDomain(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

package permissions

import (
	"errors"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		raw     string
		want    Grant
		wantErr bool
	}{
		{raw: "events:create@group:fotball", want: Grant{Permission: "events:create", Scope: "group:fotball"}},
		{raw: "news:update@news-42", want: Grant{Permission: "news:update", Scope: "news-42"}},
		{raw: "events:create", want: Grant{Permission: "events:create", Scope: Wildcard}},
		{raw: "events:create@*", want: Grant{Permission: "events:create", Scope: Wildcard}},
		{raw: "root", want: Grant{Permission: "root", Scope: Wildcard}},
		{raw: "events:create@@x", wantErr: true},
		{raw: "a@b@c", wantErr: true},
		{raw: "@group:fotball", wantErr: true},
		{raw: "events:create@", wantErr: true},
		{raw: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := Parse(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q, got %+v", tt.raw, got)
				}
				if !errors.Is(err, ErrMalformedPermission) {
					t.Errorf("expected ErrMalformedPermission, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestFormat(t *testing.T) {
	if got := Format("events:create", Wildcard); got != "events:create" {
		t.Errorf("wildcard scope should be omitted, got %q", got)
	}
	if got := Format("events:create", ""); got != "events:create" {
		t.Errorf("empty scope should be omitted, got %q", got)
	}
	if got := Format("events:create", "group:fotball"); got != "events:create@group:fotball" {
		t.Errorf("unexpected format %q", got)
	}
}

func TestFormatParseRoundTrip(t *testing.T) {
	scopes := []string{Wildcard, "group:fotball", "news-42", "event:17"}
	perms := []Permission{"events:create", "news:update", Root}

	for _, p := range perms {
		for _, s := range scopes {
			raw := Format(p, s)
			if !Matches(raw, p, s) {
				t.Errorf("Matches(Format(%q, %q), ...) = false", p, s)
			}
			g, err := Parse(raw)
			if err != nil {
				t.Fatalf("Parse(%q): %v", raw, err)
			}
			if g.Permission != p || g.Scope != s {
				t.Errorf("round trip of (%q, %q) gave %+v", p, s, g)
			}
		}
	}
}

func TestMatches(t *testing.T) {
	tests := []struct {
		name     string
		granted  string
		required Permission
		scope    string
		want     bool
	}{
		{"wildcard matches any scope", "x:y@*", "x:y", "group:a", true},
		{"implicit wildcard matches any scope", "x:y", "x:y", "anything", true},
		{"exact scope", "x:y@group:a", "x:y", "group:a", true},
		{"different scope", "x:y@group:a", "x:y", "group:b", false},
		{"no prefix matching", "x:y@group", "x:y", "group:a", false},
		{"no hierarchical wildcard", "x:y@group:*", "x:y", "group:a", false},
		{"scoped grant does not satisfy global request", "x:y@group:a", "x:y", Wildcard, false},
		{"different permission", "x:z", "x:y", "group:a", false},
		{"malformed grant never matches", "x:y@@group:a", "x:y", "group:a", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Matches(tt.granted, tt.required, tt.scope); got != tt.want {
				t.Errorf("Matches(%q, %q, %q) = %v, want %v", tt.granted, tt.required, tt.scope, got, tt.want)
			}
		})
	}
}

func TestScopeToken(t *testing.T) {
	if got := GroupScope("fotball").String(); got != "group:fotball" {
		t.Errorf("GroupScope string = %q", got)
	}
	if got := ParseScope("news-42"); got.ResourceType != "" || got.ResourceID != "news-42" {
		t.Errorf("ParseScope(news-42) = %+v", got)
	}
	if got := ParseScope("event:17"); got != ResourceScope("event", "17") {
		t.Errorf("ParseScope(event:17) = %+v", got)
	}
	if got := ParseScope(Wildcard).String(); got != Wildcard {
		t.Errorf("wildcard token formats as %q", got)
	}
	if !(ScopeToken{}).IsZero() {
		t.Error("zero token should report IsZero")
	}
}

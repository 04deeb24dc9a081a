package templates

import (
	"testing"
	"testing/fstest"
)

func TestSplitPrompt(t *testing.T) {
	tests := []struct {
		name       string
		output     string
		wantSystem string
		wantUser   string
	}{
		{"with separator", "You are an analyst.\n=== USER PROMPT ===\nScore this.", "You are an analyst.", "Score this."},
		{"no separator", "  just user  ", "", "just user"},
		{"empty system", "=== USER PROMPT ===\nhello", "", "hello"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			system, user := SplitPrompt(tt.output)
			if system != tt.wantSystem {
				t.Errorf("system = %q, want %q", system, tt.wantSystem)
			}
			if user != tt.wantUser {
				t.Errorf("user = %q, want %q", user, tt.wantUser)
			}
		})
	}
}

func TestNewManagerFS(t *testing.T) {
	fsys := fstest.MapFS{
		"hello.tmpl": &fstest.MapFile{Data: []byte(`sys
=== USER PROMPT ===
{{truncate .Text 5}}`)},
	}

	m, err := NewManagerFS(fsys)
	if err != nil {
		t.Fatalf("NewManagerFS: %v", err)
	}
	if err := m.Require("hello.tmpl"); err != nil {
		t.Fatalf("Require: %v", err)
	}
	if err := m.Require("missing.tmpl"); err == nil {
		t.Error("expected error for missing template")
	}

	out, err := m.ExecuteTemplate("hello.tmpl", map[string]string{"Text": "abcdefgh"})
	if err != nil {
		t.Fatalf("ExecuteTemplate: %v", err)
	}
	system, user := SplitPrompt(out)
	if system != "sys" || user != "abcde" {
		t.Errorf("got (%q, %q)", system, user)
	}
}

func TestTruncateRunes(t *testing.T) {
	if got := Truncate("héllo", 2); got != "hé" {
		t.Errorf("Truncate = %q", got)
	}
	if got := Truncate("abc", 10); got != "abc" {
		t.Errorf("Truncate = %q", got)
	}
}

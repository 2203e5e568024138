package cli

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/velocols/colprofile/internal/config"
)

// TestConfigCmd tests the config command group structure
func TestConfigCmd(t *testing.T) {
	cmd := newConfigCmd()
	if cmd.Use != "config" {
		t.Errorf("Expected Use='config', got '%s'", cmd.Use)
	}

	want := map[string]bool{"show": false, "path": false, "set-credentials": false, "test": false}
	for _, sub := range cmd.Commands() {
		if _, ok := want[sub.Name()]; ok {
			want[sub.Name()] = true
		}
		if sub.Short == "" {
			t.Errorf("%s: Short description is empty", sub.Name())
		}
		if sub.RunE == nil {
			t.Errorf("%s: RunE function is nil", sub.Name())
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}

func TestConfigSetCredentialsFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials")
	credentialsFile = path
	defer func() { credentialsFile = "" }()

	var out bytes.Buffer
	cmd := newConfigSetCredentialsCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--api-key", "abcd-efgh-1234", "--base-url", "https://elevation.example"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("set-credentials: %v", err)
	}

	creds, err := config.LoadCredentials(path)
	if err != nil {
		t.Fatal(err)
	}
	if creds.APIKey != "abcd-efgh-1234" || creds.BaseURL != "https://elevation.example" {
		t.Errorf("saved credentials = %+v", creds)
	}
	if strings.Contains(out.String(), "abcd-efgh") {
		t.Errorf("output leaks the key: %q", out.String())
	}
	if !strings.Contains(out.String(), "1234") {
		t.Errorf("output = %q, want masked key suffix", out.String())
	}
}

func TestConfigShowMasksSecrets(t *testing.T) {
	env := newTestEnv(t, "http://127.0.0.1:1")

	out, err := env.run("config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if strings.Contains(out, testAPIKey) {
		t.Errorf("config show leaks the API key:\n%s", out)
	}
	if !strings.Contains(out, "driver: memory") {
		t.Errorf("config show output missing store driver:\n%s", out)
	}
}

func TestConfigPathListsDefaults(t *testing.T) {
	var out bytes.Buffer
	printConfigPaths(&out)
	for _, p := range config.DefaultConfigPaths() {
		if !strings.Contains(out.String(), p) {
			t.Errorf("output missing %s:\n%s", p, out.String())
		}
	}
	if !strings.Contains(out.String(), "Credentials:") {
		t.Errorf("output missing credentials line:\n%s", out.String())
	}
}

func TestPromptLine(t *testing.T) {
	tests := []struct {
		name  string
		input string
		def   string
		want  string
	}{
		{"answer", "https://a.example\n", "https://default", "https://a.example"},
		{"empty takes default", "\n", "https://default", "https://default"},
		{"trimmed", "  value  \n", "", "value"},
		{"no trailing newline", "last", "", "last"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			got, err := promptLine(bufio.NewReader(strings.NewReader(tt.input)), &out, "URL", tt.def)
			if err != nil {
				t.Fatalf("promptLine: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
			if tt.def != "" && !strings.Contains(out.String(), "["+tt.def+"]") {
				t.Errorf("prompt %q does not show the default", out.String())
			}
		})
	}
}

func TestPromptLineEOF(t *testing.T) {
	if _, err := promptLine(bufio.NewReader(strings.NewReader("")), &bytes.Buffer{}, "URL", ""); err == nil {
		t.Error("expected an error on empty input")
	}
}

func TestExistsMark(t *testing.T) {
	f := filepath.Join(t.TempDir(), "present")
	if err := os.WriteFile(f, nil, 0600); err != nil {
		t.Fatal(err)
	}
	if existsMark(f) != "✓" {
		t.Errorf("existsMark(present) = %q", existsMark(f))
	}
	if existsMark(f+".missing") != "-" {
		t.Errorf("existsMark(missing) = %q", existsMark(f+".missing"))
	}
}

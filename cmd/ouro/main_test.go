package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ouro-ai-labs/ouro/internal/agent/tape"
)

func TestResolveProfileConfigPath(t *testing.T) {
	tests := []struct {
		name        string
		configPath  string
		profileFlag string
		env         string
		want        string
	}{
		{"no profile", "ouro.conf", "", "", "ouro.conf"},
		{"flag wins", "/etc/ouro/ouro.conf", "staging", "prod", "/etc/ouro/staging.conf"},
		{"env fallback", "/etc/ouro/ouro.conf", "", "prod", "/etc/ouro/prod.conf"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.env != "" {
				t.Setenv("OURO_PROFILE", tt.env)
			}
			if got := resolveProfileConfigPath(tt.configPath, tt.profileFlag); got != tt.want {
				t.Errorf("resolveProfileConfigPath(%q, %q) = %q, want %q", tt.configPath, tt.profileFlag, got, tt.want)
			}
		})
	}
}

func TestWriteTapeRoundTrips(t *testing.T) {
	tp := tape.NewTape()
	tp.Model = "claude-sonnet-4-20250514"
	tp.AddTurn(tape.Turn{Text: "hello"})

	path := filepath.Join(t.TempDir(), "session.tape.json")
	if err := writeTape(path, tp); err != nil {
		t.Fatalf("writeTape: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	got, err := tape.Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Model != tp.Model || got.TotalTurns() != 1 {
		t.Errorf("round-tripped tape = %+v, want model %q with 1 turn", got, tp.Model)
	}
}

func TestIsFatalCancelled(t *testing.T) {
	if isFatalCancelled(nil) {
		t.Error("nil error should not be fatal-cancelled")
	}
	if isFatalCancelled(os.ErrClosed) {
		t.Error("an unrelated error should not be fatal-cancelled")
	}
}

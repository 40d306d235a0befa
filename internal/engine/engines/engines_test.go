package engines

import (
	"strings"
	"testing"

	"github.com/dgnsrekt/decwav/internal/engine/piper"
	"github.com/dgnsrekt/decwav/internal/engine/tone"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		want    string
		wantErr string
	}{
		{name: tone.Name, want: tone.Name},
		{name: piper.Name, want: piper.Name},
		{name: "ton", wantErr: `did you mean "tone"`},
		{name: "festival", wantErr: "unknown engine"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng, err := New(Options{Name: tt.name, Tone: tone.DefaultConfig()})
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("New(%q) error = %v, want containing %q", tt.name, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("New(%q) unexpected error: %v", tt.name, err)
			}
			if eng.Name() != tt.want {
				t.Errorf("Name() = %q, want %q", eng.Name(), tt.want)
			}
		})
	}
}

func TestNames(t *testing.T) {
	got := Names()
	if len(got) != 2 || got[0] != piper.Name || got[1] != tone.Name {
		t.Errorf("Names() = %v", got)
	}
}

package tui

import "testing"

func newTestDetector(env map[string]string, tty bool) *Detector {
	d := NewDetector()
	d.getenv = func(k string) string { return env[k] }
	d.isTTY = func() bool { return tty }
	return d
}

func TestDetector_Detect(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		tty  bool
		want OutputMode
	}{
		{"terminal", nil, true, ModeStyled},
		{"pipe", nil, false, ModePlain},
		{"ci", map[string]string{"CI": "true"}, true, ModePlain},
		{"no color", map[string]string{"NO_COLOR": "1"}, true, ModePlain},
		{"dumb term", map[string]string{"TERM": "dumb"}, true, ModePlain},
		{"env json", map[string]string{"PROMPTFLOW_OUTPUT": "json"}, true, ModeJSON},
		{"env quiet", map[string]string{"PROMPTFLOW_OUTPUT": "quiet"}, false, ModeQuiet},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := newTestDetector(tt.env, tt.tty).Detect(); got != tt.want {
				t.Fatalf("Detect() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDetector_ForceAndNoColor(t *testing.T) {
	d := newTestDetector(nil, true).ForceMode(ModeJSON)
	if d.Detect() != ModeJSON {
		t.Fatal("forced mode ignored")
	}
	if newTestDetector(nil, true).NoColor(true).Detect() != ModePlain {
		t.Fatal("NoColor should fall back to plain")
	}
}

func TestParseOutputMode(t *testing.T) {
	for _, s := range []string{"styled", "plain", "json", "quiet"} {
		m, ok := ParseOutputMode(s)
		if !ok || m.String() != s {
			t.Errorf("ParseOutputMode(%q) = %s, %v", s, m, ok)
		}
	}
	if _, ok := ParseOutputMode("tui"); ok {
		t.Error("unknown mode accepted")
	}
	if OutputMode(99).String() != "unknown" {
		t.Error("out-of-range mode should be unknown")
	}
}

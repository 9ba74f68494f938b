package logging_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/momentics/hioload-rpc/internal/logging"
	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"":      zerolog.InfoLevel,
		"DEBUG": zerolog.DebugLevel,
		"warn":  zerolog.WarnLevel,
		"bogus": zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := logging.ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestJSONOutputAndEnvOverride(t *testing.T) {
	t.Setenv(logging.EnvLevel, "error")
	var buf bytes.Buffer
	l := logging.New(logging.Options{App: "test", Level: "debug", Format: "json", Out: &buf})
	l.Info().Msg("hidden")
	l.Error().Msg("shown")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, `"app":"test"`) || !strings.Contains(out, "shown") {
		t.Fatalf("output = %s", out)
	}
}

package config

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestSecret_Redaction(t *testing.T) {
	t.Parallel()

	const raw = "hunter2-hunter2-hunter2-hunter2!"
	cfg := Config{Auth: AuthConfig{JWT: JWTConfig{Secret: Secret(raw)}}}

	if got := fmt.Sprintf("%v %s", cfg.Auth.JWT, cfg.Auth.JWT.Secret); strings.Contains(got, raw) {
		t.Errorf("fmt leaked secret: %s", got)
	}

	var buf bytes.Buffer
	slog.New(slog.NewJSONHandler(&buf, nil)).Info("loaded", "secret", cfg.Auth.JWT.Secret)
	if strings.Contains(buf.String(), raw) || !strings.Contains(buf.String(), "[REDACTED]") {
		t.Errorf("slog output = %s", buf.String())
	}

	out, err := yaml.Marshal(cfg)
	if err != nil {
		t.Fatalf("yaml.Marshal() error: %v", err)
	}
	if strings.Contains(string(out), raw) || !strings.Contains(string(out), "[REDACTED]") {
		t.Errorf("yaml output = %s", out)
	}

	if cfg.Auth.JWT.Secret.Reveal() != raw {
		t.Error("Reveal() did not return the raw value")
	}
}

func TestSecret_Empty(t *testing.T) {
	t.Parallel()

	var s Secret
	if s.IsSet() || s.String() != "" {
		t.Errorf("empty secret: IsSet=%v String=%q", s.IsSet(), s.String())
	}
}

package logging

import (
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestRedactSensitiveData(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", ""},
		{"plain", "connected to wss://host/ws/sd", "connected to wss://host/ws/sd"},
		{"bearer", "Bearer abcdefgh12345678", RedactedPlaceholder},
		{"token pair", "token=abcdefgh1234", RedactedPlaceholder},
		{"authorization header", "authorization: s3cr3tvalue", RedactedPlaceholder},
		{"short token kept", "token=abc", "token=abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RedactSensitiveData(tt.input); got != tt.want {
				t.Errorf("RedactSensitiveData(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestIsSensitiveField(t *testing.T) {
	tests := map[string]bool{
		"GENERATOR_TOKEN": true,
		"authorization":   true,
		"api_key":         true,
		"user_id":         false,
		"executor":        false,
	}
	for key, want := range tests {
		if got := IsSensitiveField(key); got != want {
			t.Errorf("IsSensitiveField(%q) = %v, want %v", key, got, want)
		}
	}
}

func TestRedactField_Blob(t *testing.T) {
	long := strings.Repeat("A", MaxInlineValue+1)
	if got := RedactField("content", long); got != "[513 bytes]" {
		t.Errorf("RedactField(content) = %q", got)
	}
	if got := RedactField("init_image", "short"); got != "short" {
		t.Errorf("short blob altered: %q", got)
	}
	if got := RedactField("prompt", long); got != long {
		t.Error("non-blob field elided")
	}
}

func TestParseLogLevel(t *testing.T) {
	if got := ParseLogLevel(" WARNING ", zapcore.InfoLevel); got.String() != "warn" {
		t.Errorf("ParseLogLevel(WARNING) = %v", got)
	}
	if got := ParseLogLevel("verbose", zapcore.InfoLevel); got != zapcore.InfoLevel {
		t.Errorf("unknown level = %v, want default", got)
	}
}

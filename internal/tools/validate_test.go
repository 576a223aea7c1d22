package tools

import (
	"testing"
)

var weatherSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"city": map[string]any{"type": "string"},
		"days": map[string]any{"type": "integer", "minimum": 1, "maximum": 14},
	},
	"required":             []any{"city"},
	"additionalProperties": false,
}

func TestValidateArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    map[string]any
		wantErr bool
	}{
		{
			name: "valid args",
			args: map[string]any{"city": "Oslo", "days": 3},
		},
		{
			name: "valid args with float that is a whole number",
			args: map[string]any{"city": "Oslo", "days": float64(3)},
		},
		{
			name:    "missing required field",
			args:    map[string]any{"days": 3},
			wantErr: true,
		},
		{
			name:    "wrong type",
			args:    map[string]any{"city": 42},
			wantErr: true,
		},
		{
			name:    "out of range",
			args:    map[string]any{"city": "Oslo", "days": 99},
			wantErr: true,
		},
		{
			name:    "unexpected extra field",
			args:    map[string]any{"city": "Oslo", "planet": "Mars"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateArgs("weather-test", weatherSchema, tt.args)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateArgs() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateArgs_CachesCompiledSchema(t *testing.T) {
	if err := ValidateArgs("cache-test", weatherSchema, map[string]any{"city": "Oslo"}); err != nil {
		t.Fatalf("first ValidateArgs() error: %v", err)
	}

	if _, ok := schemaCache.Load("cache-test"); !ok {
		t.Error("compiled schema was not cached")
	}

	if err := ValidateArgs("cache-test", weatherSchema, map[string]any{"city": "Bergen"}); err != nil {
		t.Errorf("second ValidateArgs() error: %v", err)
	}
}

func TestDecodeArgs(t *testing.T) {
	type shellArgs struct {
		Command    string `json:"command"`
		TimeoutSec int    `json:"timeout_sec"`
		Background bool   `json:"background"`
	}

	args := map[string]any{
		"command": "ls -la",
		// JSON numbers arrive as float64
		"timeout_sec": float64(30),
		"background":  true,
	}

	got, err := DecodeArgs[shellArgs](args)
	if err != nil {
		t.Fatalf("DecodeArgs() error: %v", err)
	}

	if got.Command != "ls -la" {
		t.Errorf("Command = %q, want %q", got.Command, "ls -la")
	}
	if got.TimeoutSec != 30 {
		t.Errorf("TimeoutSec = %d, want 30", got.TimeoutSec)
	}
	if !got.Background {
		t.Error("Background = false, want true")
	}
}

func TestDecodeArgs_MissingFieldsGetZeroValues(t *testing.T) {
	type args struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}

	got, err := DecodeArgs[args](map[string]any{"path": "notes.txt"})
	if err != nil {
		t.Fatalf("DecodeArgs() error: %v", err)
	}
	if got.Path != "notes.txt" {
		t.Errorf("Path = %q, want notes.txt", got.Path)
	}
	if got.Content != "" {
		t.Errorf("Content = %q, want empty", got.Content)
	}
}

func TestDecodeArgs_RejectsUnconvertible(t *testing.T) {
	type args struct {
		Count int `json:"count"`
	}

	_, err := DecodeArgs[args](map[string]any{"count": map[string]any{"oops": true}})
	if err == nil {
		t.Error("DecodeArgs() should reject a map where an int is expected")
	}
}

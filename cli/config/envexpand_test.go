package config

import (
	"strings"
	"testing"
)

func TestExpandEnv(t *testing.T) {
	t.Setenv("CLIP_SET", "real")
	t.Setenv("CLIP_EMPTY", "")
	t.Setenv("CLIP_A", "alice")
	t.Setenv("CLIP_B", "bob")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"set", "value: ${CLIP_SET}", "value: real"},
		{"unset", "value: ${CLIP_UNSET_12345}", "value: "},
		{"default when unset", "value: ${CLIP_UNSET_12345:-fallback}", "value: fallback"},
		{"default when empty", "value: ${CLIP_EMPTY:-fallback}", "value: fallback"},
		{"default ignored when set", "value: ${CLIP_SET:-fallback}", "value: real"},
		{"required and set", "value: ${CLIP_SET:?need it}", "value: real"},
		{"multiple", "${CLIP_A}:${CLIP_B}", "alice:bob"},
		{"no references", "no variables here", "no variables here"},
		{"bare dollar untouched", "cost: $5 and $CLIP_SET", "cost: $5 and $CLIP_SET"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExpandEnv(tt.input)
			if err != nil {
				t.Fatalf("ExpandEnv failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExpandEnv_RequiredMissing(t *testing.T) {
	t.Setenv("CLIP_EMPTY", "")

	_, err := ExpandEnv("url: ${CLIP_HOOK_12345:?webhook url} token: ${CLIP_EMPTY:?}")
	if err == nil {
		t.Fatal("expected error for missing required variables")
	}
	for _, want := range []string{"CLIP_HOOK_12345", "webhook url", "CLIP_EMPTY", "not set"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q should mention %q", err, want)
		}
	}
}

func TestExpandEnv_NestedInYAML(t *testing.T) {
	t.Setenv("HOOK_TOKEN", "secret")
	t.Setenv("CLIP_DIR", "/srv/clip")

	input := `backend:
  path: ${CLIP_DIR}
adapter:
  headers:
    Authorization: Bearer ${HOOK_TOKEN}`

	got, err := ExpandEnv(input)
	if err != nil {
		t.Fatalf("ExpandEnv failed: %v", err)
	}
	want := `backend:
  path: /srv/clip
adapter:
  headers:
    Authorization: Bearer secret`

	if got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}
}

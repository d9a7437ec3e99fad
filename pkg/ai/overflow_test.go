package ai

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsContextOverflow(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"anthropic", errors.New("400: prompt is too long: 214431 tokens > 200000 maximum"), true},
		{"bedrock", errors.New("ValidationException: Input is too long for requested model."), true},
		{"openai", errors.New("This model's maximum context length is 128000 tokens. However, your messages resulted in 131111 tokens."), true},
		{"openai_window", errors.New("Requested tokens exceed the context window of this model"), true},
		{"groq", errors.New("Please reduce the length of the messages or completion."), true},
		{"generic_snake", errors.New("error code: context_length_exceeded"), true},
		{"wrapped", fmt.Errorf("call failed: %w", errors.New("too many tokens in request")), true},
		{"no_body_400", errors.New("400 status code (no body)"), true},
		{"no_body_413", errors.New("413 (no body)"), true},
		{"rate_limit", errors.New("429: rate limit exceeded"), false},
		{"unrelated", errors.New("connection refused"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsContextOverflow(tc.err); got != tc.want {
				t.Errorf("IsContextOverflow(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestIsSilentOverflow(t *testing.T) {
	u := Usage{InputTokens: 190000, CachedTokens: 20000}
	if !IsSilentOverflow(u, 200000) {
		t.Error("input+cached above window should report overflow")
	}
	if IsSilentOverflow(u, 0) {
		t.Error("contextWindow=0 must skip the check")
	}
	if IsSilentOverflow(Usage{InputTokens: 1000}, 200000) {
		t.Error("small input should not report overflow")
	}
}

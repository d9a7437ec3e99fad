package ai

import "regexp"

// Context-overflow detection.
//
// Providers report an over-long prompt as an ordinary request error, each in
// its own wording. IsContextOverflow pattern-matches the error text so the
// caller can compact the conversation and retry instead of failing the turn.
// If a provider changes its error format, detection fails until the pattern
// list is updated; the generic fallbacks catch most rewordings.

var overflowPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)prompt is too long`),                    // Anthropic
	regexp.MustCompile(`(?i)input is too long for requested model`), // Amazon Bedrock
	regexp.MustCompile(`(?i)exceed.*context window`),                // OpenAI
	regexp.MustCompile(`(?i)maximum context length is \d+ tokens`),  // OpenAI-compatible gateways
	regexp.MustCompile(`(?i)reduce the length of the messages`),     // Groq and other OpenAI clones
	regexp.MustCompile(`(?i)context[_ ]length[_ ]exceeded`),         // generic
	regexp.MustCompile(`(?i)too many tokens`),                       // generic
	regexp.MustCompile(`(?i)token limit exceeded`),                  // generic
}

// statusOverflowPattern matches providers that answer an over-long prompt
// with a bare 400/413 and no body (distinct from 429 rate limiting).
var statusOverflowPattern = regexp.MustCompile(`(?i)^4(00|13)\s*(status code)?\s*\(no body\)`)

// IsContextOverflow reports whether err looks like a context-window overflow.
func IsContextOverflow(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, re := range overflowPatterns {
		if re.MatchString(msg) {
			return true
		}
	}
	return statusOverflowPattern.MatchString(msg)
}

// IsSilentOverflow reports the case where a provider accepted an over-long
// request and answered normally: the reported input exceeds the model's
// context window. Pass contextWindow = 0 to skip the check.
func IsSilentOverflow(usage Usage, contextWindow int) bool {
	if contextWindow <= 0 {
		return false
	}
	return usage.InputTokens+usage.CachedTokens > contextWindow
}

package convo

import (
	"fmt"

	"github.com/tern-dev/tern/pkg/ai"
)

// DefaultKeepRecent is how many trailing messages compaction retains when no
// override is given.
const DefaultKeepRecent = 10

// CompactResult describes one compaction pass.
type CompactResult struct {
	// Compacted is false when the log was already within bounds.
	Compacted bool
	// Elided is the number of messages folded into the placeholder.
	Elided int
	// TokensBefore and TokensAfter are the estimates around the pass.
	TokensBefore int
	TokensAfter  int
}

// ShouldCompact reports whether the token estimate exceeds threshold.
// threshold <= 0 disables the check.
func (s *Store) ShouldCompact(threshold int) bool {
	if threshold <= 0 {
		return false
	}
	return s.TokenEstimate() > threshold
}

// Compact reduces the log to the first two and last keepRecent messages and
// inserts a synthetic system placeholder recording how many were elided.
//
// The keep windows are extended rather than split a tool-call/tool-result
// pair: a window boundary landing inside a run of tool results moves until
// the owning assistant message and all its results are on the same side.
func (s *Store) Compact(keepRecent int) CompactResult {
	if keepRecent <= 0 {
		keepRecent = DefaultKeepRecent
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res := CompactResult{TokensBefore: s.estimateLocked()}

	n := len(s.messages)
	headEnd := min(2, n)
	tailStart := n - keepRecent
	if tailStart < headEnd {
		res.TokensAfter = res.TokensBefore
		return res
	}

	// A tool result on the tail boundary pulls the boundary back to its
	// assistant; tool results dangling off the head boundary are pulled
	// into the head. The invariant guarantees only tool messages sit
	// between an assistant and its last result.
	for tailStart > headEnd && s.messages[tailStart].Role == ai.RoleTool {
		tailStart--
	}
	for headEnd < tailStart && s.messages[headEnd].Role == ai.RoleTool {
		headEnd++
	}

	elided := tailStart - headEnd
	if elided <= 0 {
		res.TokensAfter = res.TokensBefore
		return res
	}

	placeholder := ai.SystemMessage(fmt.Sprintf("Conversation compacted: %d earlier messages elided.", elided))

	kept := make([]ai.Message, 0, headEnd+1+(n-tailStart))
	kept = append(kept, s.messages[:headEnd]...)
	kept = append(kept, placeholder)
	kept = append(kept, s.messages[tailStart:]...)
	s.messages = kept

	res.Compacted = true
	res.Elided = elided
	res.TokensAfter = s.estimateLocked()
	return res
}

// estimateLocked is TokenEstimate for callers already holding the lock.
func (s *Store) estimateLocked() int {
	n := len(s.system)
	for _, m := range s.messages {
		n += m.ByteLen()
	}
	return n / 3
}

package convo

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/tern-dev/tern/pkg/ai"
)

// maxLineBytes bounds one persisted message line. Tool outputs are truncated
// long before this, so the cap only guards against corrupt files.
const maxLineBytes = 4 << 20

// WriteJSONL writes msgs to w, one JSON object per line.
func WriteJSONL(w io.Writer, msgs []ai.Message) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	for i := range msgs {
		if err := enc.Encode(&msgs[i]); err != nil {
			return fmt.Errorf("encode message %d: %w", i, err)
		}
	}
	return bw.Flush()
}

// ReadJSONL parses messages from r, one JSON object per line, preserving
// order. It is lenient: blank lines and lines that fail to parse are skipped
// and counted, unknown fields are ignored. Two normalisations are applied to
// what was read:
//
//   - an assistant message with tool calls and no reasoning_content gets the
//     empty string (the Go zero value already is one; the field round-trips),
//   - a tool-call arguments string that is not valid JSON is replaced with
//     {"_invalid_json_args": true, "original_length": N} so providers are
//     never shown broken JSON.
//
// These are the only mutations performed during load.
func ReadJSONL(r io.Reader) ([]ai.Message, int, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)

	var msgs []ai.Message
	skipped := 0
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var m ai.Message
		if err := json.Unmarshal([]byte(line), &m); err != nil || m.Role == "" {
			skipped++
			continue
		}
		normalizeLoaded(&m)
		msgs = append(msgs, m)
	}
	if err := sc.Err(); err != nil {
		return msgs, skipped, fmt.Errorf("read messages: %w", err)
	}
	return msgs, skipped, nil
}

func normalizeLoaded(m *ai.Message) {
	if m.Role != ai.RoleAssistant {
		return
	}
	for i, tc := range m.ToolCalls {
		if tc.Arguments == "" || !json.Valid([]byte(tc.Arguments)) {
			m.ToolCalls[i].Arguments = InvalidArgsPayload(len(tc.Arguments))
		}
	}
}

// InvalidArgsPayload is the canonical replacement for persisted tool-call
// arguments that are not valid JSON.
func InvalidArgsPayload(originalLen int) string {
	return fmt.Sprintf(`{"_invalid_json_args": true, "original_length": %d}`, originalLen)
}

// Save writes the current log to path, replacing the file.
func (s *Store) Save(path string) error {
	msgs := s.History()
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := WriteJSONL(f, msgs); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Load replaces the current log with the messages read from path and returns
// the number of skipped lines. A missing file loads as an empty log.
func (s *Store) Load(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			s.Replace(nil)
			return 0, nil
		}
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	msgs, skipped, err := ReadJSONL(f)
	if err != nil {
		return skipped, err
	}
	s.mu.Lock()
	s.messages = msgs
	s.mu.Unlock()
	if skipped > 0 {
		s.logger.Warn("skipped malformed context lines", "path", path, "count", skipped)
	}
	return skipped, nil
}

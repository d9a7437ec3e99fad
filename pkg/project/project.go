// Package project is the on-disk home of a session. Each project directory
// holds its metadata, the append-only context log, immutable snapshots and a
// workspace for tool-produced files:
//
//	<base>/projects/<id>/
//	  meta.json
//	  context.jsonl
//	  snapshots/<snapshot_id>.jsonl
//	  workspace/
//
// A Store implements the persistence hooks the conversation store and the
// artifact buffer write through.
package project

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tern-dev/tern/pkg/ai"
	"github.com/tern-dev/tern/pkg/convo"
)

// Meta is the persisted project identity.
type Meta struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is one opened project directory.
type Store struct {
	dir string

	mu      sync.Mutex
	meta    Meta
	ctxFile *os.File
}

func projectsDir(base string) string { return filepath.Join(base, "projects") }

// Create makes a new project under base and returns its open Store.
func Create(base, title string) (*Store, error) {
	id := uuid.NewString()[:8]
	dir := filepath.Join(projectsDir(base), id)
	for _, sub := range []string{"snapshots", "workspace"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create project directory: %w", err)
		}
	}

	now := time.Now().UTC()
	s := &Store{dir: dir, meta: Meta{ID: id, Title: title, CreatedAt: now, UpdatedAt: now}}
	if err := s.writeMeta(); err != nil {
		return nil, err
	}
	return s, nil
}

// Open opens an existing project by id or unique id prefix.
func Open(base, idPrefix string) (*Store, error) {
	if idPrefix == "" {
		return nil, fmt.Errorf("empty project id")
	}
	metas, err := List(base)
	if err != nil {
		return nil, err
	}
	var matches []Meta
	for _, m := range metas {
		if strings.HasPrefix(m.ID, idPrefix) {
			matches = append(matches, m)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("no project matching %q", idPrefix)
	case 1:
		return &Store{
			dir:  filepath.Join(projectsDir(base), matches[0].ID),
			meta: matches[0],
		}, nil
	default:
		ids := make([]string, len(matches))
		for i, m := range matches {
			ids[i] = m.ID
		}
		return nil, fmt.Errorf("project id %q is ambiguous: %s", idPrefix, strings.Join(ids, ", "))
	}
}

// List returns the metadata of every project under base, most recently
// updated first. Directories without a readable meta.json are skipped.
func List(base string) ([]Meta, error) {
	entries, err := os.ReadDir(projectsDir(base))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read projects directory: %w", err)
	}

	var out []Meta
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(projectsDir(base), e.Name(), "meta.json"))
		if err != nil {
			continue
		}
		var m Meta
		if err := json.Unmarshal(data, &m); err != nil || m.ID == "" {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// ID returns the project id.
func (s *Store) ID() string { return s.meta.ID }

// Title returns the project title.
func (s *Store) Title() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta.Title
}

// Dir returns the project directory.
func (s *Store) Dir() string { return s.dir }

// Workspace returns the directory tools operate in.
func (s *Store) Workspace() string { return filepath.Join(s.dir, "workspace") }

func (s *Store) contextPath() string { return filepath.Join(s.dir, "context.jsonl") }

// LoadMessages reads the persisted context log. A missing file loads as an
// empty log. skipped counts malformed lines.
func (s *Store) LoadMessages() ([]ai.Message, int, error) {
	f, err := os.Open(s.contextPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("open context log: %w", err)
	}
	defer f.Close()
	return convo.ReadJSONL(f)
}

// AppendMessage appends one message line to context.jsonl.
func (s *Store) AppendMessage(msg ai.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctxFile == nil {
		f, err := os.OpenFile(s.contextPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open context log: %w", err)
		}
		s.ctxFile = f
	}
	enc := json.NewEncoder(s.ctxFile)
	if err := enc.Encode(&msg); err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return s.touchLocked()
}

// SaveSnapshot writes an immutable copy of msgs under snapshots/, with a
// sidecar recording the label.
func (s *Store) SaveSnapshot(id, label string, msgs []ai.Message) error {
	path := filepath.Join(s.dir, "snapshots", id+".jsonl")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	if err := convo.WriteJSONL(f, msgs); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	side := struct {
		ID        string    `json:"id"`
		Label     string    `json:"label,omitempty"`
		CreatedAt time.Time `json:"created_at"`
		Messages  int       `json:"messages"`
	}{ID: id, Label: label, CreatedAt: time.Now().UTC(), Messages: len(msgs)}
	data, _ := json.MarshalIndent(side, "", "  ")
	if err := os.WriteFile(filepath.Join(s.dir, "snapshots", id+".meta.json"), data, 0o644); err != nil {
		return fmt.Errorf("write snapshot meta: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.touchLocked()
}

// LoadSnapshot reads the messages of a stored snapshot.
func (s *Store) LoadSnapshot(id string) ([]ai.Message, error) {
	f, err := os.Open(filepath.Join(s.dir, "snapshots", id+".jsonl"))
	if err != nil {
		return nil, fmt.Errorf("open snapshot %s: %w", id, err)
	}
	defer f.Close()
	msgs, _, err := convo.ReadJSONL(f)
	return msgs, err
}

// PersistArtifact writes data under the workspace at the given relative key,
// creating parent directories. Keys that escape the workspace are rejected.
func (s *Store) PersistArtifact(key string, data []byte) error {
	rel := filepath.Clean(filepath.FromSlash(key))
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("artifact key %q escapes the workspace", key)
	}
	path := filepath.Join(s.Workspace(), rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create artifact directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.touchLocked()
}

// SetTitle renames the project.
func (s *Store) SetTitle(title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta.Title = title
	return s.writeMetaLocked()
}

// Close releases the context log handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctxFile == nil {
		return nil
	}
	err := s.ctxFile.Close()
	s.ctxFile = nil
	return err
}

func (s *Store) touchLocked() error {
	s.meta.UpdatedAt = time.Now().UTC()
	return s.writeMetaLocked()
}

func (s *Store) writeMeta() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeMetaLocked()
}

func (s *Store) writeMetaLocked() error {
	data, err := json.MarshalIndent(&s.meta, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(s.dir, "meta.json"), data, 0o644); err != nil {
		return fmt.Errorf("write meta: %w", err)
	}
	return nil
}

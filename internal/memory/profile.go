// Package memory persists the user profile: who the user is, their
// stated preferences, and free-form notes the assistant should recall.
package memory

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const profileFile = "user_profile.json"

// Profile is the persisted user profile.
type Profile struct {
	Name        string            `json:"name"`
	Preferences map[string]string `json:"preferences"`
	Notes       []Note            `json:"notes"`
}

// Note is one remembered fact with the time it was recorded.
type Note struct {
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Store owns the profile file under the data directory. All methods
// are safe for concurrent use.
type Store struct {
	path   string
	logger *slog.Logger

	mu      sync.Mutex
	profile Profile
}

// NewStore loads the profile from dataDir, creating a fresh one with
// the conventional form of address when none exists yet.
func NewStore(dataDir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	s := &Store{
		path:   filepath.Join(dataDir, profileFile),
		logger: logger,
		profile: Profile{
			Name:        "Master",
			Preferences: map[string]string{},
		},
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("reading profile: %w", err)
	}
	if err := json.Unmarshal(data, &s.profile); err != nil {
		// A corrupt profile should not brick the assistant. Start over
		// and keep the broken file aside for inspection.
		logger.Warn("profile file corrupt, starting fresh", "path", s.path, "error", err)
		_ = os.Rename(s.path, s.path+".corrupt")
		return s, nil
	}
	if s.profile.Preferences == nil {
		s.profile.Preferences = map[string]string{}
	}
	return s, nil
}

// GetProfile returns a copy of the current profile.
func (s *Store) GetProfile() Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

// SetName records what the user wants to be called.
func (s *Store) SetName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("name must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profile.Name = name
	return s.save()
}

// SetPreference records one key/value preference.
func (s *Store) SetPreference(key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("preference key must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profile.Preferences[key] = value
	return s.save()
}

// AddNote appends a timestamped note.
func (s *Store) AddNote(content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return fmt.Errorf("note must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profile.Notes = append(s.profile.Notes, Note{
		Content:   content,
		CreatedAt: time.Now(),
	})
	return s.save()
}

// Notes returns all recorded notes, oldest first.
func (s *Store) Notes() []Note {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Note(nil), s.profile.Notes...)
}

// PromptSuffix renders the profile as a system prompt addition: the
// form of address, the preferences, and the five most recent notes.
func (s *Store) PromptSuffix() string {
	s.mu.Lock()
	p := s.snapshot()
	s.mu.Unlock()

	var b strings.Builder
	b.WriteString("\n\n关于用户的已知信息：\n")
	b.WriteString("- 称呼：" + p.Name + "\n")
	for key, value := range p.Preferences {
		b.WriteString(fmt.Sprintf("- 偏好 %s：%s\n", key, value))
	}

	notes := p.Notes
	if len(notes) > 5 {
		notes = notes[len(notes)-5:]
	}
	for _, n := range notes {
		b.WriteString("- 备注：" + n.Content + "\n")
	}
	return b.String()
}

func (s *Store) snapshot() Profile {
	p := Profile{
		Name:        s.profile.Name,
		Preferences: make(map[string]string, len(s.profile.Preferences)),
		Notes:       append([]Note(nil), s.profile.Notes...),
	}
	for k, v := range s.profile.Preferences {
		p.Preferences[k] = v
	}
	return p
}

// save writes the profile atomically: temp file in the same directory,
// then rename over the target.
func (s *Store) save() error {
	data, err := json.MarshalIndent(s.profile, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling profile: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".profile-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp profile: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing profile: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing profile: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing profile: %w", err)
	}
	return nil
}

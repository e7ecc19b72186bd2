// Package profile loads assistant profiles and persona memory from
// YAML files. A profile maps a name to the system prompt (and metadata)
// used for chat; persona memory is a set of YAML documents injected
// into the system prompt as persistent private context.
package profile

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Profile describes one assistant persona.
type Profile struct {
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description"`
	SystemPrompt string   `yaml:"system_prompt"`
	Tenant       string   `yaml:"tenant"`
	Tags         []string `yaml:"tags"`
}

// FallbackProfile is used when no profile files exist at all.
var FallbackProfile = Profile{
	Name:         "fallback",
	SystemPrompt: "You are a helpful personal assistant.",
}

// Store holds the loaded profiles and persona memory. Profiles are read
// once at startup; Reload re-reads them on demand.
type Store struct {
	profileDir string
	personaDir string

	profiles map[string]Profile
	order    []string
	persona  map[string]any
}

func NewStore(profileDir, personaDir string) (*Store, error) {
	s := &Store{
		profileDir: profileDir,
		personaDir: personaDir,
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads every profile and persona file. A single unreadable
// file is skipped with a warning rather than failing the load.
func (s *Store) Reload() error {
	profiles, order, err := loadProfiles(s.profileDir)
	if err != nil {
		return err
	}
	s.profiles = profiles
	s.order = order

	s.persona = loadPersona(s.personaDir)
	return nil
}

func loadProfiles(dir string) (map[string]Profile, []string, error) {
	profiles := make(map[string]Profile)
	var order []string

	if dir == "" {
		return profiles, order, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return profiles, order, nil
		}
		return nil, nil, fmt.Errorf("failed to read profiles directory: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() || !isYAML(e.Name()) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			log.Printf("Warning: failed to read profile %s: %v", path, err)
			continue
		}
		var p Profile
		if err := yaml.Unmarshal(data, &p); err != nil {
			log.Printf("Warning: failed to parse profile %s: %v", path, err)
			continue
		}
		if p.Name == "" {
			p.Name = strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		}
		if _, dup := profiles[p.Name]; !dup {
			order = append(order, p.Name)
		}
		profiles[p.Name] = p
	}

	sort.Strings(order)
	return profiles, order, nil
}

func loadPersona(dir string) map[string]any {
	persona := make(map[string]any)
	if dir == "" {
		return persona
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return persona
	}
	for _, e := range entries {
		if e.IsDir() || !isYAML(e.Name()) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			log.Printf("Warning: failed to read persona file %s: %v", path, err)
			continue
		}
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			log.Printf("Warning: failed to parse persona file %s: %v", path, err)
			continue
		}
		key := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		persona[key] = doc
	}
	return persona
}

func isYAML(name string) bool {
	return strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")
}

// Resolve returns the named profile, falling back to "general", then
// the first profile in name order, then the built-in fallback.
func (s *Store) Resolve(name string) Profile {
	if p, ok := s.profiles[name]; ok {
		return p
	}
	if p, ok := s.profiles["general"]; ok {
		return p
	}
	if len(s.order) > 0 {
		return s.profiles[s.order[0]]
	}
	return FallbackProfile
}

// List returns every loaded profile in name order.
func (s *Store) List() []Profile {
	out := make([]Profile, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.profiles[name])
	}
	return out
}

// PersonaBlock renders the persona memory as a prompt snippet. Empty
// when no persona files are loaded.
func (s *Store) PersonaBlock() string {
	if len(s.persona) == 0 {
		return ""
	}
	keys := make([]string, 0, len(s.persona))
	for k := range s.persona {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		data, err := json.Marshal(s.persona[k])
		if err != nil {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s", k, data))
	}
	return strings.Join(parts, "\n\n")
}

package profile

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/zalando/go-keyring"
	"gopkg.in/yaml.v3"
)

// KeyringService is the service name under which saved passwords live in the
// OS keyring.
const KeyringService = "dbridge"

// ErrNotFound is returned when a named profile does not exist in the store.
var ErrNotFound = errors.New("profile not found")

// Store is a read-only view of the saved connection profiles. The file is
// owned by whatever tool edits saved connections; this package never writes
// it.
type Store struct {
	profiles []Profile
}

type storeFile struct {
	Connections []Profile `yaml:"connections"`
}

// LoadStore reads profiles from the YAML file at path. A missing file yields
// an empty store.
func LoadStore(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Store{}, nil
		}
		return nil, fmt.Errorf("read profiles: %w", err)
	}
	return ParseStore(data)
}

// ParseStore decodes a profile document.
func ParseStore(data []byte) (*Store, error) {
	var f storeFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse profiles: %w", err)
	}
	seen := make(map[string]bool, len(f.Connections))
	for i, p := range f.Connections {
		if p.Name == "" {
			return nil, fmt.Errorf("parse profiles: entry %d has no name", i+1)
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("parse profiles: duplicate name %q", p.Name)
		}
		seen[p.Name] = true
		if p.Engine != "" {
			e, err := ParseEngine(string(p.Engine))
			if err != nil {
				return nil, fmt.Errorf("parse profiles: %s: %w", p.Name, err)
			}
			f.Connections[i].Engine = e
		}
	}
	return &Store{profiles: f.Connections}, nil
}

// Lookup returns the profile with the given name.
func (s *Store) Lookup(name string) (Profile, error) {
	for _, p := range s.profiles {
		if p.Name == name {
			return p, nil
		}
	}
	return Profile{}, fmt.Errorf("%w: %s", ErrNotFound, name)
}

// Names returns the saved profile names sorted alphabetically.
func (s *Store) Names() []string {
	names := make([]string, 0, len(s.profiles))
	for _, p := range s.profiles {
		names = append(names, p.Name)
	}
	sort.Strings(names)
	return names
}

// All returns a copy of every saved profile in file order.
func (s *Store) All() []Profile {
	out := make([]Profile, len(s.profiles))
	copy(out, s.profiles)
	return out
}

// ResolvePassword fills in the password from the OS keyring when the profile
// asks for it. The keyring is only read.
func ResolvePassword(p Profile) (Profile, error) {
	if !p.PasswordFromKeyring || p.Password != "" {
		return p, nil
	}
	secret, err := keyring.Get(KeyringService, p.Name)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return p, fmt.Errorf("keyring: no password saved for %q", p.Name)
		}
		return p, fmt.Errorf("keyring: %w", err)
	}
	p.Password = secret
	return p, nil
}

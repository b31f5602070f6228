package profile

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Engine identifies one of the supported database engine families.
type Engine string

const (
	EngineMySQL    Engine = "mysql"
	EnginePostgres Engine = "postgres"
	EngineSQLite   Engine = "sqlite"
)

// DefaultConnectTimeout bounds connection attempts when a profile does not
// set its own timeout.
const DefaultConnectTimeout = 10 * time.Second

// Engines lists every supported engine in display order.
var Engines = []Engine{EngineMySQL, EnginePostgres, EngineSQLite}

// ParseEngine maps a user-supplied engine name (including common aliases)
// to an Engine.
func ParseEngine(s string) (Engine, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mysql", "mariadb":
		return EngineMySQL, nil
	case "postgres", "postgresql", "pg":
		return EnginePostgres, nil
	case "sqlite", "sqlite3":
		return EngineSQLite, nil
	}
	return "", fmt.Errorf("unknown engine %q", s)
}

// Embedded reports whether the engine is file based.
func (e Engine) Embedded() bool { return e == EngineSQLite }

// DefaultPort returns the conventional server port, or 0 for embedded engines.
func (e Engine) DefaultPort() int {
	switch e {
	case EngineMySQL:
		return 3306
	case EnginePostgres:
		return 5432
	}
	return 0
}

// Profile describes how to reach one database server or file. Profiles are
// values: a handle built from a profile keeps its own copy.
type Profile struct {
	Name     string `yaml:"name"`
	Engine   Engine `yaml:"engine"`
	Host     string `yaml:"host,omitempty"`
	Port     int    `yaml:"port,omitempty"`
	User     string `yaml:"user,omitempty"`
	Password string `yaml:"password,omitempty"`
	Database string `yaml:"database,omitempty"`
	File     string `yaml:"file,omitempty"`
	SSLMode  string `yaml:"sslmode,omitempty"`

	// PasswordFromKeyring makes ResolvePassword read the password from the
	// OS keyring instead of the profile itself.
	PasswordFromKeyring bool `yaml:"password_from_keyring,omitempty"`

	ConnectTimeout time.Duration `yaml:"connect_timeout,omitempty"`
}

// Validate checks that the profile carries what its engine needs.
func (p Profile) Validate() error {
	switch p.Engine {
	case EngineMySQL, EnginePostgres:
		if p.Host == "" {
			return errors.New("profile: host is required")
		}
	case EngineSQLite:
		if p.File == "" {
			return errors.New("profile: file is required for sqlite")
		}
	case "":
		return errors.New("profile: engine is required")
	default:
		return fmt.Errorf("profile: unknown engine %q", p.Engine)
	}
	if p.Port < 0 || p.Port > 65535 {
		return fmt.Errorf("profile: port %d out of range", p.Port)
	}
	return nil
}

// EffectivePort returns the configured port, falling back to the engine
// default when unset.
func (p Profile) EffectivePort() int {
	if p.Port > 0 {
		return p.Port
	}
	return p.Engine.DefaultPort()
}

// Timeout returns the connect timeout to apply.
func (p Profile) Timeout() time.Duration {
	if p.ConnectTimeout > 0 {
		return p.ConnectTimeout
	}
	return DefaultConnectTimeout
}

// Label returns the display label, deriving one when Name is empty.
func (p Profile) Label() string {
	if p.Name != "" {
		return p.Name
	}
	return p.DisplayString()
}

// DisplayString renders the profile as "engine://host:port/database" or
// "engine://file". Credentials are never included.
func (p Profile) DisplayString() string {
	if p.Engine.Embedded() {
		return fmt.Sprintf("%s://%s", p.Engine, filepath.Clean(p.File))
	}
	host := p.Host
	if host == "" {
		host = "localhost"
	}
	location := fmt.Sprintf("%s:%d", host, p.EffectivePort())
	if p.Database != "" {
		return fmt.Sprintf("%s://%s/%s", p.Engine, location, p.Database)
	}
	return fmt.Sprintf("%s://%s", p.Engine, location)
}

// WithDatabase returns a copy of the profile pointing at another database.
func (p Profile) WithDatabase(name string) Profile {
	p.Database = name
	return p
}

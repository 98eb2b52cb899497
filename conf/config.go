package conf

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Contact is a named entry from the config file that can be dialed by name.
type Contact struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address"` // host, host:port, [v6] or [v6]:port
}

// File is the on-disk configuration. Zero fields fall back to flag defaults.
type File struct {
	Port        int           `yaml:"port,omitempty"`
	Bind        string        `yaml:"bind,omitempty"`
	DialTimeout time.Duration `yaml:"dial_timeout,omitempty"`
	ChunkSize   int           `yaml:"chunk_size,omitempty"`
	Contacts    []Contact     `yaml:"contacts,omitempty"`
}

// LoadFile reads the YAML config at path. A missing file yields an empty File.
func LoadFile(path string) (*File, error) {
	if path == "" {
		return &File{}, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &File{}, nil
		}
		return nil, err
	}
	var f File
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := f.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &f, nil
}

func (f *File) validate() error {
	if f.Port != 0 && (f.Port < 1 || f.Port > 65534) {
		return fmt.Errorf("port %d out of range", f.Port)
	}
	if f.DialTimeout < 0 {
		return fmt.Errorf("negative dial_timeout")
	}
	if f.ChunkSize < 0 {
		return fmt.Errorf("negative chunk_size")
	}
	seen := make(map[string]struct{}, len(f.Contacts))
	for i, c := range f.Contacts {
		key := normalizeContactKey(c.Name)
		if key == "" || strings.TrimSpace(c.Address) == "" {
			return fmt.Errorf("contact #%d needs a name and an address", i+1)
		}
		if _, dup := seen[key]; dup {
			return fmt.Errorf("duplicate contact %q", c.Name)
		}
		seen[key] = struct{}{}
	}
	return nil
}

// Lookup returns the address of the contact called name, ignoring case.
func (f *File) Lookup(name string) (string, bool) {
	target := normalizeContactKey(name)
	if target == "" {
		return "", false
	}
	for _, c := range f.Contacts {
		if normalizeContactKey(c.Name) == target {
			return strings.TrimSpace(c.Address), true
		}
	}
	return "", false
}

// Add appends a contact after checking it the same way the loader does.
func (f *File) Add(c Contact) error {
	c.Name, c.Address = strings.TrimSpace(c.Name), strings.TrimSpace(c.Address)
	next := *f
	next.Contacts = append(append([]Contact(nil), f.Contacts...), c)
	if err := next.validate(); err != nil {
		return err
	}
	f.Contacts = next.Contacts
	return nil
}

// Save writes f to path as YAML, creating the parent directory.
func (f *File) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := yaml.Marshal(f)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// resolveConfigPath normalizes the config file path, expanding "~" and converting
// it to an absolute path. When cfg is empty it defaults to
// $XDG_CONFIG_HOME/ipphone/config.yaml or ~/.config/ipphone/config.yaml. A bare
// name without an extension (e.g. "work") is a profile inside the default config
// directory ("work.yaml").
func resolveConfigPath(cfg string) string {
	raw := strings.TrimSpace(cfg)

	switch {
	case raw == "":
		if dir, err := defaultConfigDir(); err == nil {
			raw = filepath.Join(dir, "config.yaml")
		} else {
			raw = "config.yaml"
		}
	case filepath.Base(raw) == raw && filepath.Ext(raw) == "":
		if dir, err := defaultConfigDir(); err == nil {
			raw = filepath.Join(dir, raw+".yaml")
		} else {
			raw = raw + ".yaml"
		}
	}

	if strings.HasPrefix(raw, "~/") {
		if h, err := os.UserHomeDir(); err == nil {
			raw = filepath.Join(h, raw[2:])
		}
	}
	if abs, err := filepath.Abs(raw); err == nil {
		raw = abs
	}
	return raw
}

func defaultConfigDir() (string, error) {
	d, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(d, "ipphone"), nil
}

func normalizeContactKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func looksLikePort(s string) bool {
	if s == "" || strings.ContainsAny(s, "[]:") {
		return false
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return false
	}
	return n > 0 && n <= 65535
}

// isLikelyDial reports whether token reads as an address rather than a contact name.
func isLikelyDial(token string) bool {
	if token == "" || looksLikePort(token) {
		return false
	}
	if strings.ContainsAny(token, "[]:") {
		return true
	}
	return strings.Contains(token, ".") || strings.EqualFold(token, "localhost")
}

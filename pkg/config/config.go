// Package config parses Klipper-style printer.cfg files with access
// tracking, so unknown or misspelled options can be reported at startup.
package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Config provides access to a configuration file with access tracking.
type Config struct {
	mu       sync.RWMutex
	sections map[string]*Section
	order    []string

	accessedSections map[string]struct{}
}

// New creates a new empty Config.
func New() *Config {
	return &Config{
		sections:         make(map[string]*Section),
		accessedSections: make(map[string]struct{}),
	}
}

// Load reads a configuration file. [include path] directives are
// expanded relative to the including file.
func Load(path string) (*Config, error) {
	c := New()
	if err := c.parseFile(path, make(map[string]bool)); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadString parses a configuration from a string. Include directives
// are not supported.
func LoadString(data string) (*Config, error) {
	c := New()
	if err := c.parse(strings.NewReader(data), "<string>", nil); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) parseFile(path string, visited map[string]bool) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("config: invalid path %s: %w", path, err)
	}
	if visited[abs] {
		return fmt.Errorf("config: recursive include: %s", path)
	}
	visited[abs] = true
	defer func() { visited[abs] = false }()

	f, err := os.Open(abs)
	if err != nil {
		return fmt.Errorf("config: unable to open %s: %w", path, err)
	}
	defer f.Close()

	dir := filepath.Dir(abs)
	include := func(spec string) error {
		glob := filepath.Join(dir, spec)
		matches, err := filepath.Glob(glob)
		if err != nil {
			return fmt.Errorf("config: invalid include pattern %q: %w", spec, err)
		}
		sort.Strings(matches)
		if len(matches) == 0 && !strings.ContainsAny(glob, "*?[") {
			return fmt.Errorf("config: include file does not exist: %s", glob)
		}
		for _, m := range matches {
			if err := c.parseFile(m, visited); err != nil {
				return err
			}
		}
		return nil
	}
	return c.parse(f, path, include)
}

// parse reads sections and options from r. include is nil when include
// directives are not allowed.
func (c *Config) parse(r io.Reader, name string, include func(spec string) error) error {
	var current string
	var options map[string]string
	flush := func() {
		if current != "" {
			c.addSection(current, options)
		}
	}

	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		// SAVE_CONFIG blocks are stored behind "#*#" and parse as normal config
		if strings.HasPrefix(line, "#*#") {
			line = strings.TrimSpace(line[3:])
		} else if idx := strings.IndexAny(line, "#;"); idx >= 0 {
			line = strings.TrimSpace(line[:idx])
		}
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			flush()
			header := strings.TrimSpace(line[1 : len(line)-1])
			if header == "" {
				return fmt.Errorf("config: empty section header at line %d in %s", lineNum, name)
			}
			if spec, ok := strings.CutPrefix(header, "include "); ok {
				if include == nil {
					return fmt.Errorf("config: include not supported at line %d in %s", lineNum, name)
				}
				if err := include(strings.TrimSpace(spec)); err != nil {
					return err
				}
				current, options = "", nil
				continue
			}
			current = header
			options = make(map[string]string)
			continue
		}

		if current == "" {
			continue
		}

		kv := strings.SplitN(line, ":", 2)
		if len(kv) != 2 {
			kv = strings.SplitN(line, "=", 2)
		}
		if len(kv) != 2 {
			return fmt.Errorf("config: invalid line %d in %s: %q", lineNum, name, line)
		}
		key := strings.TrimSpace(kv[0])
		if key == "" {
			continue
		}
		options[key] = strings.TrimSpace(kv[1])
	}
	flush()

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("config: error reading %s: %w", name, err)
	}
	return nil
}

// addSection adds a section, merging options if it already exists.
func (c *Config) addSection(name string, options map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.sections[name]; ok {
		for k, v := range options {
			existing.options[strings.ToLower(k)] = v
		}
		return
	}
	c.sections[name] = newSection(name, options)
	c.order = append(c.order, name)
}

// GetSection returns a Section by name, or error if not found.
func (c *Config) GetSection(name string) (*Section, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sec, ok := c.sections[name]
	if !ok {
		return nil, ErrMissingSection(name)
	}
	c.accessedSections[name] = struct{}{}
	return sec, nil
}

// GetSectionOptional returns a Section if it exists, or nil if not.
func (c *Config) GetSectionOptional(name string) *Section {
	c.mu.Lock()
	defer c.mu.Unlock()

	sec, ok := c.sections[name]
	if ok {
		c.accessedSections[name] = struct{}{}
	}
	return sec
}

// HasSection checks if a section exists.
func (c *Config) HasSection(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.sections[name]
	return ok
}

// GetSections returns all sections in file order.
func (c *Config) GetSections() []*Section {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]*Section, 0, len(c.order))
	for _, name := range c.order {
		result = append(result, c.sections[name])
	}
	return result
}

// GetPrefixSections returns all sections that start with the given prefix,
// marking them accessed.
func (c *Config) GetPrefixSections(prefix string) []*Section {
	c.mu.Lock()
	defer c.mu.Unlock()

	var result []*Section
	for _, name := range c.order {
		if strings.HasPrefix(name, prefix) {
			c.accessedSections[name] = struct{}{}
			result = append(result, c.sections[name])
		}
	}
	return result
}

// MarkAccessed records that a section was consumed by a loader.
func (c *Config) MarkAccessed(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessedSections[name] = struct{}{}
}

// GetUnusedSections returns sections that were never accessed.
func (c *Config) GetUnusedSections() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var result []string
	for name := range c.sections {
		if _, ok := c.accessedSections[name]; !ok {
			result = append(result, name)
		}
	}
	sort.Strings(result)
	return result
}

// CheckUnusedOptions returns an error if any accessed section has
// options nobody read.
func (c *Config) CheckUnusedOptions() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var problems []string
	for name, sec := range c.sections {
		if _, ok := c.accessedSections[name]; !ok {
			continue
		}
		unused := sec.GetUnusedOptions()
		if len(unused) > 0 {
			sort.Strings(unused)
			problems = append(problems, fmt.Sprintf("[%s]: unused options %v", name, unused))
		}
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return NewConfigError("", "", strings.Join(problems, "; "))
	}
	return nil
}

package config

import (
	"strconv"
	"strings"
	"sync"
)

// Section provides access to a config section with access tracking.
type Section struct {
	name    string
	options map[string]string

	mu       sync.RWMutex
	accessed map[string]struct{}
}

func newSection(name string, options map[string]string) *Section {
	opts := make(map[string]string, len(options))
	for k, v := range options {
		opts[strings.ToLower(k)] = v
	}
	return &Section{
		name:     name,
		options:  opts,
		accessed: make(map[string]struct{}),
	}
}

// GetName returns the section name.
func (s *Section) GetName() string {
	return s.name
}

// GetSuffix returns the part of the section name after the first space,
// e.g. "t0" for [tool_x_endstop t0].
func (s *Section) GetSuffix() string {
	if idx := strings.IndexByte(s.name, ' '); idx >= 0 {
		return strings.TrimSpace(s.name[idx+1:])
	}
	return ""
}

func (s *Section) markAccessed(option string) {
	s.mu.Lock()
	s.accessed[strings.ToLower(option)] = struct{}{}
	s.mu.Unlock()
}

// GetUnusedOptions returns a list of options that were not accessed.
func (s *Section) GetUnusedOptions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []string
	for opt := range s.options {
		if _, ok := s.accessed[opt]; !ok {
			result = append(result, opt)
		}
	}
	return result
}

// HasOption checks if an option exists in this section.
func (s *Section) HasOption(option string) bool {
	_, ok := s.options[strings.ToLower(option)]
	return ok
}

// lookup returns the raw value, falling back to the first fallback if any.
func (s *Section) lookup(option string, hasFallback bool) (string, bool, error) {
	if v, ok := s.options[strings.ToLower(option)]; ok {
		s.markAccessed(option)
		return v, true, nil
	}
	if hasFallback {
		s.markAccessed(option)
		return "", false, nil
	}
	return "", false, ErrMissingOption(s.name, option)
}

// Get returns a string option value.
func (s *Section) Get(option string, fallback ...string) (string, error) {
	v, found, err := s.lookup(option, len(fallback) > 0)
	if err != nil {
		return "", err
	}
	if !found {
		return fallback[0], nil
	}
	return v, nil
}

// GetInt returns an integer option value.
func (s *Section) GetInt(option string, fallback ...int) (int, error) {
	v, found, err := s.lookup(option, len(fallback) > 0)
	if err != nil {
		return 0, err
	}
	if !found {
		return fallback[0], nil
	}
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, ErrInvalidValue(s.name, option, v, "integer")
	}
	return i, nil
}

// GetIntWithBounds returns an integer option value with bounds checking.
func (s *Section) GetIntWithBounds(option string, minVal, maxVal *int, fallback ...int) (int, error) {
	v, err := s.GetInt(option, fallback...)
	if err != nil {
		return 0, err
	}
	if minVal != nil && v < *minVal {
		return 0, ErrOutOfRange(s.name, option, float64(v), "must have minimum of "+strconv.Itoa(*minVal))
	}
	if maxVal != nil && v > *maxVal {
		return 0, ErrOutOfRange(s.name, option, float64(v), "must have maximum of "+strconv.Itoa(*maxVal))
	}
	return v, nil
}

// GetFloat returns a float64 option value.
func (s *Section) GetFloat(option string, fallback ...float64) (float64, error) {
	v, found, err := s.lookup(option, len(fallback) > 0)
	if err != nil {
		return 0, err
	}
	if !found {
		return fallback[0], nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, ErrInvalidValue(s.name, option, v, "float")
	}
	return f, nil
}

// GetFloatAbove returns a float64 option that must be strictly above limit.
func (s *Section) GetFloatAbove(option string, limit float64, fallback ...float64) (float64, error) {
	v, err := s.GetFloat(option, fallback...)
	if err != nil {
		return 0, err
	}
	if v <= limit {
		return 0, ErrOutOfRange(s.name, option, v, "must be above "+strconv.FormatFloat(limit, 'f', -1, 64))
	}
	return v, nil
}

// GetBool returns a boolean option value.
// Accepts: 1, true, yes, on (true) and 0, false, no, off (false).
func (s *Section) GetBool(option string, fallback ...bool) (bool, error) {
	v, found, err := s.lookup(option, len(fallback) > 0)
	if err != nil {
		return false, err
	}
	if !found {
		return fallback[0], nil
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, ErrInvalidValue(s.name, option, v, "boolean (true/false/yes/no/on/off/1/0)")
	}
}

// GetChoice returns a string option that must be one of the valid choices.
func (s *Section) GetChoice(option string, choices []string, fallback ...string) (string, error) {
	v, err := s.Get(option, fallback...)
	if err != nil {
		return "", err
	}
	for _, c := range choices {
		if strings.EqualFold(v, c) {
			return c, nil
		}
	}
	return "", ErrInvalidChoice(s.name, option, v, choices)
}

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// tree is cfg in its JSON form, so dot paths follow the json tag names.
func tree(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// child steps one key into an object or a list.
func child(node any, key string) (any, error) {
	switch n := node.(type) {
	case map[string]any:
		v, ok := n[key]
		if !ok {
			return nil, fmt.Errorf("no key %q", key)
		}
		return v, nil
	case []any:
		i, err := listIndex(n, key)
		if err != nil {
			return nil, err
		}
		return n[i], nil
	default:
		return nil, fmt.Errorf("%q: cannot descend into a %T", key, node)
	}
}

func listIndex(list []any, key string) (int, error) {
	i, err := strconv.Atoi(key)
	if err != nil || i < 0 || i >= len(list) {
		return 0, fmt.Errorf("index %q out of range (length %d)", key, len(list))
	}
	return i, nil
}

// GetByPath returns the value at a dot path such as "general.maxIterations"
// or "snapshot.keyFiles.0".
func GetByPath(cfg *Config, path string) (any, error) {
	m, err := tree(cfg)
	if err != nil {
		return nil, err
	}
	var node any = m
	for _, key := range strings.Split(path, ".") {
		if node, err = child(node, key); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	return node, nil
}

// SetByPath assigns value at a dot path. Missing objects along the way are
// created, so "providers.local.apiBase" adds a provider. String values that
// parse as a JSON literal (number, bool, list) are stored decoded. cfg is
// left untouched when the result does not fit the config types.
func SetByPath(cfg *Config, path string, value any) error {
	if path == "" {
		return errors.New("empty path")
	}
	m, err := tree(cfg)
	if err != nil {
		return err
	}

	keys := strings.Split(path, ".")
	var node any = m
	for _, key := range keys[:len(keys)-1] {
		if obj, ok := node.(map[string]any); ok {
			if _, exists := obj[key]; !exists {
				obj[key] = map[string]any{}
			}
		}
		if node, err = child(node, key); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}

	last := keys[len(keys)-1]
	switch n := node.(type) {
	case map[string]any:
		n[last] = literal(value)
	case []any:
		i, err := listIndex(n, last)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		n[i] = literal(value)
	default:
		return fmt.Errorf("%s: cannot set a field on a %T", path, node)
	}

	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	var updated Config
	if err := json.Unmarshal(data, &updated); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	*cfg = updated
	return nil
}

func literal(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	var decoded any
	if err := json.Unmarshal([]byte(s), &decoded); err == nil && decoded != nil {
		return decoded
	}
	return s
}

// Sanitize returns a copy of cfg with API keys masked. Unresolved ${VAR}
// references are shown as is.
func Sanitize(cfg *Config) *Config {
	data, err := json.Marshal(cfg)
	if err != nil {
		return cfg
	}
	var out Config
	if err := json.Unmarshal(data, &out); err != nil {
		return cfg
	}
	for name, prov := range out.Providers {
		if prov.APIKey != "" && !envVarPattern.MatchString(prov.APIKey) {
			prov.APIKey = maskString(prov.APIKey)
			out.Providers[name] = prov
		}
	}
	return &out
}

// maskString keeps the first and last four characters.
func maskString(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// ListPaths flattens cfg into dot path → value. Lists are leaves.
func ListPaths(cfg *Config) map[string]any {
	m, err := tree(cfg)
	if err != nil {
		return nil
	}
	out := make(map[string]any)
	var walk func(prefix string, obj map[string]any)
	walk = func(prefix string, obj map[string]any) {
		for k, v := range obj {
			path := k
			if prefix != "" {
				path = prefix + "." + k
			}
			if sub, ok := v.(map[string]any); ok && len(sub) > 0 {
				walk(path, sub)
				continue
			}
			out[path] = v
		}
	}
	walk("", m)
	return out
}

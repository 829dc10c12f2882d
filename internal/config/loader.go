package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"
)

// includeKey names other files to merge beneath the current one. The bare
// "include" key is accepted too.
const includeKey = "$include"

// rawDecoder parses one file format into a generic map.
type rawDecoder func(data []byte) (map[string]any, error)

var rawDecoders = map[string]rawDecoder{
	".json":  decodeJSON5,
	".json5": decodeJSON5,
	".toml":  decodeTOML,
	".yaml":  decodeYAML,
	".yml":   decodeYAML,
}

// LoadRaw reads a config file and everything it includes into one map.
// Keys in the including file win over included ones; nested maps merge.
func LoadRaw(path string) (map[string]any, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("config path is required")
	}
	l := &rawLoader{active: map[string]bool{}}
	return l.load(path)
}

// rawLoader tracks the include chain to reject cycles.
type rawLoader struct {
	active map[string]bool
}

func (l *rawLoader) load(path string) (map[string]any, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if l.active[abs] {
		return nil, fmt.Errorf("config include cycle detected at %s", abs)
	}
	l.active[abs] = true
	defer delete(l.active, abs)

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}
	decode, ok := rawDecoders[strings.ToLower(filepath.Ext(abs))]
	if !ok {
		decode = decodeYAML
	}
	raw, err := decode([]byte(expandEnv(string(data))))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(abs), err)
	}

	includes, err := popIncludes(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(abs), err)
	}
	merged := map[string]any{}
	for _, inc := range includes {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(abs), inc)
		}
		sub, err := l.load(inc)
		if err != nil {
			return nil, err
		}
		mergeMaps(merged, sub)
	}
	mergeMaps(merged, raw)
	return merged, nil
}

// expandEnv substitutes $VAR and ${VAR} references, leaving the $include
// directive intact.
func expandEnv(s string) string {
	return os.Expand(s, func(name string) string {
		if name == "include" {
			return includeKey
		}
		return os.Getenv(name)
	})
}

func decodeJSON5(data []byte) (map[string]any, error) {
	raw := map[string]any{}
	if err := json5.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return orEmpty(raw), nil
}

func decodeTOML(data []byte) (map[string]any, error) {
	raw := map[string]any{}
	if _, err := toml.Decode(string(data), &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func decodeYAML(data []byte) (map[string]any, error) {
	var raw map[string]any
	if err := decodeSingleYAML(yaml.NewDecoder(bytes.NewReader(data)), &raw); err != nil {
		return nil, err
	}
	return orEmpty(raw), nil
}

// decodeSingleYAML decodes exactly one document.
func decodeSingleYAML(dec *yaml.Decoder, v any) error {
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("expected a single YAML document")
	}
	return nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// popIncludes removes the include directive from raw and returns its paths.
func popIncludes(raw map[string]any) ([]string, error) {
	var val any
	for _, key := range []string{includeKey, "include"} {
		if v, ok := raw[key]; ok {
			val = v
			delete(raw, key)
			break
		}
	}

	var paths []string
	switch v := val.(type) {
	case nil:
	case string:
		paths = []string{v}
	case []any:
		for _, entry := range v {
			s, ok := entry.(string)
			if !ok {
				return nil, errors.New("include entries must be strings")
			}
			paths = append(paths, s)
		}
	default:
		return nil, errors.New("include must be a string or list of strings")
	}

	out := paths[:0]
	for _, p := range paths {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out, nil
}

// mergeMaps merges src into dst in place, recursing into nested maps.
func mergeMaps(dst, src map[string]any) {
	for key, value := range src {
		if sub, ok := value.(map[string]any); ok {
			if existing, ok := dst[key].(map[string]any); ok {
				mergeMaps(existing, sub)
				continue
			}
		}
		dst[key] = value
	}
}

// decodeRawConfig converts the merged map into Config, rejecting unknown
// keys.
func decodeRawConfig(raw map[string]any) (*Config, error) {
	payload, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(payload))
	dec.KnownFields(true)
	var cfg Config
	if err := decodeSingleYAML(dec, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

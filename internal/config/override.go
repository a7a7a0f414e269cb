package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// LoadOverrides layers a TOML override file onto the tree. Tables nest into
// "::" paths, so
//
//	[acquire]
//	retries = 3
//	queue-mode = "host"
//
// sets Acquire::Retries and Acquire::Queue-Mode. Arrays become ordered list
// children. Missing file is not an error; overrides are optional.
func (t *Tree) LoadOverrides(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("config: parsing overrides %s: %w", path, err)
	}
	return t.mergeOverrides("", raw)
}

func (t *Tree) mergeOverrides(prefix string, m map[string]any) error {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "::" + k
		}
		switch val := v.(type) {
		case map[string]any:
			if err := t.mergeOverrides(key, val); err != nil {
				return err
			}
		case []any:
			for _, el := range val {
				t.Append(key, fmt.Sprint(el))
			}
		case bool:
			if val {
				t.Set(key, "true")
			} else {
				t.Set(key, "false")
			}
		default:
			t.Set(key, fmt.Sprint(val))
		}
	}
	return nil
}

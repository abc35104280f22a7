package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load parses the YAML file at path into conf.
//
// Unknown fields are rejected. If expandEnv is true, references to ${VAR} or
// $VAR are replaced with the corresponding environment variable before
// parsing, where a default can be given using the form ${VAR:default}.
func Load(path string, conf interface{}, expandEnv bool) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %s: %w", path, err)
	}

	if expandEnv {
		buf = []byte(os.Expand(string(buf), lookupEnv))
	}

	dec := yaml.NewDecoder(bytes.NewReader(buf))
	dec.KnownFields(true)

	if err := dec.Decode(conf); err != nil {
		return fmt.Errorf("parse config: %s: %w", path, err)
	}

	return nil
}

// lookupEnv returns the value of the environment variable with the given
// key, where the key may include a default in the form 'VAR:default'.
func lookupEnv(key string) string {
	key, def, hasDefault := strings.Cut(key, ":")
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	if hasDefault {
		return def
	}
	return ""
}

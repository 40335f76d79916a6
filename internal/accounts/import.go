// Package accounts loads candidate accounts from YAML or JSON files.
package accounts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"

	"github.com/example/tcfbot/internal/domain"
)

type file struct {
	Accounts []domain.Account `json:"accounts" yaml:"accounts"`
}

// LoadFile reads an accounts file. The format follows the extension; JSON
// files may also hold a bare array.
func LoadFile(path string) ([]domain.Account, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(b)
	default:
		return ParseJSON(b)
	}
}

func ParseYAML(b []byte) ([]domain.Account, error) {
	var f file
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("yaml unmarshal: %w", err)
	}
	return prepare(f.Accounts)
}

func ParseJSON(b []byte) ([]domain.Account, error) {
	b = bytes.TrimSpace(b)
	var list []domain.Account
	if len(b) > 0 && b[0] == '[' {
		if err := json.Unmarshal(b, &list); err != nil {
			return nil, fmt.Errorf("json unmarshal: %w", err)
		}
	} else {
		var f file
		dec := json.NewDecoder(bytes.NewReader(b))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&f); err != nil {
			return nil, fmt.Errorf("json unmarshal: %w", err)
		}
		list = f.Accounts
	}
	return prepare(list)
}

// prepare applies defaults, validates, and drops repeated emails keeping the
// first occurrence.
func prepare(in []domain.Account) ([]domain.Account, error) {
	seen := make(map[string]bool, len(in))
	out := make([]domain.Account, 0, len(in))
	for i, a := range in {
		a = a.WithDefaults()
		if err := a.Validate(); err != nil {
			return nil, fmt.Errorf("account #%d: %w", i+1, err)
		}
		key := strings.ToLower(a.Email)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, a)
	}
	return out, nil
}

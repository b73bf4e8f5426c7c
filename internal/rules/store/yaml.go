package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/ppiankov/text2sql/internal/rules"
	"gopkg.in/yaml.v3"
)

// YAMLStore keeps the rule table as a single ordered YAML list
type YAMLStore struct {
	path string
	mu   sync.Mutex
}

// NewYAMLStore creates a store over a rules.yaml file
func NewYAMLStore(path string) *YAMLStore {
	return &YAMLStore{path: path}
}

type yamlFile struct {
	Rules []rules.Rule `yaml:"rules"`
}

// Path returns the rules file path
func (s *YAMLStore) Path() string {
	return s.path
}

// Load reads the rule list. A missing file is an empty table.
func (s *YAMLStore) Load(ctx context.Context) ([]rules.Rule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var f yamlFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rules %s: %w", s.path, err)
	}

	for i := range f.Rules {
		kind, err := KindFromLabel(string(f.Rules[i].Kind))
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", f.Rules[i].Trigger, err)
		}
		f.Rules[i].Kind = kind
	}

	return f.Rules, nil
}

// Save writes the rule list in the given order
func (s *YAMLStore) Save(ctx context.Context, rs []rules.Rule) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := yaml.Marshal(yamlFile{Rules: rs})
	if err != nil {
		return fmt.Errorf("marshal rules: %w", err)
	}

	header := []byte("# text2sql business rules, evaluated longest trigger first\n")
	return writeFileAtomic(s.path, append(header, data...))
}

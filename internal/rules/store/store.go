// Package store persists the business rule table.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ppiankov/text2sql/internal/rules"
)

var (
	// ErrNotFound is returned when a rule to remove does not exist
	ErrNotFound = errors.New("rule not found")

	// ErrUnsupportedFormat is returned by Open for unknown file extensions
	ErrUnsupportedFormat = errors.New("unsupported rule file format")
)

// Store loads and saves the rule table. Load returns rules in registration
// order, which is the tie-break order of the substitution engine.
type Store interface {
	Load(ctx context.Context) ([]rules.Rule, error)
	Save(ctx context.Context, rs []rules.Rule) error
	Path() string
}

// Open returns the store matching the extension of path
func Open(path string) (Store, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return NewJSONStore(path, MetaPath(path)), nil
	case ".yaml", ".yml":
		return NewYAMLStore(path), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

// triggerKeyed is implemented by stores that hold one rule per trigger
type triggerKeyed interface {
	keyedByTrigger()
}

// Add inserts r, replacing a rule with the same trigger and table in place.
// It reports whether an existing rule was replaced. Stores keyed by trigger
// refuse a second table variant of a trigger.
func Add(ctx context.Context, s Store, r rules.Rule) (bool, error) {
	if _, err := rules.Compile([]rules.Rule{r}); err != nil {
		return false, fmt.Errorf("validate rule: %w", err)
	}

	rs, err := s.Load(ctx)
	if err != nil {
		return false, fmt.Errorf("load rules: %w", err)
	}

	_, keyed := s.(triggerKeyed)
	replaced := false
	for i := range rs {
		if rs[i].Trigger != r.Trigger {
			continue
		}
		if keyed && rs[i].Table != r.Table {
			return false, fmt.Errorf("rule %q exists for table %q: %w", r.Trigger, rs[i].Table, ErrDuplicateTrigger)
		}
		if rs[i].Table == r.Table {
			rs[i] = r
			replaced = true
			break
		}
	}
	if !replaced {
		rs = append(rs, r)
	}

	if err := s.Save(ctx, rs); err != nil {
		return false, fmt.Errorf("save rules: %w", err)
	}
	return replaced, nil
}

// Remove deletes every rule with the given trigger
func Remove(ctx context.Context, s Store, trigger string) error {
	rs, err := s.Load(ctx)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}

	kept := rs[:0]
	for _, r := range rs {
		if r.Trigger != trigger {
			kept = append(kept, r)
		}
	}
	if len(kept) == len(rs) {
		return fmt.Errorf("%w: %q", ErrNotFound, trigger)
	}

	if err := s.Save(ctx, kept); err != nil {
		return fmt.Errorf("save rules: %w", err)
	}
	return nil
}

// writeFileAtomic replaces path with data through a temp file and rename
func writeFileAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create rules dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

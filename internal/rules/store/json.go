package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ppiankov/text2sql/internal/rules"
)

// ErrDuplicateTrigger is returned when a JSON table would hold a trigger twice
var ErrDuplicateTrigger = errors.New("duplicate trigger")

const timeLayout = "2006-01-02 15:04:05"

// Kind labels written by the rule administration UI
const (
	labelEntity    = "实体"
	labelField     = "字段"
	labelTime      = "时间"
	labelCondition = "条件"
)

// MetaPath derives the metadata file that sits next to a rules file:
// business_rules.json -> business_rules_meta.json
func MetaPath(rulesPath string) string {
	ext := filepath.Ext(rulesPath)
	return strings.TrimSuffix(rulesPath, ext) + "_meta" + ext
}

// JSONStore keeps the rule table as two JSON objects keyed by trigger: one
// maps trigger to replacement, the other trigger to metadata. Key order in
// the rules file is the registration order.
type JSONStore struct {
	rulesPath string
	metaPath  string
	now       func() time.Time
	mu        sync.Mutex
}

// NewJSONStore creates a store over a rules file and its metadata file
func NewJSONStore(rulesPath, metaPath string) *JSONStore {
	return &JSONStore{
		rulesPath: rulesPath,
		metaPath:  metaPath,
		now:       time.Now,
	}
}

type ruleMeta struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	// TableRestriction is null when the rule applies to every table
	TableRestriction *string `json:"table_restriction"`
	LegacyTable      string  `json:"table,omitempty"`
	CreateTime       string  `json:"create_time,omitempty"`
	UpdateTime       string  `json:"update_time,omitempty"`
	UsageCount       int     `json:"usage_count"`
}

func (m ruleMeta) table() string {
	if m.TableRestriction != nil {
		return *m.TableRestriction
	}
	return m.LegacyTable
}

func (m *ruleMeta) setTable(table string) {
	m.LegacyTable = ""
	if table == "" {
		m.TableRestriction = nil
		return
	}
	m.TableRestriction = &table
}

// entry is one key of the rules file. Plain string values are rules, objects
// carrying rule fields are dict-shaped rules, and anything else is a section
// of the file that is kept as it was.
type entry struct {
	key         string
	trigger     string
	replacement string

	// dict-shaped rules
	fields    map[string]json.RawMessage
	label     string
	table     string
	fromField bool

	section json.RawMessage
}

func (e entry) isRule() bool {
	return e.section == nil
}

func (s *JSONStore) keyedByTrigger() {}

// Path returns the rules file path
func (s *JSONStore) Path() string {
	return s.rulesPath
}

// Load reads both files and joins them by trigger. A missing rules file is an
// empty table; a trigger without metadata is an entity rule.
func (s *JSONStore) Load(ctx context.Context) ([]rules.Rule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := readEntries(s.rulesPath)
	if err != nil {
		return nil, err
	}
	meta, err := readMeta(s.metaPath)
	if err != nil {
		return nil, err
	}

	out := make([]rules.Rule, 0, len(entries))
	for _, e := range entries {
		if !e.isRule() {
			continue
		}
		m := meta[e.key]
		label, table := m.Type, m.table()
		if e.fields != nil {
			if e.label != "" {
				label = e.label
			}
			if e.table != "" {
				table = e.table
			}
		}
		kind, err := KindFromLabel(label)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", e.trigger, err)
		}
		out = append(out, rules.Rule{
			Trigger:     e.trigger,
			Kind:        kind,
			Replacement: e.replacement,
			Description: m.Description,
			Table:       table,
		})
	}

	return out, nil
}

// Save writes the rules file and the metadata file. Existing metadata keeps
// its create time, label and usage count; changed rules get a new update time.
func (s *JSONStore) Save(ctx context.Context, rs []rules.Rule) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	oldEntries, err := readEntries(s.rulesPath)
	if err != nil {
		return err
	}
	oldRules := make(map[string]entry, len(oldEntries))
	for _, e := range oldEntries {
		if e.isRule() {
			oldRules[e.trigger] = e
		}
	}
	oldMeta, err := readMeta(s.metaPath)
	if err != nil {
		return err
	}

	now := s.now().Format(timeLayout)
	keys := make([]string, 0, len(rs))
	values := make([]interface{}, 0, len(rs))
	metas := make([]interface{}, 0, len(rs))
	seen := make(map[string]bool, len(rs))

	for _, r := range rs {
		old, existed := oldRules[r.Trigger]
		key := r.Trigger
		if existed && old.fields != nil {
			key = old.key
		}
		if seen[key] {
			return fmt.Errorf("rule %q: %w", r.Trigger, ErrDuplicateTrigger)
		}
		seen[key] = true

		m, hadMeta := oldMeta[key]
		changed := false
		if kind, err := KindFromLabel(m.Type); err != nil || kind != r.Kind || m.Type == "" {
			m.Type = LabelFor(r.Kind)
			changed = true
		}
		if m.Description != r.Description || m.table() != r.Table || old.replacement != r.Replacement {
			m.Description = r.Description
			changed = true
		}
		m.setTable(r.Table)
		if m.CreateTime == "" {
			m.CreateTime = now
		}
		if hadMeta && changed {
			m.UpdateTime = now
		}

		var value interface{} = r.Replacement
		if existed && old.fields != nil {
			value, err = updateDict(old, r)
			if err != nil {
				return fmt.Errorf("rule %q: %w", r.Trigger, err)
			}
		}

		keys = append(keys, key)
		values = append(values, value)
		metas = append(metas, m)
	}
	metaKeys := append([]string(nil), keys...)

	// Sections that are not rules go back unchanged after the rules
	for _, e := range oldEntries {
		if !e.isRule() && !seen[e.key] {
			keys = append(keys, e.key)
			values = append(values, e.section)
		}
	}

	rulesData, err := marshalOrdered(keys, values)
	if err != nil {
		return fmt.Errorf("marshal rules: %w", err)
	}
	metaData, err := marshalOrdered(metaKeys, metas)
	if err != nil {
		return fmt.Errorf("marshal rule metadata: %w", err)
	}

	if err := writeFileAtomic(s.rulesPath, rulesData); err != nil {
		return err
	}
	return writeFileAtomic(s.metaPath, metaData)
}

// KindFromLabel maps a stored type label to a rule kind
func KindFromLabel(label string) (rules.Kind, error) {
	switch strings.TrimSpace(label) {
	case "", string(rules.KindEntity), labelEntity, labelField:
		return rules.KindEntity, nil
	case string(rules.KindTime), labelTime, labelCondition:
		return rules.KindTime, nil
	default:
		return "", fmt.Errorf("%w: %q", rules.ErrUnknownKind, label)
	}
}

// LabelFor returns the label the administration UI uses for kind
func LabelFor(kind rules.Kind) string {
	if kind == rules.KindTime {
		return labelTime
	}
	return labelEntity
}

// readEntries decodes the rules object keeping key order
func readEntries(path string) ([]entry, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("parse rules %s: %w", path, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("parse rules %s: expected a JSON object", path)
	}

	var out []entry
	index := make(map[string]int)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("parse rules %s: %w", path, err)
		}
		key, _ := tok.(string)

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("parse rules %s: %w", path, err)
		}
		e, err := decodeEntry(key, raw)
		if err != nil {
			return nil, fmt.Errorf("parse rules %s: key %q: %w", path, key, err)
		}

		if i, ok := index[key]; ok {
			out[i] = e
			continue
		}
		index[key] = len(out)
		out = append(out, e)
	}

	return out, nil
}

// Fields of a dict-shaped rule
const (
	fieldTerm      = "business_term"
	fieldDBField   = "db_field"
	fieldCondition = "condition_value"
	fieldType      = "type"
	fieldTable     = "table"
)

func decodeEntry(key string, raw json.RawMessage) (entry, error) {
	if string(bytes.TrimSpace(raw)) == "null" {
		return entry{key: key, section: raw}, nil
	}

	var replacement string
	if err := json.Unmarshal(raw, &replacement); err == nil {
		return entry{key: key, trigger: key, replacement: replacement}, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || !isDictRule(fields) {
		return entry{key: key, section: raw}, nil
	}

	e := entry{key: key, trigger: key, fields: fields}
	var term, dbField, condition string
	for name, dst := range map[string]*string{
		fieldTerm:      &term,
		fieldDBField:   &dbField,
		fieldCondition: &condition,
		fieldType:      &e.label,
		fieldTable:     &e.table,
	} {
		v, ok := fields[name]
		if !ok || string(v) == "null" {
			continue
		}
		if err := json.Unmarshal(v, dst); err != nil {
			return entry{}, fmt.Errorf("field %s: %w", name, err)
		}
	}
	if term != "" {
		e.trigger = term
	}

	// A field rule maps onto its column; other rules carry a condition value
	switch {
	case strings.TrimSpace(e.label) == labelField && dbField != "":
		e.replacement, e.fromField = dbField, true
	case condition != "":
		e.replacement = condition
	default:
		e.replacement, e.fromField = dbField, true
	}
	return e, nil
}

func isDictRule(fields map[string]json.RawMessage) bool {
	for _, name := range []string{fieldTerm, fieldDBField, fieldCondition} {
		if _, ok := fields[name]; ok {
			return true
		}
	}
	return false
}

// updateDict writes r back into the fields of a dict-shaped rule, keeping the
// fields it does not model
func updateDict(old entry, r rules.Rule) (map[string]json.RawMessage, error) {
	fields := make(map[string]json.RawMessage, len(old.fields)+2)
	for k, v := range old.fields {
		fields[k] = v
	}
	set := func(name string, v interface{}) error {
		b, err := marshalNoEscape(v)
		if err != nil {
			return err
		}
		fields[name] = b
		return nil
	}

	target := fieldCondition
	if old.fromField {
		target = fieldDBField
	}
	if err := set(target, r.Replacement); err != nil {
		return nil, err
	}
	if kind, err := KindFromLabel(old.label); err != nil || kind != r.Kind {
		if err := set(fieldType, LabelFor(r.Kind)); err != nil {
			return nil, err
		}
	}
	if r.Table != old.table {
		if err := set(fieldTable, r.Table); err != nil {
			return nil, err
		}
	}
	return fields, nil
}

func readMeta(path string) (map[string]ruleMeta, error) {
	meta := make(map[string]ruleMeta)

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return meta, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read rule metadata: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return meta, nil
	}

	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parse rule metadata %s: %w", path, err)
	}
	return meta, nil
}

// marshalOrdered renders an indented JSON object with keys in the given order
func marshalOrdered(keys []string, values []interface{}) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := marshalNoEscape(k)
		if err != nil {
			return nil, err
		}
		vb, err := marshalNoEscape(values[i])
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')

	var out bytes.Buffer
	if err := json.Indent(&out, buf.Bytes(), "", "  "); err != nil {
		return nil, err
	}
	out.WriteByte('\n')
	return out.Bytes(), nil
}

// marshalNoEscape keeps <, > and & readable in SQL fragments
func marshalNoEscape(v interface{}) ([]byte, error) {
	var b bytes.Buffer
	enc := json.NewEncoder(&b)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(b.Bytes(), "\n"), nil
}

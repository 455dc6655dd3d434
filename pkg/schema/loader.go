package schema

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Store holds form schemas keyed by form code, loaded from schema files.
type Store struct {
	forms map[string]Steps
}

type documentFile struct {
	Forms map[string]formFile `json:"forms" yaml:"forms"`
}

type formFile struct {
	Steps Steps `json:"steps" yaml:"steps"`
}

// LoadFS walks fsys and parses every JSON/YAML schema file it finds. Each
// file declares one or more forms under a top-level "forms" key. A nil fsys
// yields an empty store.
func LoadFS(fsys fs.FS) (*Store, error) {
	store := &Store{forms: make(map[string]Steps)}
	if fsys == nil {
		return store, nil
	}

	err := fs.WalkDir(fsys, ".", func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if entry.IsDir() || !isSchemaFile(path) {
			return nil
		}

		data, err := fs.ReadFile(fsys, path)
		if err != nil {
			return fmt.Errorf("schema: read %s: %w", path, err)
		}

		doc, err := parseDocument(data, path)
		if err != nil {
			return err
		}

		for rawCode, form := range doc.Forms {
			code := strings.TrimSpace(rawCode)
			if code == "" {
				return fmt.Errorf("schema: file %s defines an empty form code", path)
			}
			if _, exists := store.forms[code]; exists {
				return fmt.Errorf("schema: duplicate form %q (file %s)", code, path)
			}
			if err := form.Steps.Validate(); err != nil {
				return fmt.Errorf("schema: form %q (file %s): %w", code, path, err)
			}
			store.forms[code] = form.Steps.Sorted()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return store, nil
}

// Form returns the steps for a form code.
func (s *Store) Form(code string) (Steps, bool) {
	if s == nil {
		return nil, false
	}
	steps, ok := s.forms[code]
	return steps, ok
}

// Codes lists the loaded form codes in sorted order.
func (s *Store) Codes() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.forms))
	for code := range s.forms {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

// Empty reports whether the store holds any forms.
func (s *Store) Empty() bool {
	return s == nil || len(s.forms) == 0
}

func parseDocument(data []byte, source string) (documentFile, error) {
	var doc documentFile
	if len(strings.TrimSpace(string(data))) == 0 {
		return documentFile{}, fmt.Errorf("schema: file %s is empty", source)
	}

	if strings.EqualFold(filepath.Ext(source), ".json") {
		if err := json.Unmarshal(data, &doc); err != nil {
			return documentFile{}, fmt.Errorf("schema: parse %s: %w", source, err)
		}
		return doc, nil
	}

	if err := yaml.Unmarshal(data, &doc); err != nil {
		return documentFile{}, fmt.Errorf("schema: parse %s: %w", source, err)
	}
	return doc, nil
}

func isSchemaFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml":
		return true
	default:
		return false
	}
}

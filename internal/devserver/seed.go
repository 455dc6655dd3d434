package devserver

import (
	"context"
	"embed"
	"fmt"
	"io/fs"

	"gopkg.in/yaml.v3"

	"github.com/goliatone/go-stepform/pkg/schema"
)

//go:embed seed
var seedFS embed.FS

type seedRecords struct {
	Records map[int64][]struct {
		FieldID int64  `yaml:"field_id"`
		Value   string `yaml:"value"`
	} `yaml:"records"`
}

// Seed loads the bundled demo forms and records.
func Seed(ctx context.Context, store *Store) error {
	forms, err := fs.Sub(seedFS, "seed/forms")
	if err != nil {
		return err
	}
	return SeedFrom(ctx, store, forms, mustRead("seed/records.yaml"))
}

// SeedFrom loads schema files from forms (see schema.LoadFS) and record
// details from a YAML document of the form records: {id: [{field_id, value}]}.
func SeedFrom(ctx context.Context, store *Store, forms fs.FS, records []byte) error {
	loaded, err := schema.LoadFS(forms)
	if err != nil {
		return fmt.Errorf("devserver: seed forms: %w", err)
	}
	for _, code := range loaded.Codes() {
		steps, _ := loaded.Form(code)
		if err := store.PutForm(ctx, code, steps); err != nil {
			return err
		}
	}

	if len(records) == 0 {
		return nil
	}
	var doc seedRecords
	if err := yaml.Unmarshal(records, &doc); err != nil {
		return fmt.Errorf("devserver: seed records: %w", err)
	}
	for recordID, rows := range doc.Records {
		for _, row := range rows {
			if err := store.PutDetail(ctx, recordID, row.FieldID, row.Value); err != nil {
				return err
			}
		}
	}
	return nil
}

func mustRead(name string) []byte {
	raw, err := seedFS.ReadFile(name)
	if err != nil {
		panic(fmt.Sprintf("devserver: embedded %s: %v", name, err))
	}
	return raw
}

package devserver

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/goliatone/go-stepform/pkg/payload"
	"github.com/goliatone/go-stepform/pkg/schema"
	"github.com/goliatone/go-stepform/pkg/values"
)

var (
	ErrNotFound = errors.New("devserver: not found")
	ErrConflict = errors.New("devserver: conflict")
	ErrInvalid  = errors.New("devserver: invalid request")
)

// MemoryDSN keeps the database in the single pooled connection.
const MemoryDSN = "file::memory:?_pragma=foreign_keys(1)"

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS forms (
		code TEXT PRIMARY KEY
	)`,
	`CREATE TABLE IF NOT EXISTS steps (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		form_code TEXT NOT NULL REFERENCES forms(code) ON DELETE CASCADE,
		step INTEGER NOT NULL,
		step_name TEXT NOT NULL DEFAULT '',
		is_default INTEGER NOT NULL DEFAULT 0,
		UNIQUE (form_code, step)
	)`,
	`CREATE TABLE IF NOT EXISTS fields (
		id INTEGER PRIMARY KEY,
		step_id INTEGER NOT NULL REFERENCES steps(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		label TEXT NOT NULL DEFAULT '',
		value_type INTEGER NOT NULL DEFAULT 0,
		value_length INTEGER,
		is_default INTEGER NOT NULL DEFAULT 0,
		multiplicity TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS field_options (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		field_id INTEGER NOT NULL REFERENCES fields(id) ON DELETE CASCADE,
		value TEXT NOT NULL,
		UNIQUE (field_id, value)
	)`,
	`CREATE TABLE IF NOT EXISTS record_details (
		record_id INTEGER NOT NULL,
		field_id INTEGER NOT NULL REFERENCES fields(id) ON DELETE CASCADE,
		value TEXT NOT NULL DEFAULT '',
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (record_id, field_id)
	)`,
	`CREATE TABLE IF NOT EXISTS item_batches (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		payload TEXT NOT NULL,
		instructions INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
}

// Store persists forms, record details and submitted batches in SQLite.
type Store struct {
	db *sql.DB
}

// Open connects to dsn and creates the tables.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = MemoryDSN
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("devserver: open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("devserver: enable foreign keys: %w", err)
	}
	for _, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("devserver: migrate: %w", err)
		}
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// PutForm replaces the definition of a form.
func (s *Store) PutForm(ctx context.Context, code string, steps schema.Steps) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("devserver: put form %q: %w", code, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM forms WHERE code = ?`, code); err != nil {
		return fmt.Errorf("devserver: put form %q: %w", code, err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO forms (code) VALUES (?)`, code); err != nil {
		return fmt.Errorf("devserver: put form %q: %w", code, err)
	}
	for _, step := range steps {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO steps (form_code, step, step_name, is_default) VALUES (?, ?, ?, ?)`,
			code, step.Step, step.StepName, step.IsDefault)
		if err != nil {
			return fmt.Errorf("devserver: put step %d: %w", step.Step, err)
		}
		stepID, err := res.LastInsertId()
		if err != nil {
			return err
		}
		for pos, field := range step.Fields {
			var length sql.NullInt64
			if field.ValueLength != nil {
				length = sql.NullInt64{Int64: int64(*field.ValueLength), Valid: true}
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO fields (id, step_id, position, label, value_type, value_length, is_default, multiplicity)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				field.ID, stepID, pos, field.Label, int(field.ValueType), length, field.IsDefault, string(field.Multiplicity)); err != nil {
				return fmt.Errorf("devserver: put field %d: %w", field.ID, err)
			}
			for _, opt := range field.Options {
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO field_options (id, field_id, value) VALUES (?, ?, ?)`,
					opt.ID, field.ID, opt.Value); err != nil {
					return fmt.Errorf("devserver: put option %d: %w", opt.ID, err)
				}
			}
		}
	}
	return tx.Commit()
}

// PutDetail stores the raw value column of one record field.
func (s *Store) PutDetail(ctx context.Context, recordID, fieldID int64, raw string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO record_details (record_id, field_id, value) VALUES (?, ?, ?)
		 ON CONFLICT (record_id, field_id) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		recordID, fieldID, raw)
	if err != nil {
		return fmt.Errorf("devserver: put detail %d/%d: %w", recordID, fieldID, err)
	}
	return nil
}

// Steps loads a form with fields and options in their stored order.
func (s *Store) Steps(ctx context.Context, code string) (schema.Steps, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT st.step, st.step_name, st.is_default,
		       f.id, f.label, f.value_type, f.value_length, f.is_default, f.multiplicity
		FROM steps st
		LEFT JOIN fields f ON f.step_id = st.id
		WHERE st.form_code = ?
		ORDER BY st.step, f.position`, code)
	if err != nil {
		return nil, fmt.Errorf("devserver: load form %q: %w", code, err)
	}
	defer rows.Close()

	var steps schema.Steps
	for rows.Next() {
		var (
			step      schema.FormStep
			fieldID   sql.NullInt64
			label     sql.NullString
			valueType sql.NullInt64
			length    sql.NullInt64
			required  sql.NullBool
			multi     sql.NullString
		)
		if err := rows.Scan(&step.Step, &step.StepName, &step.IsDefault,
			&fieldID, &label, &valueType, &length, &required, &multi); err != nil {
			return nil, fmt.Errorf("devserver: scan form %q: %w", code, err)
		}
		if n := len(steps); n == 0 || steps[n-1].Step != step.Step {
			steps = append(steps, step)
		}
		if !fieldID.Valid {
			continue
		}
		field := schema.FormField{
			ID:           fieldID.Int64,
			Label:        label.String,
			ValueType:    schema.ValueType(valueType.Int64),
			IsDefault:    required.Bool,
			Multiplicity: schema.Multiplicity(multi.String),
		}
		if length.Valid {
			n := int(length.Int64)
			field.ValueLength = &n
		}
		last := &steps[len(steps)-1]
		last.Fields = append(last.Fields, field)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("%w: form %q", ErrNotFound, code)
	}

	options, err := s.options(ctx, code)
	if err != nil {
		return nil, err
	}
	for i := range steps {
		for j := range steps[i].Fields {
			steps[i].Fields[j].Options = options[steps[i].Fields[j].ID]
		}
	}
	return steps, nil
}

func (s *Store) options(ctx context.Context, code string) (map[int64][]schema.FieldOption, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT o.id, o.field_id, o.value
		FROM field_options o
		JOIN fields f ON f.id = o.field_id
		JOIN steps st ON st.id = f.step_id
		WHERE st.form_code = ?
		ORDER BY o.field_id, o.id`, code)
	if err != nil {
		return nil, fmt.Errorf("devserver: load options: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]schema.FieldOption)
	for rows.Next() {
		var opt schema.FieldOption
		var fieldID int64
		if err := rows.Scan(&opt.ID, &fieldID, &opt.Value); err != nil {
			return nil, err
		}
		out[fieldID] = append(out[fieldID], opt)
	}
	return out, rows.Err()
}

// RecordDetails returns the stored values of a record grouped by step.
func (s *Store) RecordDetails(ctx context.Context, recordID int64) ([]values.StepDetails, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT st.step, st.step_name, d.record_id, d.field_id, d.value
		FROM record_details d
		JOIN fields f ON f.id = d.field_id
		JOIN steps st ON st.id = f.step_id
		WHERE d.record_id = ?
		ORDER BY st.step, f.position`, recordID)
	if err != nil {
		return nil, fmt.Errorf("devserver: load record %d: %w", recordID, err)
	}
	defer rows.Close()

	var out []values.StepDetails
	for rows.Next() {
		var (
			step     int
			stepName string
			row      values.DetailRow
			raw      string
		)
		if err := rows.Scan(&step, &stepName, &row.RecordID, &row.FieldID, &raw); err != nil {
			return nil, err
		}
		row.Value = values.StoredText(raw)
		if n := len(out); n == 0 || out[n-1].Step != step {
			out = append(out, values.StepDetails{Step: step, StepName: stepName})
		}
		out[len(out)-1].Details = append(out[len(out)-1].Details, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: record %d", ErrNotFound, recordID)
	}
	return out, nil
}

func (s *Store) field(ctx context.Context, fieldID int64) (schema.ValueType, error) {
	var valueType int
	err := s.db.QueryRowContext(ctx, `SELECT value_type FROM fields WHERE id = ?`, fieldID).Scan(&valueType)
	if errors.Is(err, sql.ErrNoRows) {
		return schema.ValueTypeUnknown, fmt.Errorf("%w: field %d", ErrNotFound, fieldID)
	}
	if err != nil {
		return schema.ValueTypeUnknown, fmt.Errorf("devserver: load field %d: %w", fieldID, err)
	}
	return schema.ValueType(valueType), nil
}

// SaveField stores one field write. Option fields keep the pair array as
// JSON; other fields keep the first pair's text.
func (s *Store) SaveField(ctx context.Context, write payload.FieldWrite) error {
	if write.ParentRecordID <= 0 {
		return fmt.Errorf("%w: parent_record_id is required", ErrInvalid)
	}
	valueType, err := s.field(ctx, write.FieldID)
	if err != nil {
		return err
	}
	raw, err := encodeStored(valueType, write.Value)
	if err != nil {
		return err
	}
	return s.PutDetail(ctx, write.ParentRecordID, write.FieldID, raw)
}

func encodeStored(valueType schema.ValueType, pairs []payload.Pair) (string, error) {
	if len(pairs) == 0 {
		return "", nil
	}
	if valueType != schema.ValueTypeOptions {
		return pairs[0].Value, nil
	}
	raw, err := json.Marshal(pairs)
	if err != nil {
		return "", fmt.Errorf("devserver: encode value: %w", err)
	}
	return string(raw), nil
}

// CreateOption adds value to an options field.
func (s *Store) CreateOption(ctx context.Context, fieldID int64, value string) (schema.FieldOption, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return schema.FieldOption{}, fmt.Errorf("%w: option value is empty", ErrInvalid)
	}
	valueType, err := s.field(ctx, fieldID)
	if err != nil {
		return schema.FieldOption{}, err
	}
	if valueType != schema.ValueTypeOptions {
		return schema.FieldOption{}, fmt.Errorf("%w: field %d does not take options", ErrInvalid, fieldID)
	}

	var existing int64
	err = s.db.QueryRowContext(ctx,
		`SELECT id FROM field_options WHERE field_id = ? AND value = ?`, fieldID, value).Scan(&existing)
	if err == nil {
		return schema.FieldOption{}, fmt.Errorf("%w: option %q exists as %d", ErrConflict, value, existing)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return schema.FieldOption{}, err
	}

	res, err := s.db.ExecContext(ctx, `INSERT INTO field_options (field_id, value) VALUES (?, ?)`, fieldID, value)
	if err != nil {
		return schema.FieldOption{}, fmt.Errorf("devserver: create option: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return schema.FieldOption{}, err
	}
	return schema.FieldOption{ID: id, Value: value}, nil
}

// InsertBatch stores a submitted item batch and returns its id. Every
// instruction must reference a known field.
func (s *Store) InsertBatch(ctx context.Context, batch payload.Batch) (int64, error) {
	if len(batch.Items) == 0 {
		return 0, fmt.Errorf("%w: batch has no items", ErrInvalid)
	}
	for _, item := range batch.Items {
		if _, err := s.field(ctx, item.FieldID); err != nil {
			return 0, err
		}
	}
	raw, err := json.Marshal(batch)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO item_batches (payload, instructions) VALUES (?, ?)`, string(raw), len(batch.Items))
	if err != nil {
		return 0, fmt.Errorf("devserver: insert batch: %w", err)
	}
	return res.LastInsertId()
}

// Batches returns every stored batch in submission order.
func (s *Store) Batches(ctx context.Context) ([]payload.Batch, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM item_batches ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []payload.Batch
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var batch payload.Batch
		if err := json.Unmarshal([]byte(raw), &batch); err != nil {
			return nil, fmt.Errorf("devserver: decode batch: %w", err)
		}
		out = append(out, batch)
	}
	return out, rows.Err()
}

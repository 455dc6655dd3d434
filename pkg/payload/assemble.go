package payload

import (
	"github.com/goliatone/go-stepform/pkg/schema"
	"github.com/goliatone/go-stepform/pkg/values"
)

// AssembleOption narrows what Assemble walks.
type AssembleOption func(*assembleConfig)

type assembleConfig struct {
	steps map[int]struct{}
}

// WithSteps restricts assembly to the given step ordinals. Without it every
// step is active.
func WithSteps(ordinals ...int) AssembleOption {
	return func(cfg *assembleConfig) {
		if len(ordinals) == 0 {
			return
		}
		if cfg.steps == nil {
			cfg.steps = make(map[int]struct{}, len(ordinals))
		}
		for _, ordinal := range ordinals {
			cfg.steps[ordinal] = struct{}{}
		}
	}
}

// AssembleItems walks every item block and returns its instructions, one
// slice per block in input order. Steps are visited by ordinal and fields in
// schema order. Fields with an empty value are omitted.
func AssembleItems(steps schema.Steps, items []*values.Store, options ...AssembleOption) [][]Instruction {
	cfg := assembleConfig{}
	for _, opt := range options {
		if opt != nil {
			opt(&cfg)
		}
	}

	ordered := steps.Sorted()
	out := make([][]Instruction, 0, len(items))
	for _, item := range items {
		var block []Instruction
		for _, step := range ordered {
			if cfg.steps != nil {
				if _, active := cfg.steps[step.Step]; !active {
					continue
				}
			}
			for _, field := range step.Fields {
				pairs := Pairs(field, item.Value(field.ID))
				if len(pairs) == 0 {
					continue
				}
				block = append(block, Instruction{
					Step:     step.Step,
					StepName: step.StepName,
					FieldID:  field.ID,
					Label:    field.Label,
					Value:    pairs,
				})
			}
		}
		out = append(out, block)
	}
	return out
}

// Assemble flattens AssembleItems into one ordered sequence. It returns
// ErrEmptyBatch when the sequence is empty across every item block.
func Assemble(steps schema.Steps, items []*values.Store, options ...AssembleOption) ([]Instruction, error) {
	var flat []Instruction
	for _, block := range AssembleItems(steps, items, options...) {
		flat = append(flat, block...)
	}
	if len(flat) == 0 {
		return nil, ErrEmptyBatch
	}
	return flat, nil
}

// NewBatch assembles the batch submission body.
func NewBatch(steps schema.Steps, items []*values.Store, options ...AssembleOption) (Batch, error) {
	flat, err := Assemble(steps, items, options...)
	if err != nil {
		return Batch{}, err
	}
	return Batch{Items: flat}, nil
}

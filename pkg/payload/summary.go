package payload

import (
	"embed"
	"fmt"
	"strings"

	"github.com/flosch/pongo2/v6"
)

//go:embed templates/*.tpl
var templateFiles embed.FS

var (
	templateSet     = pongo2.NewSet("stepform", pongo2.NewFSLoader(templateFiles))
	summaryTemplate = pongo2.Must(templateSet.FromFile("templates/summary.tpl"))
)

type summaryValue struct {
	Text     string
	FreeText bool
}

type summaryLine struct {
	StepName string
	Label    string
	Values   []summaryValue
}

// Summary renders a plain-text review of assembled item blocks for
// confirmation before submission. Pairs of fields listed in optionFields
// that carry a zero option id are flagged as free-text fallbacks.
func Summary(blocks [][]Instruction, optionFields map[int64]bool) (string, error) {
	view := make([][]summaryLine, len(blocks))
	for i, block := range blocks {
		lines := make([]summaryLine, len(block))
		for j, ins := range block {
			vals := make([]summaryValue, len(ins.Value))
			for k, pair := range ins.Value {
				vals[k] = summaryValue{
					Text:     pair.Value,
					FreeText: optionFields[ins.FieldID] && pair.FieldValueID == 0,
				}
			}
			lines[j] = summaryLine{StepName: ins.StepName, Label: ins.Label, Values: vals}
		}
		view[i] = lines
	}

	out, err := summaryTemplate.Execute(pongo2.Context{"blocks": view})
	if err != nil {
		return "", fmt.Errorf("payload: render summary: %w", err)
	}
	return strings.TrimRight(out, "\n") + "\n", nil
}

package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

// Endpoints holds the path templates of the five backend operations.
// Placeholders are written {name}; Schema takes {code}, Record and
// CreateOption take {id}.
type Endpoints struct {
	Schema       string `yaml:"schema" json:"schema"`
	Record       string `yaml:"record" json:"record"`
	SaveField    string `yaml:"save_field" json:"save_field"`
	CreateOption string `yaml:"create_option" json:"create_option"`
	SubmitItems  string `yaml:"submit_items" json:"submit_items"`
}

// DefaultEndpoints returns the stock backend layout.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		Schema:       "/forms/{code}/steps",
		Record:       "/records/{id}/details",
		SaveField:    "/records/fields",
		CreateOption: "/fields/{id}/options",
		SubmitItems:  "/items/batch",
	}
}

// Merge returns e with the non-empty entries of override applied.
func (e Endpoints) Merge(override Endpoints) Endpoints {
	if override.Schema != "" {
		e.Schema = override.Schema
	}
	if override.Record != "" {
		e.Record = override.Record
	}
	if override.SaveField != "" {
		e.SaveField = override.SaveField
	}
	if override.CreateOption != "" {
		e.CreateOption = override.CreateOption
	}
	if override.SubmitItems != "" {
		e.SubmitItems = override.SubmitItems
	}
	return e
}

// OperationIDs names the OpenAPI operations backing each endpoint.
type OperationIDs struct {
	Schema       string `yaml:"schema"`
	Record       string `yaml:"record"`
	SaveField    string `yaml:"save_field"`
	CreateOption string `yaml:"create_option"`
	SubmitItems  string `yaml:"submit_items"`
}

// DefaultOperationIDs returns the operation ids the stock backend publishes.
func DefaultOperationIDs() OperationIDs {
	return OperationIDs{
		Schema:       "getFormSteps",
		Record:       "getRecordDetails",
		SaveField:    "saveRecordField",
		CreateOption: "createFieldOption",
		SubmitItems:  "submitItemBatch",
	}
}

var ErrOperationNotFound = errors.New("client: operation not found in OpenAPI document")

// EndpointsFromOpenAPI resolves endpoint templates from an OpenAPI 3
// document by operation id. Paths are taken as written and their path
// parameter is renamed to the placeholder the client fills. Servers entries
// are ignored, so the client base URL must include any API prefix.
// Operations missing from the document keep the default template and are
// reported through ErrOperationNotFound alongside the partial result.
func EndpointsFromOpenAPI(ctx context.Context, raw []byte, ids OperationIDs) (Endpoints, error) {
	if len(raw) == 0 {
		return Endpoints{}, errors.New("client: OpenAPI document is empty")
	}
	loader := &openapi3.Loader{Context: ctx, IsExternalRefsAllowed: false}
	doc, err := loader.LoadFromData(raw)
	if err != nil {
		return Endpoints{}, fmt.Errorf("client: load OpenAPI document: %w", err)
	}
	if doc.Paths == nil || doc.Paths.Len() == 0 {
		return Endpoints{}, errors.New("client: OpenAPI document does not contain any paths")
	}

	ops := make(map[string]string)
	for path, item := range doc.Paths.Map() {
		if item == nil {
			continue
		}
		for _, op := range item.Operations() {
			if op == nil || op.OperationID == "" {
				continue
			}
			ops[op.OperationID] = path
		}
	}

	out := DefaultEndpoints()
	var missing []string
	lookup := func(id, param string, target *string) {
		if id == "" {
			return
		}
		path, ok := ops[id]
		if !ok {
			missing = append(missing, id)
			return
		}
		*target = renameParams(path, param)
	}
	lookup(ids.Schema, "code", &out.Schema)
	lookup(ids.Record, "id", &out.Record)
	lookup(ids.SaveField, "", &out.SaveField)
	lookup(ids.CreateOption, "id", &out.CreateOption)
	lookup(ids.SubmitItems, "", &out.SubmitItems)

	if len(missing) > 0 {
		sort.Strings(missing)
		return out, fmt.Errorf("%w: %s", ErrOperationNotFound, strings.Join(missing, ", "))
	}
	return out, nil
}

// expand fills {name} placeholders with path-escaped values.
func expand(template string, params map[string]string) string {
	out := template
	for name, value := range params {
		out = strings.ReplaceAll(out, "{"+name+"}", url.PathEscape(value))
	}
	return out
}

var pathParam = regexp.MustCompile(`\{[^/{}]+\}`)

// renameParams rewrites every {param} segment of path to {name}. An empty
// name leaves the path untouched.
func renameParams(path, name string) string {
	if name == "" {
		return path
	}
	return pathParam.ReplaceAllString(path, "{"+name+"}")
}

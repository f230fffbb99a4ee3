// Package schema validates GerryDB payloads against embedded JSON Schema
// documents, both before a request is sent and after a response arrives.
package schema

import (
	"embed"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/mggg/gerrydb_sdk_go/pkg/apierr"
)

// Name identifies an embedded schema document.
type Name string

const (
	Meta               Name = "meta"
	MetaCreate         Name = "meta_create"
	Namespace          Name = "namespace"
	NamespaceCreate    Name = "namespace_create"
	Locality           Name = "locality"
	LocalityCreate     Name = "locality_create"
	Column             Name = "column"
	ColumnCreate       Name = "column_create"
	ColumnValue        Name = "column_value"
	ColumnSet          Name = "column_set"
	ColumnSetCreate    Name = "column_set_create"
	GeoLayer           Name = "geo_layer"
	GeoLayerCreate     Name = "geo_layer_create"
	GeoSetCreate       Name = "geo_set_create"
	Geography          Name = "geography"
	GeographyRecord    Name = "geography_record"
	Plan               Name = "plan"
	PlanCreate         Name = "plan_create"
	Graph              Name = "graph"
	GraphCreate        Name = "graph_create"
	ViewTemplate       Name = "view_template"
	ViewTemplateCreate Name = "view_template_create"
	View               Name = "view"
	ViewCreate         Name = "view_create"
)

// refBase is the URI prefix under which shared documents are registered so
// that "$ref" can point at them.
const refBase = "https://schemas.gerrydb.org/"

// shared documents are referenced from others rather than validated directly.
var shared = []string{"meta", "graph_edge"}

//go:embed schemas/*.json
var files embed.FS

var (
	compileOnce sync.Once
	compiled    map[Name]*gojsonschema.Schema
	compileErr  error
)

func load() (map[Name]*gojsonschema.Schema, error) {
	compileOnce.Do(func() {
		entries, err := files.ReadDir("schemas")
		if err != nil {
			compileErr = err
			return
		}
		raw := make(map[string][]byte, len(entries))
		for _, e := range entries {
			data, err := files.ReadFile(path.Join("schemas", e.Name()))
			if err != nil {
				compileErr = err
				return
			}
			raw[strings.TrimSuffix(e.Name(), ".json")] = data
		}

		out := make(map[Name]*gojsonschema.Schema, len(raw))
		for name, data := range raw {
			sl := gojsonschema.NewSchemaLoader()
			for _, s := range shared {
				if s == name {
					continue
				}
				if err := sl.AddSchema(refBase+s+".json", gojsonschema.NewBytesLoader(raw[s])); err != nil {
					compileErr = fmt.Errorf("schema: register %s: %w", s, err)
					return
				}
			}
			compiledSchema, err := sl.Compile(gojsonschema.NewBytesLoader(data))
			if err != nil {
				compileErr = fmt.Errorf("schema: compile %s: %w", name, err)
				return
			}
			out[Name(name)] = compiledSchema
		}
		compiled = out
	})
	return compiled, compileErr
}

func lookup(name Name) (*gojsonschema.Schema, error) {
	schemas, err := load()
	if err != nil {
		return nil, err
	}
	s, ok := schemas[name]
	if !ok {
		return nil, fmt.Errorf("schema: unknown schema %q", name)
	}
	return s, nil
}

// Validate checks a decoded document (maps, slices, scalars or a Go value
// that marshals to JSON) against the named schema. Violations come back as
// an *apierr.Error of kind ErrValidation listing every issue.
func Validate(name Name, doc any) error {
	return validate(name, gojsonschema.NewGoLoader(doc), "")
}

// ValidateJSON is Validate for an encoded JSON document.
func ValidateJSON(name Name, data []byte) error {
	return validate(name, gojsonschema.NewBytesLoader(data), "")
}

// ValidateEach checks that doc is a list whose every element matches the
// named schema. Issue fields are prefixed with the element index.
func ValidateEach(name Name, doc any) error {
	items, ok := doc.([]any)
	if !ok {
		return apierr.Validation(fmt.Sprintf("%s: expected a list", name),
			apierr.Issue{Message: fmt.Sprintf("got %T", doc)})
	}
	var issues []apierr.Issue
	for i, item := range items {
		err := validate(name, gojsonschema.NewGoLoader(item), fmt.Sprintf("[%d]", i))
		if err == nil {
			continue
		}
		if apiErr, ok := err.(*apierr.Error); ok && len(apiErr.Issues) > 0 {
			issues = append(issues, apiErr.Issues...)
			continue
		}
		return err
	}
	if len(issues) > 0 {
		return apierr.Validation(fmt.Sprintf("%s list does not match schema", name), issues...)
	}
	return nil
}

func validate(name Name, doc gojsonschema.JSONLoader, prefix string) error {
	s, err := lookup(name)
	if err != nil {
		return apierr.ValidationWrap(err, "load schema %s", name)
	}
	result, err := s.Validate(doc)
	if err != nil {
		return apierr.ValidationWrap(err, "%s document is not valid JSON", name)
	}
	if result.Valid() {
		return nil
	}
	issues := make([]apierr.Issue, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		field := re.Field()
		if field == "(root)" {
			field = ""
		}
		if prefix != "" {
			field = strings.TrimSuffix(prefix+"."+field, ".")
		}
		issues = append(issues, apierr.Issue{Field: field, Message: re.Description()})
	}
	sort.SliceStable(issues, func(i, j int) bool { return issues[i].Field < issues[j].Field })
	return apierr.Validation(fmt.Sprintf("%s does not match schema", name), issues...)
}

package schema

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mggg/gerrydb_sdk_go/pkg/apierr"
)

const validMeta = `{"uuid":"3f2504e0-4f89-11d3-9a0c-0305e82c3301","notes":"","created_at":"2024-01-02T03:04:05Z","created_by":"tester@example.com"}`

func TestEverySchemaCompiles(t *testing.T) {
	schemas, err := load()
	require.NoError(t, err)
	for _, name := range []Name{
		Meta, MetaCreate, Namespace, NamespaceCreate, Locality, LocalityCreate,
		Column, ColumnCreate, ColumnValue, ColumnSet, ColumnSetCreate,
		GeoLayer, GeoLayerCreate, GeoSetCreate, Geography, GeographyRecord,
		Plan, PlanCreate, Graph, GraphCreate, ViewTemplate, ViewTemplateCreate,
		View, ViewCreate,
	} {
		assert.Contains(t, schemas, name)
	}
}

func TestValidateJSONAcceptsNamespace(t *testing.T) {
	doc := `{"path":"census","description":"Census data","public":true,"meta":` + validMeta + `}`
	require.NoError(t, ValidateJSON(Namespace, []byte(doc)))
}

func TestValidateJSONReportsIssues(t *testing.T) {
	doc := `{"path":"census","public":"yes","meta":{"uuid":"not-a-uuid"}}`
	err := ValidateJSON(Namespace, []byte(doc))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apierr.ErrValidation))

	var apiErr *apierr.Error
	require.True(t, errors.As(err, &apiErr))
	fields := make([]string, 0, len(apiErr.Issues))
	for _, iss := range apiErr.Issues {
		fields = append(fields, iss.Field)
	}
	assert.Contains(t, fields, "public")
	assert.Contains(t, fields, "meta.uuid")
}

func TestValidateGoValue(t *testing.T) {
	type create struct {
		CanonicalPath string `json:"canonical_path"`
		Description   string `json:"description"`
		Kind          string `json:"kind"`
		Type          string `json:"type"`
	}
	require.NoError(t, Validate(ColumnCreate, create{"totpop", "Total population", "count", "int"}))

	err := Validate(ColumnCreate, create{"census/totpop", "", "tally", "int"})
	require.ErrorIs(t, err, apierr.ErrValidation)
}

func TestValidateEachPrefixesIndex(t *testing.T) {
	doc := []any{
		map[string]any{"path_1": "a", "path_2": "b"},
		map[string]any{"path_1": "a"},
	}
	err := ValidateEach(Name("graph_edge"), doc)
	require.Error(t, err)
	var apiErr *apierr.Error
	require.True(t, errors.As(err, &apiErr))
	require.Len(t, apiErr.Issues, 1)
	assert.Equal(t, "[1]", apiErr.Issues[0].Field)

	err = ValidateEach(Namespace, map[string]any{})
	require.ErrorIs(t, err, apierr.ErrValidation)
}

package gerrydb

import (
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"

	"github.com/mggg/gerrydb_sdk_go/pkg/apierr"
)

// ObjectMeta describes the write context an object version was created in.
type ObjectMeta struct {
	UUID      string    `json:"uuid"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	CreatedBy string    `json:"created_by"`
}

// ID parses the meta UUID.
func (m ObjectMeta) ID() (uuid.UUID, error) {
	return uuid.Parse(m.UUID)
}

// ObjectMetaCreate is the body of POST /meta/.
type ObjectMetaCreate struct {
	Notes string `json:"notes"`
}

// Namespace groups objects and controls their visibility.
type Namespace struct {
	Path        string     `json:"path"`
	Description string     `json:"description"`
	Public      bool       `json:"public"`
	Meta        ObjectMeta `json:"meta"`
}

// NamespaceCreate is the body of POST /namespaces/.
type NamespaceCreate struct {
	Path        string `json:"path"`
	Description string `json:"description"`
	Public      bool   `json:"public"`
}

// Locality is a place with a stable identity (a state, a county, a city).
// Localities are global rather than namespaced.
type Locality struct {
	CanonicalPath string     `json:"canonical_path"`
	ParentPath    *string    `json:"parent_path"`
	DefaultProj   *string    `json:"default_proj"`
	Name          string     `json:"name"`
	Aliases       []string   `json:"aliases"`
	Meta          ObjectMeta `json:"meta"`
}

// LocalityCreate describes one locality in a bulk create request.
type LocalityCreate struct {
	CanonicalPath string   `json:"canonical_path"`
	ParentPath    *string  `json:"parent_path,omitempty"`
	DefaultProj   *string  `json:"default_proj,omitempty"`
	Name          string   `json:"name"`
	Aliases       []string `json:"aliases,omitempty"`
}

// LocalityPatch adds aliases to a locality.
type LocalityPatch struct {
	Aliases []string `json:"aliases"`
}

// ColumnKind is the meaning of a column's values.
type ColumnKind string

const (
	ColumnKindCount       ColumnKind = "count"
	ColumnKindPercent     ColumnKind = "percent"
	ColumnKindCategorical ColumnKind = "categorical"
	ColumnKindIdentifier  ColumnKind = "identifier"
	ColumnKindArea        ColumnKind = "area"
	ColumnKindOther       ColumnKind = "other"
)

// ColumnType is the storage type of a column's values.
type ColumnType string

const (
	ColumnTypeFloat ColumnType = "float"
	ColumnTypeInt   ColumnType = "int"
	ColumnTypeBool  ColumnType = "bool"
	ColumnTypeStr   ColumnType = "str"
	ColumnTypeJSON  ColumnType = "json"
)

// Column describes a tabular attribute of geographies.
type Column struct {
	CanonicalPath string     `json:"canonical_path"`
	Namespace     string     `json:"namespace"`
	Description   string     `json:"description"`
	SourceURL     *string    `json:"source_url"`
	Kind          ColumnKind `json:"kind"`
	Type          ColumnType `json:"type"`
	Aliases       []string   `json:"aliases"`
	Meta          ObjectMeta `json:"meta"`
}

// Path returns the namespace-relative path of the column.
func (c Column) Path() string { return c.CanonicalPath }

// FullPath returns /namespace/path.
func (c Column) FullPath() string { return "/" + c.Namespace + "/" + c.CanonicalPath }

// ColumnCreate is the body of POST /columns/{namespace}.
type ColumnCreate struct {
	CanonicalPath string     `json:"canonical_path"`
	Description   string     `json:"description"`
	SourceURL     *string    `json:"source_url,omitempty"`
	Kind          ColumnKind `json:"kind"`
	Type          ColumnType `json:"type"`
	Aliases       []string   `json:"aliases,omitempty"`
}

// ColumnPatch adds aliases to a column.
type ColumnPatch struct {
	Aliases []string `json:"aliases"`
}

// ColumnValue assigns a value to one geography.
type ColumnValue struct {
	Path  string `json:"path"`
	Value any    `json:"value"`
}

// ColumnSet is a named group of columns.
type ColumnSet struct {
	Path        string     `json:"path"`
	Namespace   string     `json:"namespace"`
	Description string     `json:"description"`
	Columns     []Column   `json:"columns"`
	Refs        []string   `json:"refs"`
	Meta        ObjectMeta `json:"meta"`
}

// ColumnSetCreate is the body of POST /column-sets/{namespace}.
type ColumnSetCreate struct {
	Path        string   `json:"path"`
	Description string   `json:"description"`
	Columns     []string `json:"columns"`
}

// GeoLayer is a collection of geographies at one level of a hierarchy
// (blocks, tracts, counties).
type GeoLayer struct {
	Path        string     `json:"path"`
	Namespace   string     `json:"namespace"`
	Description *string    `json:"description"`
	SourceURL   *string    `json:"source_url"`
	Meta        ObjectMeta `json:"meta"`
}

// FullPath returns /namespace/path.
func (l GeoLayer) FullPath() string { return "/" + l.Namespace + "/" + l.Path }

// GeoLayerCreate is the body of POST /layers/{namespace}.
type GeoLayerCreate struct {
	Path        string  `json:"path"`
	Description *string `json:"description,omitempty"`
	SourceURL   *string `json:"source_url,omitempty"`
}

// GeoSetCreate maps geographies to a layer within a locality.
type GeoSetCreate struct {
	Paths []string `json:"paths"`
}

// Geography is a stored geometry version.
type Geography struct {
	Path          string     `json:"path"`
	Namespace     string     `json:"namespace"`
	Geography     []byte     `json:"geography"`
	InternalPoint []byte     `json:"internal_point"`
	ValidFrom     time.Time  `json:"valid_from"`
	Meta          ObjectMeta `json:"meta"`
}

// FullPath returns /namespace/path.
func (g Geography) FullPath() string { return "/" + g.Namespace + "/" + g.Path }

// Shape decodes the WKB geometry; an empty geography yields nil.
func (g Geography) Shape() (orb.Geometry, error) {
	if len(g.Geography) == 0 {
		return nil, nil
	}
	shape, err := wkb.Unmarshal(g.Geography)
	if err != nil {
		return nil, apierr.ValidationWrap(err, "decode geography %s", g.FullPath())
	}
	return shape, nil
}

// Point decodes the WKB internal point.
func (g Geography) Point() (*orb.Point, error) {
	if len(g.InternalPoint) == 0 {
		return nil, nil
	}
	shape, err := wkb.Unmarshal(g.InternalPoint)
	if err != nil {
		return nil, apierr.ValidationWrap(err, "decode internal point of %s", g.FullPath())
	}
	p, ok := shape.(orb.Point)
	if !ok {
		return nil, apierr.Validation("internal point of " + g.FullPath() + " is a " + shape.GeoJSONType())
	}
	return &p, nil
}

// Plan is a districting plan over a layer in a locality.
type Plan struct {
	Path         string             `json:"path"`
	Namespace    string             `json:"namespace"`
	Description  string             `json:"description"`
	SourceURL    *string            `json:"source_url"`
	DistrictrID  *string            `json:"districtr_id"`
	DavesID      *string            `json:"daves_id"`
	Locality     string             `json:"locality"`
	Layer        string             `json:"layer"`
	Assignments  map[string]*string `json:"assignments"`
	NumDistricts int                `json:"num_districts"`
	Complete     bool               `json:"complete"`
	CreatedAt    time.Time          `json:"created_at"`
	Meta         ObjectMeta         `json:"meta"`
}

// PlanCreate is the body of POST /plans/{namespace}. Assignments map
// geography paths to district labels; a nil label leaves a geography
// unassigned.
type PlanCreate struct {
	Path        string             `json:"path"`
	Description string             `json:"description,omitempty"`
	SourceURL   *string            `json:"source_url,omitempty"`
	DistrictrID *string            `json:"districtr_id,omitempty"`
	DavesID     *string            `json:"daves_id,omitempty"`
	Locality    string             `json:"locality"`
	Layer       string             `json:"layer"`
	Assignments map[string]*string `json:"assignments"`
}

// GraphEdge connects two geographies, optionally with weights.
type GraphEdge struct {
	Path1   string         `json:"path_1"`
	Path2   string         `json:"path_2"`
	Weights map[string]any `json:"weights,omitempty"`
}

// Graph is a dual graph over a layer in a locality.
type Graph struct {
	Path        string      `json:"path"`
	Namespace   string      `json:"namespace"`
	Description string      `json:"description"`
	Locality    string      `json:"locality"`
	Layer       string      `json:"layer"`
	Proj        *string     `json:"proj"`
	Edges       []GraphEdge `json:"edges"`
	CreatedAt   time.Time   `json:"created_at"`
	Meta        ObjectMeta  `json:"meta"`
}

// GraphCreate is the body of POST /graphs/{namespace}.
type GraphCreate struct {
	Path        string      `json:"path"`
	Description string      `json:"description,omitempty"`
	Locality    string      `json:"locality"`
	Layer       string      `json:"layer"`
	Proj        *string     `json:"proj,omitempty"`
	Edges       []GraphEdge `json:"edges"`
}

// ViewTemplate is a reusable list of columns and column sets, referenced by
// full path (/namespace/path).
type ViewTemplate struct {
	Path        string     `json:"path"`
	Namespace   string     `json:"namespace"`
	Description string     `json:"description"`
	Members     []string   `json:"members"`
	ValidFrom   time.Time  `json:"valid_from"`
	Meta        ObjectMeta `json:"meta"`
}

// ViewTemplateCreate is the body of POST /view-templates/{namespace}.
type ViewTemplateCreate struct {
	Path        string   `json:"path"`
	Description string   `json:"description,omitempty"`
	Members     []string `json:"members"`
}

// ViewMeta describes a view: a template instantiated over a layer in a
// locality at a point in time.
type ViewMeta struct {
	Path      string     `json:"path"`
	Namespace string     `json:"namespace"`
	Template  string     `json:"template"`
	Locality  string     `json:"locality"`
	Layer     string     `json:"layer"`
	Graph     *string    `json:"graph"`
	ValidAt   time.Time  `json:"valid_at"`
	Proj      *string    `json:"proj"`
	Meta      ObjectMeta `json:"meta"`
}

// ViewCreate is the body of POST /views/{namespace}.
type ViewCreate struct {
	Path     string     `json:"path"`
	Template string     `json:"template"`
	Locality string     `json:"locality"`
	Layer    string     `json:"layer"`
	Graph    *string    `json:"graph,omitempty"`
	ValidAt  *time.Time `json:"valid_at,omitempty"`
	Proj     *string    `json:"proj,omitempty"`
}

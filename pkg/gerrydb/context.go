package gerrydb

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/mggg/gerrydb_sdk_go/internal/schema"
	"github.com/mggg/gerrydb_sdk_go/pkg/apierr"
)

// WriteContext is a write session. Every object version written through its
// repositories is tagged with Meta.
type WriteContext struct {
	Meta ObjectMeta
	c    *Client
}

// Context opens a write session annotated with notes.
func (c *Client) Context(ctx context.Context, notes string) (*WriteContext, error) {
	if c.offline {
		return nil, apierr.Offline("opening a write context")
	}
	in := ObjectMetaCreate{Notes: notes}
	if err := schema.Validate(schema.MetaCreate, in); err != nil {
		return nil, err
	}
	cl := call{method: http.MethodPost, path: "meta/", payload: in}
	resp, err := c.do(ctx, cl)
	if err != nil {
		return nil, err
	}
	meta, err := decodeValidated[ObjectMeta](schema.Meta, cl, resp)
	if err != nil {
		return nil, err
	}
	if _, err := meta.ID(); err != nil {
		return nil, responseError(cl, resp, apierr.ValidationWrap(err, "meta uuid %q", meta.UUID))
	}
	c.logger.Info("opened write context", zap.String("meta_id", meta.UUID), zap.String("notes", notes))
	return &WriteContext{Meta: *meta, c: c.withMeta(meta.UUID)}, nil
}

// Client returns the write-enabled client backing the context.
func (w *WriteContext) Client() *Client { return w.c }

func (w *WriteContext) Namespaces() *NamespaceRepo       { return w.c.Namespaces() }
func (w *WriteContext) Localities() *LocalityRepo        { return w.c.Localities() }
func (w *WriteContext) Columns() *ColumnRepo             { return w.c.Columns() }
func (w *WriteContext) ColumnSets() *ColumnSetRepo       { return w.c.ColumnSets() }
func (w *WriteContext) GeoLayers() *GeoLayerRepo         { return w.c.GeoLayers() }
func (w *WriteContext) Geographies() *GeographyRepo      { return w.c.Geographies() }
func (w *WriteContext) Plans() *PlanRepo                 { return w.c.Plans() }
func (w *WriteContext) Graphs() *GraphRepo               { return w.c.Graphs() }
func (w *WriteContext) ViewTemplates() *ViewTemplateRepo { return w.c.ViewTemplates() }
func (w *WriteContext) Views() *ViewRepo                 { return w.c.Views() }

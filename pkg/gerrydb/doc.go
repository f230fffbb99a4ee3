// Package gerrydb is a client for the GerryDB geospatial database API.
//
// A Client issues authenticated requests against a GerryDB server's /api/v1
// surface and exposes one repository per resource collection: namespaces,
// localities, columns, column sets, geographic layers, geographies, plans,
// graphs, view templates and views. Create payloads are checked against
// JSON Schema before they are sent and every object response is checked
// after it is received, so malformed data surfaces as apierr.ErrValidation
// instead of a decode failure deep in caller code.
//
// Reads of versioned objects go through a local bbolt cache (package cache)
// using conditional requests; a client opened WithOffline serves reads from
// that cache alone. Writes happen inside a WriteContext, which tags every
// object version it creates with shared metadata:
//
//	db, err := gerrydb.New("localhost:8000", apiKey, gerrydb.WithNamespace("census"))
//	if err != nil {
//		return err
//	}
//	defer db.Close()
//
//	wc, err := db.Context(ctx, "import 2020 blocks")
//	if err != nil {
//		return err
//	}
//	layer, err := wc.GeoLayers().Create(ctx, "", gerrydb.GeoLayerCreate{Path: "blocks"})
//
// Every error returned by the package is an *apierr.Error whose kind can be
// tested with errors.Is.
package gerrydb

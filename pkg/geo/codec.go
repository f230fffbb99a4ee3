package geo

import (
	"bytes"
	"encoding/binary"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulmach/orb/geojson"

	"github.com/mggg/gerrydb_sdk_go/internal/gerryapi"
	"github.com/mggg/gerrydb_sdk_go/internal/httpx"
	"github.com/mggg/gerrydb_sdk_go/internal/schema"
	"github.com/mggg/gerrydb_sdk_go/pkg/apierr"
)

// Format selects the wire encoding of a record.
type Format int

const (
	JSON Format = iota
	MsgPack
)

func (f Format) String() string {
	switch f {
	case JSON:
		return "json"
	case MsgPack:
		return "msgpack"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// ContentType returns the HTTP media type of the format.
func (f Format) ContentType() string {
	if f == MsgPack {
		return httpx.ContentTypeMsgPack
	}
	return httpx.ContentTypeJSON
}

// ParseFormat accepts "json", "msgpack" and the matching media types.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "", "json", httpx.ContentTypeJSON:
		return JSON, nil
	case "msgpack", "messagepack":
		return MsgPack, nil
	}
	if httpx.MediaType(s) == httpx.ContentTypeMsgPack {
		return MsgPack, nil
	}
	return JSON, fmt.Errorf("geo: unknown format %q", s)
}

// Wire is the encoded form of a record.
type Wire struct {
	Path          string         `json:"path"`
	CRS           CRS            `json:"crs"`
	Geography     []byte         `json:"geography"`
	InternalPoint []byte         `json:"internal_point"`
	Attributes    map[string]any `json:"attributes,omitempty"`
}

// ToWire validates r and encodes its geometries as little-endian WKB.
func ToWire(r Record) (Wire, error) {
	if err := Validate(r); err != nil {
		return Wire{}, err
	}
	w := Wire{
		Path:       r.Path,
		CRS:        r.CRS.normalized(),
		Attributes: NormalizeAttributes(r.Attributes),
	}
	var err error
	if r.Geometry != nil {
		if w.Geography, err = wkb.Marshal(r.Geometry, binary.LittleEndian); err != nil {
			return Wire{}, apierr.ValidationWrap(err, "encode geometry of %q", r.Path)
		}
	}
	if r.InternalPoint != nil {
		if w.InternalPoint, err = wkb.Marshal(*r.InternalPoint, binary.LittleEndian); err != nil {
			return Wire{}, apierr.ValidationWrap(err, "encode internal point of %q", r.Path)
		}
	}
	return w, nil
}

// FromWire decodes the WKB payloads of w and validates the resulting record.
func FromWire(w Wire) (Record, error) {
	r := Record{
		Path:       w.Path,
		CRS:        w.CRS,
		Attributes: NormalizeAttributes(w.Attributes),
	}
	if len(w.Geography) > 0 {
		g, err := wkb.Unmarshal(w.Geography)
		if err != nil {
			return Record{}, apierr.ValidationWrap(err, "decode geometry of %q", w.Path)
		}
		r.Geometry = g
	}
	if len(w.InternalPoint) > 0 {
		g, err := wkb.Unmarshal(w.InternalPoint)
		if err != nil {
			return Record{}, apierr.ValidationWrap(err, "decode internal point of %q", w.Path)
		}
		p, ok := g.(orb.Point)
		if !ok {
			return Record{}, apierr.Validation(fmt.Sprintf("invalid geographic record %q", w.Path),
				apierr.Issue{Field: "internal_point", Message: fmt.Sprintf("expected Point, got %s", g.GeoJSONType())})
		}
		r.InternalPoint = &p
	}
	if err := Validate(r); err != nil {
		return Record{}, err
	}
	return r, nil
}

// Serialize validates r and encodes it in format f.
func Serialize(r Record, f Format) ([]byte, error) {
	w, err := ToWire(r)
	if err != nil {
		return nil, err
	}
	data, err := gerryapi.Marshal(f.ContentType(), w)
	if err != nil {
		return nil, apierr.ValidationWrap(err, "encode record %q as %s", r.Path, f)
	}
	return data, nil
}

// Deserialize decodes a record in format f. Malformed input, schema
// mismatches and invalid geometries all yield ErrValidation.
func Deserialize(data []byte, f Format) (Record, error) {
	doc, err := gerryapi.Generic(f.ContentType(), data)
	if err != nil {
		return Record{}, apierr.ValidationWrap(err, "decode %s record", f)
	}
	if err := schema.Validate(schema.GeographyRecord, doc); err != nil {
		return Record{}, err
	}
	w, err := decodeWire(data, f)
	if err != nil {
		return Record{}, err
	}
	return FromWire(w)
}

func decodeWire(data []byte, f Format) (Wire, error) {
	var w Wire
	if f == JSON {
		// Numbers are kept exact so integral attributes stay integers.
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&w); err != nil {
			return Wire{}, apierr.ValidationWrap(err, "decode json record")
		}
		return w, nil
	}
	if err := gerryapi.Unmarshal(f.ContentType(), data, &w); err != nil {
		return Wire{}, apierr.ValidationWrap(err, "decode %s record", f)
	}
	return w, nil
}

// SerializeBatch encodes records as a single list in format f.
func SerializeBatch(records []Record, f Format) ([]byte, error) {
	wires := make([]Wire, 0, len(records))
	for _, r := range records {
		w, err := ToWire(r)
		if err != nil {
			return nil, err
		}
		wires = append(wires, w)
	}
	data, err := gerryapi.Marshal(f.ContentType(), wires)
	if err != nil {
		return nil, apierr.ValidationWrap(err, "encode %d records as %s", len(records), f)
	}
	return data, nil
}

// DeserializeBatch decodes a list produced by SerializeBatch.
func DeserializeBatch(data []byte, f Format) ([]Record, error) {
	doc, err := gerryapi.Generic(f.ContentType(), data)
	if err != nil {
		return nil, apierr.ValidationWrap(err, "decode %s record list", f)
	}
	if err := schema.ValidateEach(schema.GeographyRecord, doc); err != nil {
		return nil, err
	}
	var wires []Wire
	if f == JSON {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		err = dec.Decode(&wires)
	} else {
		err = gerryapi.Unmarshal(f.ContentType(), data, &wires)
	}
	if err != nil {
		return nil, apierr.ValidationWrap(err, "decode %s record list", f)
	}
	out := make([]Record, 0, len(wires))
	for _, w := range wires {
		r, err := FromWire(w)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// ToFeatureCollection renders records as GeoJSON features keyed by path.
// Empty geographies become empty geometry collections.
func ToFeatureCollection(records []Record) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, r := range records {
		g := r.Geometry
		if g == nil {
			g = orb.Collection{}
		}
		f := geojson.NewFeature(g)
		f.ID = r.Path
		for k, v := range NormalizeAttributes(r.Attributes) {
			f.Properties[k] = v
		}
		if r.InternalPoint != nil {
			f.Properties["internal_point"] = []float64{r.InternalPoint.Lon(), r.InternalPoint.Lat()}
		}
		fc.Append(f)
	}
	return fc
}

package geo

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"

	"github.com/mggg/gerrydb_sdk_go/pkg/apierr"
)

// Validate checks that the record has a path, a supported CRS and a geometry
// that is well formed under that CRS. It returns an ErrValidation error
// listing every problem found.
func Validate(r Record) error {
	var issues []apierr.Issue
	if r.Path == "" {
		issues = append(issues, apierr.Issue{Field: "path", Message: "is required"})
	}
	if !r.CRS.Geographic() {
		issues = append(issues, apierr.Issue{Field: "crs", Message: fmt.Sprintf("unsupported CRS %q", r.CRS)})
	} else {
		if r.Geometry != nil {
			issues = append(issues, checkGeometry("geography", r.Geometry)...)
		}
		if r.InternalPoint != nil {
			issues = append(issues, checkPoint("internal_point", *r.InternalPoint)...)
		}
	}
	if len(issues) > 0 {
		return apierr.Validation(fmt.Sprintf("invalid geographic record %q", r.Path), issues...)
	}
	return nil
}

// ValidateGeometry checks a single geometry under the default CRS.
func ValidateGeometry(g orb.Geometry) error {
	if g == nil {
		return nil
	}
	if issues := checkGeometry("geometry", g); len(issues) > 0 {
		return apierr.Validation("invalid geometry", issues...)
	}
	return nil
}

func checkGeometry(field string, g orb.Geometry) []apierr.Issue {
	switch t := g.(type) {
	case orb.Point:
		return checkPoint(field, t)
	case orb.MultiPoint:
		if len(t) == 0 {
			return emptyIssue(field, t)
		}
		var out []apierr.Issue
		for i, p := range t {
			out = append(out, checkPoint(fmt.Sprintf("%s[%d]", field, i), p)...)
		}
		return out
	case orb.LineString:
		return checkLineString(field, t)
	case orb.MultiLineString:
		if len(t) == 0 {
			return emptyIssue(field, t)
		}
		var out []apierr.Issue
		for i, ls := range t {
			out = append(out, checkLineString(fmt.Sprintf("%s[%d]", field, i), ls)...)
		}
		return out
	case orb.Polygon:
		return checkPolygon(field, t)
	case orb.MultiPolygon:
		if len(t) == 0 {
			return emptyIssue(field, t)
		}
		var out []apierr.Issue
		for i, p := range t {
			out = append(out, checkPolygon(fmt.Sprintf("%s[%d]", field, i), p)...)
		}
		return out
	case orb.Collection:
		if len(t) == 0 {
			return emptyIssue(field, t)
		}
		var out []apierr.Issue
		for i, member := range t {
			if member == nil {
				out = append(out, apierr.Issue{Field: fmt.Sprintf("%s[%d]", field, i), Message: "nil member"})
				continue
			}
			out = append(out, checkGeometry(fmt.Sprintf("%s[%d]", field, i), member)...)
		}
		return out
	default:
		return []apierr.Issue{{Field: field, Message: fmt.Sprintf("unsupported geometry type %s", g.GeoJSONType())}}
	}
}

func emptyIssue(field string, g orb.Geometry) []apierr.Issue {
	return []apierr.Issue{{Field: field, Message: fmt.Sprintf("empty %s; use a nil geometry for an empty geography", g.GeoJSONType())}}
}

func checkPoint(field string, p orb.Point) []apierr.Issue {
	lon, lat := p.Lon(), p.Lat()
	switch {
	case math.IsNaN(lon) || math.IsNaN(lat) || math.IsInf(lon, 0) || math.IsInf(lat, 0):
		return []apierr.Issue{{Field: field, Message: "coordinates must be finite"}}
	case lon < -180 || lon > 180:
		return []apierr.Issue{{Field: field, Message: fmt.Sprintf("longitude %v out of range [-180, 180]", lon)}}
	case lat < -90 || lat > 90:
		return []apierr.Issue{{Field: field, Message: fmt.Sprintf("latitude %v out of range [-90, 90]", lat)}}
	}
	return nil
}

func checkLineString(field string, ls orb.LineString) []apierr.Issue {
	if len(ls) < 2 {
		return []apierr.Issue{{Field: field, Message: fmt.Sprintf("line string needs at least 2 points, has %d", len(ls))}}
	}
	var out []apierr.Issue
	for i, p := range ls {
		out = append(out, checkPoint(fmt.Sprintf("%s[%d]", field, i), p)...)
	}
	return out
}

func checkPolygon(field string, poly orb.Polygon) []apierr.Issue {
	if len(poly) == 0 {
		return emptyIssue(field, poly)
	}
	var out []apierr.Issue
	for i, ring := range poly {
		rf := fmt.Sprintf("%s[%d]", field, i)
		if len(ring) < 4 {
			out = append(out, apierr.Issue{Field: rf, Message: fmt.Sprintf("ring needs at least 4 points, has %d", len(ring))})
			continue
		}
		if !ring.Closed() {
			out = append(out, apierr.Issue{Field: rf, Message: "ring is not closed"})
		}
		for j, p := range ring {
			out = append(out, checkPoint(fmt.Sprintf("%s[%d]", rf, j), p)...)
		}
	}
	return out
}

// Package cleaning implements the basic-cleaning transform: a price range
// filter, last_review date coercion and a New York City bounding-box filter,
// applied in that order.
package cleaning

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/3leaps/cleanstep/pkg/table"
)

// Column names the transform depends on.
const (
	ColumnPrice      = "price"
	ColumnLongitude  = "longitude"
	ColumnLatitude   = "latitude"
	ColumnLastReview = "last_review"
)

// BoundingBox is a closed lon/lat rectangle.
type BoundingBox struct {
	MinLon, MaxLon float64
	MinLat, MaxLat float64
}

// Contains reports whether (lon, lat) lies inside the box, edges included.
// NaN coordinates are never inside.
func (b BoundingBox) Contains(lon, lat float64) bool {
	return table.Between(lon, b.MinLon, b.MaxLon) && table.Between(lat, b.MinLat, b.MaxLat)
}

// NYC is the fixed bounding box applied by Clean.
var NYC = BoundingBox{MinLon: -74.25, MaxLon: -73.50, MinLat: 40.5, MaxLat: 41.2}

// ErrDateCoercion indicates a last_review value could not be read as a date
// under the strict policy.
var ErrDateCoercion = errors.New("date coercion failure")

// Options configures Clean.
type Options struct {
	MinPrice float64
	MaxPrice float64

	// DatePolicy defaults to DatePolicyStrict.
	DatePolicy DatePolicy
	// DateLayouts, when non-empty, replaces format detection with these
	// time layouts.
	DateLayouts []string

	Logger *zap.Logger
}

// Report counts rows remaining after each stage.
type Report struct {
	InputRows    int
	AfterPrice   int
	MissingDates int
	AfterBounds  int
}

// Dropped returns the number of rows removed overall.
func (r Report) Dropped() int {
	return r.InputRows - r.AfterBounds
}

// Clean runs the three stages over t and returns the cleaned table.
// t itself is not modified. min > max yields an empty table.
func Clean(t *table.Table, opts Options) (*table.Table, Report, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if t == nil {
		return nil, Report{}, fmt.Errorf("table is nil")
	}
	policy, err := ParseDatePolicy(string(opts.DatePolicy))
	if err != nil {
		return nil, Report{}, err
	}

	report := Report{InputRows: t.Len()}

	out, err := FilterPrice(t, opts.MinPrice, opts.MaxPrice)
	if err != nil {
		return nil, report, err
	}
	report.AfterPrice = out.Len()
	log.Debug("price filter applied",
		zap.Float64("min_price", opts.MinPrice),
		zap.Float64("max_price", opts.MaxPrice),
		zap.Int("rows", report.AfterPrice))

	missing, err := CoerceDates(out, ColumnLastReview, policy, opts.DateLayouts)
	if err != nil {
		return nil, report, err
	}
	report.MissingDates = missing
	log.Debug("last_review coerced to date",
		zap.String("policy", string(policy)),
		zap.Int("missing", missing))

	out, err = FilterBoundingBox(out, NYC)
	if err != nil {
		return nil, report, err
	}
	report.AfterBounds = out.Len()
	log.Debug("bounding box filter applied", zap.Int("rows", report.AfterBounds))

	return out, report, nil
}

// FilterPrice keeps rows with minPrice <= price <= maxPrice.
func FilterPrice(t *table.Table, minPrice, maxPrice float64) (*table.Table, error) {
	prices, err := t.Floats(ColumnPrice)
	if err != nil {
		return nil, err
	}
	return t.Filter(func(i int) bool {
		return table.Between(prices[i], minPrice, maxPrice)
	}), nil
}

// FilterBoundingBox keeps rows whose longitude/latitude fall inside box.
func FilterBoundingBox(t *table.Table, box BoundingBox) (*table.Table, error) {
	lons, err := t.Floats(ColumnLongitude)
	if err != nil {
		return nil, err
	}
	lats, err := t.Floats(ColumnLatitude)
	if err != nil {
		return nil, err
	}
	return t.Filter(func(i int) bool {
		return box.Contains(lons[i], lats[i])
	}), nil
}

// Package tilesource fetches map tiles over HTTP from URL-template sources.
package tilesource

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	// DefaultMaxZoom is used when Descriptor.MaxZoom is zero
	DefaultMaxZoom = 19

	// DefaultMaxSize caps a tile body when Descriptor.MaxSize is zero
	DefaultMaxSize = 4 << 20
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Descriptor describes a tile source.
//
// URL is a template with placeholders {z}, {x}, {y}, {-y} (TMS row), {s}
// (one of Subdomains) and {quadkey}.
type Descriptor struct {
	Name       string            `koanf:"name" json:"name" validate:"required,excludesall=/@ "`
	URL        string            `koanf:"url" json:"url" validate:"required"`
	Subdomains []string          `koanf:"subdomains" json:"subdomains,omitempty" validate:"dive,hostname_rfc1123"`
	Zoom       int               `koanf:"zoom" json:"zoom" validate:"gte=0"`
	MinZoom    int               `koanf:"min_zoom" json:"min_zoom" validate:"gte=0"`
	MaxZoom    int               `koanf:"max_zoom" json:"max_zoom" validate:"gte=0,lte=30"`
	Headers    map[string]string `koanf:"headers" json:"-"`

	Rate    float64       `koanf:"rate" json:"rate,omitempty" validate:"gte=0"` // requests per second over all workers; 0 = unlimited
	Burst   int           `koanf:"burst" json:"burst,omitempty" validate:"gte=0"`
	Timeout time.Duration `koanf:"timeout" json:"timeout,omitempty" validate:"gte=0"`
	MaxSize int64         `koanf:"max_size" json:"max_size,omitempty" validate:"gte=0"`
}

// ErrZoom is returned for a zoom level the source does not serve
var ErrZoom = errors.New("zoom level out of range")

func (d Descriptor) maxZoom() int {
	if d.MaxZoom == 0 {
		return DefaultMaxZoom
	}
	return d.MaxZoom
}

// ID identifies the source at its current zoom level. Tiles of different
// IDs never mix in a cache.
func (d Descriptor) ID() string {
	return d.Name + "@" + strconv.Itoa(d.Zoom)
}

// WithZoom returns the descriptor switched to another zoom level
func (d Descriptor) WithZoom(zoom int) (Descriptor, error) {
	if zoom < d.MinZoom || zoom > d.maxZoom() {
		return Descriptor{}, fmt.Errorf("%w: %d not in [%d, %d] for %s", ErrZoom, zoom, d.MinZoom, d.maxZoom(), d.Name)
	}
	d.Zoom = zoom
	return d, nil
}

// Validate checks the descriptor
func (d Descriptor) Validate() error {
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("invalid tile source %q: %w", d.Name, err)
	}
	if d.MinZoom > d.maxZoom() || d.Zoom < d.MinZoom || d.Zoom > d.maxZoom() {
		return fmt.Errorf("invalid tile source %q: %w: zoom %d, range [%d, %d]", d.Name, ErrZoom, d.Zoom, d.MinZoom, d.maxZoom())
	}
	if strings.Contains(d.URL, "{s}") && len(d.Subdomains) == 0 {
		return fmt.Errorf("invalid tile source %q: template uses {s} but no subdomains are given", d.Name)
	}
	sub := ""
	if len(d.Subdomains) > 0 {
		sub = d.Subdomains[0]
	}
	sample := d.TileURL(d.Zoom, 0, 0, sub)
	if strings.ContainsAny(sample, "{}") {
		return fmt.Errorf("invalid tile source %q: unknown placeholder in %q", d.Name, d.URL)
	}
	u, err := url.Parse(sample)
	if err != nil {
		return fmt.Errorf("invalid tile source %q: %w", d.Name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid tile source %q: unsupported scheme %q", d.Name, u.Scheme)
	}
	return nil
}

// TileURL expands the URL template for a tile
func (d Descriptor) TileURL(zoom, x, y int, subdomain string) string {
	return strings.NewReplacer(
		"{z}", strconv.Itoa(zoom),
		"{x}", strconv.Itoa(x),
		"{y}", strconv.Itoa(y),
		"{-y}", strconv.Itoa(1<<zoom-1-y),
		"{s}", subdomain,
		"{quadkey}", Quadkey(zoom, x, y),
	).Replace(d.URL)
}

// Quadkey returns the Bing Maps quadkey of a tile
func Quadkey(zoom, x, y int) string {
	var b strings.Builder
	for i := zoom; i > 0; i-- {
		digit := byte('0')
		mask := 1 << (i - 1)
		if x&mask != 0 {
			digit++
		}
		if y&mask != 0 {
			digit += 2
		}
		b.WriteByte(digit)
	}
	return b.String()
}

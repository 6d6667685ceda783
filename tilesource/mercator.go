package tilesource

import "math"

// MaxLatitude is the latitude limit of the Web Mercator projection
const MaxLatitude = 85.05112878

// TileOf returns the column (x) and row (y) of the Web Mercator tile holding
// a point at the given zoom level. Out-of-range coordinates are clamped to the
// edge tiles.
func TileOf(zoom int, lat, lon float64) (x, y int) {
	n := float64(int(1) << zoom)
	lat = math.Max(-MaxLatitude, math.Min(MaxLatitude, lat))
	lon = math.Max(-180, math.Min(180, lon))

	rad := lat * math.Pi / 180
	fx := (lon + 180) / 360 * n
	fy := (1 - math.Log(math.Tan(rad)+1/math.Cos(rad))/math.Pi) / 2 * n
	return clamp(int(math.Floor(fx)), int(n)), clamp(int(math.Floor(fy)), int(n))
}

// NorthWest returns the coordinates of the north-west corner of a tile
func NorthWest(zoom, x, y int) (lat, lon float64) {
	n := float64(int(1) << zoom)
	lon = float64(x)/n*360 - 180
	lat = math.Atan(math.Sinh(math.Pi*(1-2*float64(y)/n))) * 180 / math.Pi
	return lat, lon
}

func clamp(v, n int) int {
	return max(0, min(n-1, v))
}

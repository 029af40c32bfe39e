package model

// LatLng is a WGS84 coordinate pair.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Bounds is the geographic rectangle currently visible on the map.
// A nil *Bounds means unconstrained.
type Bounds struct {
	SouthWest LatLng `json:"south_west"`
	NorthEast LatLng `json:"north_east"`
}

// Contains is edge-inclusive. A south-west longitude greater than the
// north-east one means the box crosses the antimeridian.
func (b Bounds) Contains(p LatLng) bool {
	if p.Lat < b.SouthWest.Lat || p.Lat > b.NorthEast.Lat {
		return false
	}
	if b.SouthWest.Lon <= b.NorthEast.Lon {
		return p.Lon >= b.SouthWest.Lon && p.Lon <= b.NorthEast.Lon
	}
	return p.Lon >= b.SouthWest.Lon || p.Lon <= b.NorthEast.Lon
}

// Valid rejects inverted latitudes and out-of-range values.
func (b Bounds) Valid() bool {
	if b.SouthWest.Lat > b.NorthEast.Lat {
		return false
	}
	for _, p := range []LatLng{b.SouthWest, b.NorthEast} {
		if p.Lat < -90 || p.Lat > 90 || p.Lon < -180 || p.Lon > 180 {
			return false
		}
	}
	return true
}

package viewport

import "github.com/PetoAdam/lorawatch/internal/model"

// DefaultCenter is used when no node has coordinates.
var DefaultCenter = model.LatLng{Lat: 44.5646, Lon: -123.262}

const (
	DefaultZoom = 8
	FocusZoom   = 10
)

type FocusKind string

const (
	FocusDefault FocusKind = "default"
	FocusCenter  FocusKind = "center"
	FocusFit     FocusKind = "fit"
)

// Focus tells the map collaborator where to look.
type Focus struct {
	Kind   FocusKind     `json:"kind"`
	Center model.LatLng  `json:"center"`
	Zoom   int           `json:"zoom,omitempty"`
	Bounds *model.Bounds `json:"bounds,omitempty"`
}

// ComputeFocus centers on a single expanded located node, fits several, and
// otherwise falls back to the primary node, the first located node, then
// fallback.
func ComputeFocus(nodes []model.NodeSnapshot, expanded []string, primary *string, fallback model.LatLng) Focus {
	byID := make(map[string]model.NodeSnapshot, len(nodes))
	for _, n := range nodes {
		byID[n.DeviceID] = n
	}

	var pts []model.LatLng
	for _, id := range expanded {
		if n, ok := byID[id]; ok && n.Located() {
			pts = append(pts, model.LatLng{Lat: *n.Lat, Lon: *n.Lon})
		}
	}
	switch {
	case len(pts) == 1:
		return Focus{Kind: FocusCenter, Center: pts[0], Zoom: FocusZoom}
	case len(pts) > 1:
		b := fit(pts)
		return Focus{Kind: FocusFit, Center: center(b), Bounds: &b}
	}

	f := Focus{Kind: FocusDefault, Center: fallback, Zoom: DefaultZoom}
	if primary != nil {
		if n, ok := byID[*primary]; ok && n.Located() {
			f.Center = model.LatLng{Lat: *n.Lat, Lon: *n.Lon}
			return f
		}
	}
	for _, n := range nodes {
		if n.Located() {
			f.Center = model.LatLng{Lat: *n.Lat, Lon: *n.Lon}
			break
		}
	}
	return f
}

func fit(pts []model.LatLng) model.Bounds {
	b := model.Bounds{SouthWest: pts[0], NorthEast: pts[0]}
	for _, p := range pts[1:] {
		b.SouthWest.Lat = min(b.SouthWest.Lat, p.Lat)
		b.SouthWest.Lon = min(b.SouthWest.Lon, p.Lon)
		b.NorthEast.Lat = max(b.NorthEast.Lat, p.Lat)
		b.NorthEast.Lon = max(b.NorthEast.Lon, p.Lon)
	}
	return b
}

func center(b model.Bounds) model.LatLng {
	return model.LatLng{
		Lat: (b.SouthWest.Lat + b.NorthEast.Lat) / 2,
		Lon: (b.SouthWest.Lon + b.NorthEast.Lon) / 2,
	}
}

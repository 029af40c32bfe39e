package model

// Status is the coarse health class of a node.
type Status string

const (
	StatusAlert   Status = "alert"
	StatusWarning Status = "warning"
	StatusDry     Status = "dry"
	StatusNormal  Status = "normal"
)

// Classify ranks smoke above battery above humidity.
func Classify(n NodeSnapshot) Status {
	switch {
	case n.SmokeDetected:
		return StatusAlert
	case n.BatteryPct < LowBatteryPct:
		return StatusWarning
	case n.HumidityPct < DryHumidityPct:
		return StatusDry
	default:
		return StatusNormal
	}
}

// ListGroup is the section a node is listed under. Dry nodes are listed
// with normal ones; only the map distinguishes them.
func ListGroup(n NodeSnapshot) Status {
	if s := Classify(n); s == StatusAlert || s == StatusWarning {
		return s
	}
	return StatusNormal
}

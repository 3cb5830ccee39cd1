package gateway

// Station is one stop as served by the upstream feed. Seq is the
// route-relative ordinal of the stop within a specific route traversal;
// the same physical stop carries different Seq values on different routes.
// Station search results have no route context and carry Seq == 0.
type Station struct {
	StopID    string  `json:"stopId"`
	ArsID     string  `json:"arsId"`
	Name      string  `json:"name"`
	Direction string  `json:"direction,omitempty"`
	Seq       int     `json:"seq,omitempty"`
	GpsX      float64 `json:"gpsX,omitempty"`
	GpsY      float64 `json:"gpsY,omitempty"`
}

// Route is one bus route serving a stop.
type Route struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Abbrev    string `json:"abbrev,omitempty"`
	Direction string `json:"direction,omitempty"`
	RouteType string `json:"routeType,omitempty"`
	Term      string `json:"term,omitempty"`
	NextBus   string `json:"nextBus,omitempty"`
}

// DisplayName prefers the route abbreviation the way rider-facing
// announcements do.
func (r Route) DisplayName() string {
	if r.Abbrev != "" {
		return r.Abbrev
	}
	return r.Name
}

// ArrivalSample is one poll of the live arrival feed for a stop+route pair.
// It is transient: the poller keeps at most one previous sample around for
// the vehicle-identity comparison.
type ArrivalSample struct {
	Message   string
	VehicleID string
}

// Position is the current stop of a tracked vehicle. Seq is the stop order
// reported by the position feed (route-relative, same domain as Station.Seq).
type Position struct {
	StopID string
	Seq    int
}

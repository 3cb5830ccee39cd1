package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/blindroute-core/internal/common/config"
	"github.com/blindroute-core/internal/common/logger"
)

const userAgent = "blindroute-core/1.0"

// SeoulClient talks to the Seoul bus information feed (ws.bus.go.kr).
type SeoulClient struct {
	baseURL    string
	serviceKey string
	httpClient *http.Client
	logger     logger.Logger
}

func NewSeoulClient(cfg config.UpstreamConfig, log logger.Logger) *SeoulClient {
	client := &http.Client{
		Timeout: cfg.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 5,
			IdleConnTimeout:     30 * time.Second,
		},
	}

	return &SeoulClient{
		baseURL:    cfg.BaseURL,
		serviceKey: cfg.ServiceKey,
		httpClient: client,
		logger:     log,
	}
}

// Upstream envelope shared by every endpoint.
type comMsgHeader struct {
	ErrMsg     string `json:"errMsg"`
	SuccessYN  string `json:"successYN"`
	ReturnCode string `json:"returnCode"`
}

type msgHeader struct {
	HeaderMsg string `json:"headerMsg"`
	HeaderCd  string `json:"headerCd"`
	ItemCount int    `json:"itemCount"`
}

type envelope[T any] struct {
	ComMsgHeader comMsgHeader `json:"comMsgHeader"`
	MsgHeader    msgHeader    `json:"msgHeader"`
	MsgBody      struct {
		ItemList []T `json:"itemList"`
	} `json:"msgBody"`
}

type stationByNameItem struct {
	StID  string `json:"stId"`
	StNm  string `json:"stNm"`
	TmX   string `json:"tmX"`
	TmY   string `json:"tmY"`
	PosX  string `json:"posX"`
	PosY  string `json:"posY"`
	ArsID string `json:"arsId"`
}

// stationByUidItem is the per-route arrival record for one stop. The feed
// reports the first and second approaching vehicle; only the first one
// matters for reservation tracking.
type stationByUidItem struct {
	StID       string `json:"stId"`
	StNm       string `json:"stNm"`
	ArsID      string `json:"arsId"`
	BusRouteID string `json:"busRouteId"`
	RtNm       string `json:"rtNm"`
	RouteAbrv  string `json:"busRouteAbrv"`
	RouteType  string `json:"routeType"`
	Term       string `json:"term"`
	NextBus    string `json:"nextBus"`
	Adirection string `json:"adirection"`
	ArrMsg1    string `json:"arrmsg1"`
	VehID1     string `json:"vehId1"`
}

type stationByRouteItem struct {
	BusRouteID string `json:"busRouteId"`
	Seq        string `json:"seq"`
	Station    string `json:"station"`
	ArsID      string `json:"arsId"`
	StationNm  string `json:"stationNm"`
	Direction  string `json:"direction"`
	GpsX       string `json:"gpsX"`
	GpsY       string `json:"gpsY"`
}

type busPosItem struct {
	VehID    string `json:"vehId"`
	StID     string `json:"stId"`
	StOrd    string `json:"stOrd"`
	StopFlag string `json:"stopFlag"`
	DataTm   string `json:"dataTm"`
}

func get[T any](ctx context.Context, c *SeoulClient, path string, params url.Values) ([]T, error) {
	params.Set("serviceKey", c.serviceKey)
	params.Set("resultType", "json")

	reqURL := fmt.Sprintf("%s/%s?%s", c.baseURL, path, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: HTTP %d", ErrUpstream, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", ErrUpstream, err)
	}

	var env envelope[T]
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: decoding body: %v", ErrUpstream, err)
	}
	if env.ComMsgHeader.ErrMsg != "" {
		return nil, fmt.Errorf("%w: %s", ErrUpstream, env.ComMsgHeader.ErrMsg)
	}
	return env.MsgBody.ItemList, nil
}

func (c *SeoulClient) SearchStations(ctx context.Context, name string) ([]Station, error) {
	params := url.Values{}
	params.Set("stSrch", name)

	items, err := get[stationByNameItem](ctx, c, "stationinfo/getStationByName", params)
	if err != nil {
		return nil, err
	}

	stations := make([]Station, 0, len(items))
	for _, item := range items {
		stations = append(stations, Station{
			StopID: item.StID,
			ArsID:  item.ArsID,
			Name:   item.StNm,
			GpsX:   parseCoord(item.PosX),
			GpsY:   parseCoord(item.PosY),
		})
	}
	return stations, nil
}

func (c *SeoulClient) ListRoutesAtStop(ctx context.Context, arsID string) ([]Route, error) {
	items, err := c.fetchStopArrivals(ctx, arsID)
	if err != nil {
		return nil, err
	}

	routes := make([]Route, 0, len(items))
	for _, item := range items {
		routes = append(routes, Route{
			ID:        item.BusRouteID,
			Name:      item.RtNm,
			Abbrev:    item.RouteAbrv,
			Direction: item.Adirection,
			RouteType: item.RouteType,
			Term:      item.Term,
			NextBus:   item.NextBus,
		})
	}
	return routes, nil
}

func (c *SeoulClient) PollArrival(ctx context.Context, arsID, routeID string) (ArrivalSample, bool, error) {
	items, err := c.fetchStopArrivals(ctx, arsID)
	if err != nil {
		return ArrivalSample{}, false, err
	}

	for _, item := range items {
		if item.BusRouteID != routeID {
			continue
		}
		if IsServiceEnded(item.ArrMsg1) || item.VehID1 == "" || item.VehID1 == "0" {
			return ArrivalSample{}, false, nil
		}
		return ArrivalSample{Message: item.ArrMsg1, VehicleID: item.VehID1}, true, nil
	}
	// Route no longer listed at the stop: nothing left to wait for.
	return ArrivalSample{}, false, nil
}

func (c *SeoulClient) ListRemainingStops(ctx context.Context, routeID, vehicleID string) ([]Station, error) {
	params := url.Values{}
	params.Set("busRouteId", routeID)

	items, err := get[stationByRouteItem](ctx, c, "busRouteInfo/getStaionByRoute", params)
	if err != nil {
		return nil, err
	}

	stations := make([]Station, 0, len(items))
	for _, item := range items {
		stations = append(stations, Station{
			StopID:    item.Station,
			ArsID:     item.ArsID,
			Name:      item.StationNm,
			Direction: item.Direction,
			Seq:       parseSeq(item.Seq),
			GpsX:      parseCoord(item.GpsX),
			GpsY:      parseCoord(item.GpsY),
		})
	}

	pos, ok, err := c.PollVehiclePosition(ctx, vehicleID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return stations, nil
	}
	for i, st := range stations {
		if st.Seq == pos.Seq || st.StopID == pos.StopID {
			return stations[i:], nil
		}
	}
	return stations, nil
}

func (c *SeoulClient) PollVehiclePosition(ctx context.Context, vehicleID string) (Position, bool, error) {
	params := url.Values{}
	params.Set("vehId", vehicleID)

	items, err := get[busPosItem](ctx, c, "buspos/getBusPosByVehId", params)
	if err != nil {
		return Position{}, false, err
	}
	if len(items) == 0 {
		return Position{}, false, nil
	}
	return Position{StopID: items[0].StID, Seq: parseSeq(items[0].StOrd)}, true, nil
}

func (c *SeoulClient) fetchStopArrivals(ctx context.Context, arsID string) ([]stationByUidItem, error) {
	params := url.Values{}
	params.Set("arsId", arsID)
	return get[stationByUidItem](ctx, c, "stationinfo/getStationByUid", params)
}

func parseSeq(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func parseCoord(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

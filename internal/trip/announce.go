package trip

import (
	"context"
	"fmt"

	"github.com/blindroute-core/internal/gateway"
)

// Speaker is the injected speech capability of the presentation boundary.
// The engine never talks to a speech provider directly; it hands finished
// sentences to whatever Speaker the session was created with. Lifecycle is
// one Speaker per session, torn down with it.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// NopSpeaker drops announcements. Used in tests and headless runs.
type NopSpeaker struct{}

func (NopSpeaker) Speak(context.Context, string) error { return nil }

// Announcement texts mirror the rider-facing feed language. The ETA token
// comes straight from gateway.ExtractETA and is presentation-only.

func announceWaitingBus(route gateway.Route, eta string) string {
	suffix := ""
	if eta != "" {
		if eta == gateway.PhraseArrivingSoon {
			suffix = fmt.Sprintf(" %s합니다.", eta)
		} else {
			suffix = fmt.Sprintf(" %s에 도착합니다.", eta)
		}
	}
	return fmt.Sprintf("\"%s\", \"%s 방면\" 버스를 대기중입니다.%s", route.DisplayName(), route.Direction, suffix)
}

func announceBusArrived(route gateway.Route) string {
	return fmt.Sprintf("\"%s\", \"%s 방면\" 버스가 도착했습니다! 잠시 후 목적지 선택 페이지로 이동합니다.", route.DisplayName(), route.Direction)
}

func announceServiceEnded(route gateway.Route) string {
	return fmt.Sprintf("\"%s\" 버스는 운행이 종료되었습니다.", route.DisplayName())
}

func announceWaitingDestination(dest gateway.Station, stopsRemaining int) string {
	var progress string
	switch {
	case stopsRemaining == 0:
		progress = "정류장에 도착합니다!"
	default:
		progress = fmt.Sprintf("%d개의 정거장이 남았습니다.", stopsRemaining)
	}
	return fmt.Sprintf("\"%s\", \"%s 방면\" 정류장에 하차 대기중입니다. %s", dest.Name, dest.Direction, progress)
}

func announceDestinationArrived(dest gateway.Station) string {
	return fmt.Sprintf("\"%s\" 목적지에 도착했습니다. 잠시 후 처음 화면으로 이동합니다.", dest.Name)
}

const (
	msgNoStationsFound    = "검색된 정류장이 없습니다."
	msgNoRoutesAtStop     = "운행중인 버스가 없습니다."
	msgReservationFailed  = "예약에 실패했습니다. 다시 시도해주세요."
	msgBoardingCancelled  = "버스 예약을 취소하였습니다."
	msgAlightingCancelled = "목적지 예약을 취소하였습니다."
)

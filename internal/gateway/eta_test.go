package gateway

import "testing"

func TestExtractETA(t *testing.T) {
	cases := []struct {
		message string
		want    string
	}{
		{"3분10초후[2번째 전]", "3분10초후"},
		{"12분34초후[5번째 전]", "12분34초후"},
		{"곧 도착", "곧 도착"},
		{"운행종료", "운행종료"},
		{"출발대기", ""},
		{"", ""},
	}

	for _, c := range cases {
		got := ExtractETA(c.message)
		if got != c.want {
			t.Errorf("ExtractETA(%q) = %q, want %q", c.message, got, c.want)
		}
	}
}

func TestIsServiceEnded(t *testing.T) {
	if !IsServiceEnded("운행종료") {
		t.Error("Expected 운행종료 to be recognized as service ended")
	}
	if IsServiceEnded("곧 도착") {
		t.Error("곧 도착 must not be treated as service ended")
	}
	if IsServiceEnded("") {
		t.Error("Empty message must not be treated as service ended")
	}
}

func TestRouteDisplayName(t *testing.T) {
	r := Route{Name: "서울146번", Abbrev: "146"}
	if r.DisplayName() != "146" {
		t.Errorf("Expected abbreviated name, got %q", r.DisplayName())
	}

	r = Route{Name: "서울146번"}
	if r.DisplayName() != "서울146번" {
		t.Errorf("Expected full name fallback, got %q", r.DisplayName())
	}
}

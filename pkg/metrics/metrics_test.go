package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestApplySettingsUpdatesGauges(t *testing.T) {
	r := New()
	r.ApplySettings(8_000_000, 16_000_000, 0.1, 0.05, 60)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	for _, want := range []string{
		"streamcore_bitrate_bps 8",
		"streamcore_video_fec_ratio 0.1",
		"streamcore_encoder_fps 60",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q:\n%s", want, body)
		}
	}
}

func TestCountersIncrement(t *testing.T) {
	r := New()
	r.PacketsSent.WithLabelValues("video").Add(3)
	r.NacksSent.WithLabelValues("video").Inc()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	if !strings.Contains(body, `streamcore_packets_sent_total{stream="video"} 3`) {
		t.Fatalf("expected packets_sent_total=3 for video, got:\n%s", body)
	}
	if !strings.Contains(body, `streamcore_nacks_sent_total{stream="video"} 1`) {
		t.Fatalf("expected nacks_sent_total=1 for video, got:\n%s", body)
	}
}

// Package metrics exposes the streaming core's live counters over
// Prometheus (spec.md's "error telemetry is a stats counter +
// event log" extended to the rest of the congestion/ring-buffer
// state): packet and NACK rates, loss fraction, bitrate, and FEC
// ratio, registered on a private prometheus.Registry and served by
// promhttp.HandlerFor (mounted on /metrics by cmd/streamserver).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles every gauge/counter the streaming core reports,
// labeled by stream ("video"/"audio") where the underlying quantity is
// per-stream.
type Registry struct {
	reg *prometheus.Registry

	PacketsSent   *prometheus.CounterVec
	PacketsRecv   *prometheus.CounterVec
	BytesSent     *prometheus.CounterVec
	BytesRecv     *prometheus.CounterVec
	NacksSent     *prometheus.CounterVec
	FramesDropped *prometheus.CounterVec

	LossFraction   prometheus.Gauge
	DelayGradient  prometheus.Gauge
	RTTSeconds     prometheus.Gauge
	BitrateBps     prometheus.Gauge
	BurstBitrateBps prometheus.Gauge
	VideoFECRatio  prometheus.Gauge
	AudioFECRatio  prometheus.Gauge
	EncoderFPS     prometheus.Gauge
}

// New builds a Registry with every metric registered against a fresh
// prometheus.Registry (rather than the global DefaultRegisterer, so a
// process can run more than one streaming core instance in-test
// without collector name collisions).
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		PacketsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "streamcore_packets_sent_total",
			Help: "UDP packets sent, by stream.",
		}, []string{"stream"}),
		PacketsRecv: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "streamcore_packets_received_total",
			Help: "UDP packets received, by stream.",
		}, []string{"stream"}),
		BytesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "streamcore_bytes_sent_total",
			Help: "Ciphertext bytes sent, by stream.",
		}, []string{"stream"}),
		BytesRecv: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "streamcore_bytes_received_total",
			Help: "Ciphertext bytes received, by stream.",
		}, []string{"stream"}),
		NacksSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "streamcore_nacks_sent_total",
			Help: "NACK messages sent, by stream.",
		}, []string{"stream"}),
		FramesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "streamcore_frames_dropped_total",
			Help: "Frames skipped by the renderer driver without ever rendering, by stream.",
		}, []string{"stream"}),
		LossFraction: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "streamcore_loss_fraction",
			Help: "Congestion controller's smoothed packet loss fraction.",
		}),
		DelayGradient: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "streamcore_delay_gradient_ms",
			Help: "Congestion controller's EWMA one-way delay gradient, milliseconds.",
		}),
		RTTSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "streamcore_rtt_seconds",
			Help: "Most recent ping/pong round-trip time.",
		}),
		BitrateBps: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "streamcore_bitrate_bps",
			Help: "Congestion controller's current target bitrate.",
		}),
		BurstBitrateBps: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "streamcore_burst_bitrate_bps",
			Help: "Congestion controller's current target burst bitrate.",
		}),
		VideoFECRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "streamcore_video_fec_ratio",
			Help: "Current video stream FEC shard ratio.",
		}),
		AudioFECRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "streamcore_audio_fec_ratio",
			Help: "Current audio stream FEC shard ratio.",
		}),
		EncoderFPS: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "streamcore_encoder_fps",
			Help: "Current target encode rate.",
		}),
	}

	reg.MustRegister(
		r.PacketsSent, r.PacketsRecv, r.BytesSent, r.BytesRecv,
		r.NacksSent, r.FramesDropped,
		r.LossFraction, r.DelayGradient, r.RTTSeconds,
		r.BitrateBps, r.BurstBitrateBps,
		r.VideoFECRatio, r.AudioFECRatio, r.EncoderFPS,
	)
	return r
}

// Handler returns the HTTP handler to mount at /metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// ApplySettings updates the gauges that mirror a wire.NetworkSettings
// snapshot, so dashboards reflect every congestion-controller decision
// without the caller needing to know the gauge layout.
func (r *Registry) ApplySettings(bitrateBps, burstBitrateBps int64, videoFEC, audioFEC float64, fps int) {
	r.BitrateBps.Set(float64(bitrateBps))
	r.BurstBitrateBps.Set(float64(burstBitrateBps))
	r.VideoFECRatio.Set(videoFEC)
	r.AudioFECRatio.Set(audioFEC)
	r.EncoderFPS.Set(float64(fps))
}

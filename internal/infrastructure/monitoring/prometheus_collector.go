package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/oldcordapp/realtime/internal/core/domain"
)

type PrometheusCollector struct {
	sessionsConnected prometheus.Gauge
	roomsActive       prometheus.Gauge
	framesTotal       *prometheus.CounterVec
	producersActive   *prometheus.GaugeVec
	listOpsTotal      *prometheus.CounterVec
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		sessionsConnected: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "realtime_voice_sessions_connected",
			Help: "Number of currently connected voice sessions",
		}),

		roomsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "realtime_voice_rooms_active",
			Help: "Number of active voice rooms",
		}),

		framesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "realtime_signaling_frames_total",
			Help: "Total inbound signaling frames by opcode",
		}, []string{"op"}),

		producersActive: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "realtime_media_producers_active",
			Help: "Number of active media producers by kind",
		}, []string{"kind"}),

		listOpsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "realtime_member_list_ops_total",
			Help: "Total member list operations dispatched by type",
		}, []string{"op"}),
	}
}

func (p *PrometheusCollector) RecordSessionConnected() {
	p.sessionsConnected.Inc()
}

func (p *PrometheusCollector) RecordSessionDisconnected() {
	p.sessionsConnected.Dec()
}

func (p *PrometheusCollector) RecordRoomCreated() {
	p.roomsActive.Inc()
}

func (p *PrometheusCollector) RecordRoomDestroyed() {
	p.roomsActive.Dec()
}

func (p *PrometheusCollector) RecordFrame(op string) {
	p.framesTotal.WithLabelValues(op).Inc()
}

func (p *PrometheusCollector) RecordProducerStarted(kind domain.MediaKind) {
	p.producersActive.WithLabelValues(string(kind)).Inc()
}

func (p *PrometheusCollector) RecordProducerStopped(kind domain.MediaKind) {
	p.producersActive.WithLabelValues(string(kind)).Dec()
}

func (p *PrometheusCollector) RecordListOps(op domain.ListOpType, count int) {
	p.listOpsTotal.WithLabelValues(string(op)).Add(float64(count))
}

package server

import "github.com/prometheus/client_golang/prometheus"

var viewersGauge = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "playback_viewers",
	Help: "Connected websocket viewers",
})

// RegisterMetrics 注册服务端指标
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(viewersGauge)
}

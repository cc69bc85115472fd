package playback

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	bufferedUnits = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "playback_buffered_units", Help: "Frames or segments held in memory"},
		[]string{"kind", "sensor"},
	)
	displayedFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "playback_displayed_frames_total", Help: "Frames handed to the display"},
		[]string{"sensor"},
	)
	appendedSegments = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "playback_appended_segments_total", Help: "MP3 segments appended to the sink"},
		[]string{"sensor", "gapless"},
	)
	senseRenders = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "playback_sense_renders_total", Help: "Environmental sample renders"},
		[]string{"sensor", "result"},
	)
)

// RegisterMetrics 注册回放指标
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(bufferedUnits, displayedFrames, appendedSegments, senseRenders)
}

func sensorLabel(id int) string {
	return strconv.Itoa(id)
}

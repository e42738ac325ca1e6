package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
)

const metricPrefix = "aero_webrtc_room_signaling"

var labelEscaper = strings.NewReplacer("\\", "\\\\", "\"", "\\\"", "\n", "\\n")

// PrometheusHandler exposes Metrics in Prometheus' text exposition format.
//
// Counters are exported as a single metric with an `event` label. Gauges are
// exported one metric per name.
func PrometheusHandler(m *Metrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m == nil {
			http.Error(w, "metrics not configured", http.StatusInternalServerError)
			return
		}

		snap := m.Snapshot()
		gauges := m.Gauges()

		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = fmt.Fprintf(w, "# HELP %s_events_total Internal event counters.\n", metricPrefix)
		_, _ = fmt.Fprintf(w, "# TYPE %s_events_total counter\n", metricPrefix)
		for _, k := range sortedKeys(snap) {
			_, _ = fmt.Fprintf(w, "%s_events_total{event=\"%s\"} %d\n", metricPrefix, labelEscaper.Replace(k), snap[k])
		}

		for _, k := range sortedKeys(gauges) {
			name := metricPrefix + "_" + sanitizeMetricName(k)
			_, _ = fmt.Fprintf(w, "# TYPE %s gauge\n", name)
			_, _ = fmt.Fprintf(w, "%s %d\n", name, gauges[k])
		}
	})
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sanitizeMetricName(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
			b.WriteByte(c)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

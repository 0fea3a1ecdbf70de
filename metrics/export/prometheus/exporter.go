package prometheus

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pjuts-monitor/pjutsauth"
	"github.com/pjuts-monitor/pjutsauth/metrics/export/internaldefs"
)

type metricsSource interface {
	MetricsSnapshot() pjutsauth.MetricsSnapshot
	AuditDropped() uint64
}

// PrometheusExporter serves engine metrics as Prometheus text exposition.
type PrometheusExporter struct {
	source metricsSource
}

func NewPrometheusExporter(engine *pjutsauth.Engine) *PrometheusExporter {
	return &PrometheusExporter{source: engine}
}

// NewPrometheusExporterFromSource exports any snapshot source; tests use it
// with fixed snapshots.
func NewPrometheusExporterFromSource(source metricsSource) *PrometheusExporter {
	return &PrometheusExporter{source: source}
}

// Handler serves the exposition. A disabled metrics registry yields an empty
// 200 so scrapers do not alert.
func (p *PrometheusExporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_ = p.Export(w)
	})
}

// Render returns the exposition as a string, or "" when there is nothing to
// report.
func (p *PrometheusExporter) Render() string {
	var b strings.Builder
	_ = p.Export(&b)
	return b.String()
}

// Export writes one HELP/TYPE block per family followed by its samples.
func (p *PrometheusExporter) Export(w io.Writer) error {
	if p == nil || p.source == nil {
		return nil
	}

	snapshot := p.source.MetricsSnapshot()
	dropped := p.source.AuditDropped()
	if len(snapshot.Counters) == 0 && len(snapshot.Histograms) == 0 && dropped == 0 {
		return nil
	}

	ew := &errWriter{w: w}
	for _, fam := range internaldefs.Families {
		ew.header(fam.Name, fam.Help, "counter")
		if !fam.Labelled() {
			ew.printf("%s %d\n", fam.Name, snapshot.Counters[fam.ID])
			continue
		}
		for _, o := range fam.Outcomes {
			ew.printf("%s{%s=%q} %d\n", fam.Name, internaldefs.OutcomeLabel, o.Value, snapshot.Counters[o.ID])
		}
	}

	lat := internaldefs.Latency
	buckets := internaldefs.Cumulative(snapshot.Histograms[lat.ID])
	ew.header(lat.Name, lat.Help, "histogram")
	for i, le := range internaldefs.BucketBounds {
		ew.printf("%s_bucket{le=%q} %d\n", lat.Name, le, buckets[i])
	}
	ew.printf("%s_count %d\n", lat.Name, buckets[internaldefs.BucketCount-1])
	// Only bucket counts are tracked.
	ew.printf("%s_sum 0\n", lat.Name)

	ew.header(internaldefs.AuditDroppedName, internaldefs.AuditDroppedHelp, "counter")
	ew.printf("%s %d\n", internaldefs.AuditDroppedName, dropped)

	return ew.err
}

// errWriter stops writing after the first error.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}

func (e *errWriter) header(name, help, kind string) {
	help = strings.ReplaceAll(help, `\`, `\\`)
	help = strings.ReplaceAll(help, "\n", `\n`)
	e.printf("# HELP %s %s\n# TYPE %s %s\n", name, help, name, kind)
}

package prometheus

import (
	"net/http"
	"strconv"
	"strings"

	authflow "github.com/PHPxCODER/rdp-website-sub000"
	"github.com/PHPxCODER/rdp-website-sub000/metrics/export/internaldefs"
)

type metricsSource interface {
	MetricsSnapshot() authflow.MetricsSnapshot
	AuditDropped() uint64
}

// Exporter renders engine counter families and the step latency histogram
// in the Prometheus text exposition format.
type Exporter struct {
	source metricsSource
	bounds []string
}

func New(engine *authflow.Engine) *Exporter {
	return NewFromSource(engine)
}

// NewFromSource reads from anything that can snapshot engine metrics.
func NewFromSource(source metricsSource) *Exporter {
	return &Exporter{source: source, bounds: internaldefs.BucketBounds()}
}

// Handler serves Render. Mount it on a private listener.
func (p *Exporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(p.Render()))
	})
}

// Render returns the current metrics, or "" when metrics are disabled and
// no audit events were dropped.
func (p *Exporter) Render() string {
	if p == nil || p.source == nil {
		return ""
	}

	snapshot := p.source.MetricsSnapshot()
	dropped := p.source.AuditDropped()
	if len(snapshot.Counters) == 0 && len(snapshot.Histograms) == 0 && dropped == 0 {
		return ""
	}

	var enc textEncoder
	enc.b.Grow(4096)
	for _, fam := range internaldefs.Families {
		enc.header(fam.Name, fam.Help, "counter")
		for _, s := range fam.Samples {
			enc.sample(fam.Name, fam.Label, s.Value, strconv.FormatUint(snapshot.Counters[s.ID], 10))
		}
	}

	if raw, ok := snapshot.Histograms[internaldefs.StepLatency.ID]; ok {
		p.writeLatency(&enc, raw, snapshot.HistogramSums[internaldefs.StepLatency.ID].Seconds())
	}

	enc.header(internaldefs.AuditDroppedName, internaldefs.AuditDroppedHelp, "counter")
	enc.sample(internaldefs.AuditDroppedName, "", "", strconv.FormatUint(dropped, 10))
	return enc.b.String()
}

func (p *Exporter) writeLatency(enc *textEncoder, raw []uint64, sumSeconds float64) {
	h := internaldefs.StepLatency
	cumulative := internaldefs.Cumulative(raw)

	enc.header(h.Name, h.Help, "histogram")
	for i, le := range p.bounds {
		enc.sample(h.Name+"_bucket", internaldefs.LabelBound, le, strconv.FormatUint(cumulative[i], 10))
	}
	enc.sample(h.Name+"_sum", "", "", strconv.FormatFloat(sumSeconds, 'g', -1, 64))
	enc.sample(h.Name+"_count", "", "", strconv.FormatUint(cumulative[len(cumulative)-1], 10))
}

type textEncoder struct {
	b strings.Builder
}

func (e *textEncoder) header(name, help, kind string) {
	e.b.WriteString("# HELP ")
	e.b.WriteString(name)
	e.b.WriteByte(' ')
	e.b.WriteString(escapeHelp(help))
	e.b.WriteString("\n# TYPE ")
	e.b.WriteString(name)
	e.b.WriteByte(' ')
	e.b.WriteString(kind)
	e.b.WriteByte('\n')
}

// sample writes one line. An empty label writes the bare name.
func (e *textEncoder) sample(name, label, value, n string) {
	e.b.WriteString(name)
	if label != "" {
		e.b.WriteByte('{')
		e.b.WriteString(label)
		e.b.WriteString(`="`)
		e.b.WriteString(escapeLabel(value))
		e.b.WriteString(`"}`)
	}
	e.b.WriteByte(' ')
	e.b.WriteString(n)
	e.b.WriteByte('\n')
}

var (
	helpEscaper  = strings.NewReplacer(`\`, `\\`, "\n", `\n`)
	labelEscaper = strings.NewReplacer(`\`, `\\`, "\n", `\n`, `"`, `\"`)
)

func escapeHelp(help string) string { return helpEscaper.Replace(help) }

func escapeLabel(v string) string { return labelEscaper.Replace(v) }

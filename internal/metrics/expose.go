package metrics

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ExpositionFormat selects how metrics are rendered.
type ExpositionFormat string

const (
	// FormatPrometheus renders the Prometheus text exposition format.
	FormatPrometheus ExpositionFormat = "prometheus"

	// FormatJSON renders a JSON list of samples.
	FormatJSON ExpositionFormat = "json"
)

// Expose renders the registry in the requested format.
func (r *Registry) Expose(format ExpositionFormat) (string, error) {
	switch format {
	case FormatPrometheus, "":
		return r.PrometheusText(), nil
	case FormatJSON:
		return r.JSON()
	default:
		return "", fmt.Errorf("unknown exposition format: %q", format)
	}
}

// PrometheusText renders all metrics in the Prometheus text format, with
// HELP and TYPE comments per metric family.
func (r *Registry) PrometheusText() string {
	r.mu.RLock()
	names := make([]string, 0, len(r.metrics))
	for name := range r.metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	ms := make([]metric, 0, len(names))
	for _, name := range names {
		ms = append(ms, r.metrics[name])
	}
	r.mu.RUnlock()

	var sb strings.Builder
	for _, m := range ms {
		if m.help() != "" {
			fmt.Fprintf(&sb, "# HELP %s %s\n", m.name(), m.help())
		}
		fmt.Fprintf(&sb, "# TYPE %s %s\n", m.name(), m.kind())
		for _, s := range m.samples() {
			sb.WriteString(s.Name)
			writeLabels(&sb, s.Labels)
			sb.WriteByte(' ')
			sb.WriteString(strconv.FormatFloat(s.Value, 'g', -1, 64))
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

// JSON renders all current samples as a JSON array.
func (r *Registry) JSON() (string, error) {
	samples := r.Collect()
	if samples == nil {
		samples = []Sample{}
	}
	data, err := json.Marshal(samples)
	if err != nil {
		return "", fmt.Errorf("failed to marshal metrics: %w", err)
	}
	return string(data), nil
}

func writeLabels(sb *strings.Builder, labels map[string]string) {
	if len(labels) == 0 {
		return
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sb.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(k)
		sb.WriteString(`="`)
		sb.WriteString(escapeLabelValue(labels[k]))
		sb.WriteByte('"')
	}
	sb.WriteByte('}')
}

func escapeLabelValue(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, "\n", `\n`)
	v = strings.ReplaceAll(v, `"`, `\"`)
	return v
}

package format

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Sample is one series of an instant query result.
type Sample struct {
	Labels    map[string]string `json:"metric"`
	Value     float64           `json:"value"`
	Timestamp time.Time         `json:"timestamp"`
}

// NoResults is returned instead of an empty metrics table.
const NoResults = "The query returned no results."

// FormatValue renders v in fixed-point with trailing zeros trimmed, switching
// to scientific notation below 1e-3 and from 1e6 upward. Six-digit values
// such as 123456 stay fixed-point.
func FormatValue(v float64) string {
	switch {
	case v == 0:
		return "0"
	case math.IsNaN(v) || math.IsInf(v, 0):
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	abs := math.Abs(v)
	if abs < 1e-3 || abs >= 1e6 {
		return strconv.FormatFloat(v, 'e', 6, 64)
	}
	s := strconv.FormatFloat(v, 'f', 6, 64)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

func metricsHeading(query string) string {
	return fmt.Sprintf("### Prometheus Query Results\n\nQuery: `%s`\n\n", query)
}

// MetricsTable renders one row per series with a column per label name.
func MetricsTable(query string, samples []Sample) string {
	if len(samples) == 0 {
		return NoResults
	}
	keys := labelKeys(samples)
	t := &table{headers: append(append([]string{}, keys...), "Value")}
	for _, s := range samples {
		row := make([]string, 0, len(keys)+1)
		for _, k := range keys {
			row = append(row, s.Labels[k])
		}
		t.add(append(row, FormatValue(s.Value))...)
	}
	return metricsHeading(query) + t.String()
}

// MetricsText renders each series as a numbered label list and value.
func MetricsText(query string, samples []Sample) string {
	if len(samples) == 0 {
		return NoResults
	}
	var b strings.Builder
	b.WriteString(metricsHeading(query))
	for i, s := range samples {
		keys := make([]string, 0, len(s.Labels))
		for k := range s.Labels {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, k+"="+s.Labels[k])
		}
		fmt.Fprintf(&b, "**Result %d:** %s\n**Value:** %s\n\n", i+1, strings.Join(pairs, ", "), FormatValue(s.Value))
	}
	return strings.TrimRight(b.String(), "\n")
}

// MetricsJSON renders the raw series list in a fenced json block.
func MetricsJSON(query string, samples []Sample) string {
	if len(samples) == 0 {
		return NoResults
	}
	type series struct {
		Metric map[string]string `json:"metric"`
		Value  string            `json:"value"`
		Time   string            `json:"timestamp,omitempty"`
	}
	out := make([]series, 0, len(samples))
	for _, s := range samples {
		entry := series{Metric: s.Labels, Value: FormatValue(s.Value)}
		if !s.Timestamp.IsZero() {
			entry.Time = s.Timestamp.UTC().Format(time.RFC3339)
		}
		out = append(out, entry)
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Sprintf("failed to render results: %v", err)
	}
	return metricsHeading(query) + "```json\n" + string(data) + "\n```"
}

// RangeNotice is returned for matrix results, which are not rendered in detail.
func RangeNotice(query string) string {
	return metricsHeading(query) +
		"The query returned a range result (matrix). Range results are not rendered here; " +
		"use an instant query instead, for example by removing the `[range]` selector or wrapping it in `rate()`."
}

// Raw renders a scalar or string result as a preformatted block.
func Raw(query, resultType, payload string) string {
	return metricsHeading(query) + fmt.Sprintf("Result type: %s\n\n```\n%s\n```", resultType, payload)
}

func labelKeys(samples []Sample) []string {
	seen := map[string]struct{}{}
	for _, s := range samples {
		for k := range s.Labels {
			seen[k] = struct{}{}
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Package metrics runs read-only instant queries against the Prometheus HTTP
// API and renders the result for a conversation.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"

	"github.com/isitobservable/chatops-assistant/pkg/format"
	"github.com/isitobservable/chatops-assistant/pkg/types"
)

const integration = "Prometheus"

type Adapter struct {
	api     v1.API
	url     string
	timeout time.Duration
	now     func() time.Time
}

// New builds an adapter for the Prometheus server at url. An empty url yields
// an adapter that answers every query with a configuration error.
func New(url string, timeout time.Duration, rt http.RoundTripper) (*Adapter, error) {
	a := &Adapter{url: url, timeout: timeout, now: time.Now}
	if url == "" {
		return a, nil
	}
	if rt == nil {
		rt = api.DefaultRoundTripper
	}
	client, err := api.NewClient(api.Config{Address: url, RoundTripper: rt})
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus client: %w", err)
	}
	a.api = v1.NewAPI(client)
	return a, nil
}

// Configured reports whether a Prometheus URL was provided.
func (a *Adapter) Configured() bool {
	return a.api != nil
}

// Query issues a single instant query evaluated now.
func (a *Adapter) Query(ctx context.Context, query string) (model.Value, v1.Warnings, error) {
	if !a.Configured() {
		return nil, nil, types.ConfigurationError(integration, "PROMETHEUS_URL is empty")
	}
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	val, warnings, err := a.api.Query(ctx, query, a.now())
	if err != nil {
		var apiErr *v1.Error
		if errors.As(err, &apiErr) {
			return nil, warnings, types.BackendError("executing query", apiErr.Msg, err)
		}
		return nil, warnings, types.TransportError(integration, err)
	}
	return val, warnings, nil
}

// Execute runs query and renders the result. Failures are rendered into the report.
func (a *Adapter) Execute(ctx context.Context, query string, output format.Output) types.Report {
	query = strings.TrimSpace(query)
	if query == "" {
		return types.Failed(types.ParseError("metric", "Please provide a PromQL query.", "metric <promql>"))
	}

	val, warnings, err := a.Query(ctx, query)
	if err != nil {
		return types.Failed(err)
	}

	text := Render(query, val, output)
	if len(warnings) > 0 {
		text += "\n\n**Warnings:** " + strings.Join(warnings, "; ")
	}
	return types.Report{Text: text}
}

// Render branches on the result shape: vectors are tabulated, matrices get a
// notice, scalars and strings are shown raw.
func Render(query string, val model.Value, output format.Output) string {
	switch v := val.(type) {
	case model.Vector:
		samples := Samples(v)
		switch output {
		case format.OutputText:
			return format.MetricsText(query, samples)
		case format.OutputJSON:
			return format.MetricsJSON(query, samples)
		default:
			return format.MetricsTable(query, samples)
		}
	case model.Matrix:
		if len(v) == 0 {
			return format.NoResults
		}
		return format.RangeNotice(query)
	case *model.Scalar:
		return format.Raw(query, "scalar", fmt.Sprintf("%s @ %s", format.FormatValue(float64(v.Value)), v.Timestamp.Time().UTC().Format(time.RFC3339)))
	case *model.String:
		return format.Raw(query, "string", v.Value)
	case nil:
		return format.NoResults
	default:
		return format.Raw(query, val.Type().String(), val.String())
	}
}

// Samples converts a vector into renderable samples.
func Samples(v model.Vector) []format.Sample {
	out := make([]format.Sample, 0, len(v))
	for _, s := range v {
		labels := make(map[string]string, len(s.Metric))
		for k, val := range s.Metric {
			labels[string(k)] = string(val)
		}
		out = append(out, format.Sample{
			Labels:    labels,
			Value:     float64(s.Value),
			Timestamp: s.Timestamp.Time(),
		})
	}
	return out
}

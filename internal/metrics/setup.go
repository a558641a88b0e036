package metrics

import (
	"log/slog"
	"net/http"
	"strings"
)

// New builds the Recorder for backend. The returned handler is non-nil only
// for the Prometheus backend and should be mounted at /metrics. cw is only
// used by the CloudWatch backend.
func New(backend, namespace string, cw CloudWatchClient, logger *slog.Logger) (Recorder, http.Handler, error) {
	if err := ValidateBackend(backend); err != nil {
		return nil, nil, err
	}
	switch backend {
	case BackendCloudWatch:
		return NewCloudWatch(cw, namespace, logger), nil, nil
	case BackendPrometheus:
		p := NewPrometheus(promNamespace(namespace))
		return p, p.Handler(), nil
	default:
		return Noop{}, nil, nil
	}
}

// promNamespace turns a CloudWatch-style namespace ("Payhook/Webhooks") into
// a valid Prometheus prefix ("payhook_webhooks").
func promNamespace(ns string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(ns) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return strings.Trim(b.String(), "_")
}

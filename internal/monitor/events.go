package monitor

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind names a stream event.
type Kind string

const (
	KindLog           Kind = "log"
	KindEpoch         Kind = "epoch"
	KindProgress      Kind = "progress"
	KindBatchProgress Kind = "batch_progress"
	KindComplete      Kind = "complete"
	KindError         Kind = "error"
	KindHeartbeat     Kind = "heartbeat"
	KindClose         Kind = "close"
)

// LogPayload is the body of log and epoch events.
type LogPayload struct {
	Message              string   `json:"message"`
	Level                Level    `json:"level"`
	EpochNumber          *int     `json:"epoch_number,omitempty"`
	Epoch                *int     `json:"epoch,omitempty"`
	TotalEpochs          *int     `json:"total_epochs,omitempty"`
	Loss                 *float64 `json:"loss,omitempty"`
	ValLoss              *float64 `json:"val_loss,omitempty"`
	IsEpochLog           bool     `json:"is_epoch_log,omitempty"`
	IsRealEpoch          bool     `json:"is_real_epoch,omitempty"`
	FromSpecializedCache bool     `json:"from_specialized_cache,omitempty"`
}

// ProgressPayload is the body of progress events.
type ProgressPayload struct {
	Epoch           int      `json:"epoch"`
	TotalEpochs     int      `json:"total_epochs"`
	TrainLoss       *float64 `json:"train_loss,omitempty"`
	ValLoss         *float64 `json:"val_loss,omitempty"`
	RemainingTime   string   `json:"remaining_time,omitempty"`
	ProgressPercent *float64 `json:"progress_percent,omitempty"`
	Stage           string   `json:"stage,omitempty"`
}

// Percent returns the server-supplied percentage, or epoch/total.
func (p ProgressPayload) Percent() (float64, bool) {
	if p.ProgressPercent != nil {
		return clampPercent(*p.ProgressPercent), true
	}
	return percentOf(p.Epoch, p.TotalEpochs)
}

// BatchProgressPayload is the body of the high-frequency batch_progress events.
type BatchProgressPayload struct {
	Loss        *float64 `json:"loss,omitempty"`
	Epoch       *int     `json:"epoch,omitempty"`
	TotalEpochs *int     `json:"total_epochs,omitempty"`
}

// CompletePayload is the body of the complete event.
type CompletePayload struct {
	Metrics        map[string]any `json:"metrics,omitempty"`
	MetricsSummary map[string]any `json:"metrics_summary,omitempty"`
	Result         *struct {
		Metrics map[string]any `json:"metrics,omitempty"`
	} `json:"result,omitempty"`
	ModelName string `json:"model_name,omitempty"`
}

// FinalMetrics returns the first non-empty metrics object of the payload.
func (p CompletePayload) FinalMetrics() map[string]any {
	switch {
	case len(p.Metrics) > 0:
		return p.Metrics
	case len(p.MetricsSummary) > 0:
		return p.MetricsSummary
	case p.Result != nil && len(p.Result.Metrics) > 0:
		return p.Result.Metrics
	}
	return nil
}

// ErrorPayload is the body of a server-reported application error.
type ErrorPayload struct {
	Message string `json:"message"`
}

// HeartbeatStats is the optional statistics block of a heartbeat.
type HeartbeatStats struct {
	TotalEpochs int     `json:"total_epochs"`
	CPUPercent  float64 `json:"cpu_percent,omitempty"`
	MemPercent  float64 `json:"mem_percent,omitempty"`
}

type HeartbeatPayload struct {
	Stats *HeartbeatStats `json:"stats,omitempty"`
}

// ClosePayload is the body of a server-initiated close.
type ClosePayload struct {
	Message string `json:"message"`
}

// metricAliases lists the accepted spellings of the summary metrics.
var metricAliases = map[string][]string{
	"R2":       {"R2", "r2", "r-squared", "coeficiente_determinacion"},
	"MAE":      {"MAE", "mae", "mean_absolute_error", "error_absoluto_medio"},
	"MSE":      {"MSE", "mse", "mean_squared_error", "error_cuadratico_medio"},
	"RMSE":     {"RMSE", "rmse", "root_mean_squared_error"},
	"Accuracy": {"Accuracy", "accuracy", "acc"},
}

// LookupMetric finds a summary metric by canonical name in any of its spellings.
func LookupMetric(metrics map[string]any, name string) (float64, bool) {
	aliases, ok := metricAliases[name]
	if !ok {
		aliases = []string{name, strings.ToLower(name)}
	}
	for _, key := range aliases {
		v, ok := metrics[key]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case float64:
			return n, true
		case json.Number:
			f, err := n.Float64()
			return f, err == nil
		case string:
			var f float64
			if _, err := fmt.Sscanf(n, "%g", &f); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

// decode unmarshals an event body, naming the kind in the error.
func decode(kind Kind, data string, v any) error {
	if err := json.Unmarshal([]byte(data), v); err != nil {
		return fmt.Errorf("decode %s event: %w", kind, err)
	}
	return nil
}

// payloadType extracts the "type" field used to route unnamed events.
func payloadType(data string) (Kind, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(data), &env); err != nil {
		return "", fmt.Errorf("decode message event: %w", err)
	}
	return Kind(env.Type), nil
}

func percentOf(epoch, total int) (float64, bool) {
	if total <= 0 {
		return 0, false
	}
	return clampPercent(float64(epoch) * 100 / float64(total)), true
}

func clampPercent(p float64) float64 {
	return max(0, min(p, 100))
}

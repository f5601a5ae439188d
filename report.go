package olakai

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/olakai/olakai-go/queue"
)

// CallReport is the telemetry record captured per invocation. The delivery
// subsystem treats it as an opaque serializable payload.
type CallReport struct {
	FunctionName string          `json:"functionName"`
	TaskID       string          `json:"taskId,omitempty"`
	ChatID       string          `json:"chatId,omitempty"`
	Args         json.RawMessage `json:"args,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	DurationMS   int64           `json:"durationMs"`
	StartedAt    time.Time       `json:"startedAt"`
}

// ReportCall serializes and enqueues one report. Safe to call directly for
// hand-built reports; never fails past this boundary.
func (c *Client) ReportCall(report CallReport, priority queue.Priority) {
	payload, err := json.Marshal(report)
	if err != nil {
		c.logger.Warn("dropping unserializable call report",
			zap.String("function", report.FunctionName), zap.Error(err))
		return
	}
	c.queue.Enqueue(payload, queue.EnqueueOptions{Priority: priority})
}

// marshalLenient marshals v for a report, returning nil when v cannot be
// serialized — a report with missing args still beats no report.
func marshalLenient(logger *zap.Logger, v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		logger.Debug("value not serializable for report", zap.Error(err))
		return nil
	}
	return data
}

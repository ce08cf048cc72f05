package middleware

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// DenialEvent describes a request the gate refused
type DenialEvent struct {
	Method     string
	Path       string
	SubjectID  string
	OrgID      string
	Reason     string
	Status     int
	RequestID  string
	RemoteAddr string
}

// DenialRecorder receives every refused request, e.g. for an audit trail
type DenialRecorder interface {
	RecordDenial(ctx context.Context, event DenialEvent)
}

// AccessMetrics observes gate outcomes
type AccessMetrics interface {
	ObserveAuthentication(outcome string)
	ObserveDecision(outcome, reason string, elapsed time.Duration)
}

type noopRecorder struct{}

func (noopRecorder) RecordDenial(context.Context, DenialEvent) {}

type noopMetrics struct{}

func (noopMetrics) ObserveAuthentication(string) {}
func (noopMetrics) ObserveDecision(string, string, time.Duration) {}

func newDenialEvent(r *http.Request, reason string, status int) DenialEvent {
	return DenialEvent{
		Method:     r.Method,
		Path:       r.URL.Path,
		Reason:     reason,
		Status:     status,
		RequestID:  GetRequestIDFromContext(r.Context()),
		RemoteAddr: r.RemoteAddr,
	}
}

// logDenial writes the denial line every refused request gets
func logDenial(logger *zap.Logger, event DenialEvent, err error) {
	fields := []zap.Field{
		zap.String("request_id", event.RequestID),
		zap.String("method", event.Method),
		zap.String("path", event.Path),
		zap.String("reason", event.Reason),
		zap.Int("status", event.Status),
	}
	if event.SubjectID != "" {
		fields = append(fields, zap.String("subject_id", event.SubjectID))
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	logger.Warn("request denied", fields...)
}

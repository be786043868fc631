package apierrors

import (
	"context"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/flowgate/pkg/contextkeys"
	"github.com/platinummonkey/flowgate/pkg/httputil"
)

// Envelope is the client-facing error payload
type Envelope struct {
	Kind              Kind      `json:"kind"`
	Message           string    `json:"message"`
	Detail            string    `json:"detail,omitempty"`
	Code              string    `json:"code"`
	RequestID         string    `json:"request_id"`
	RetryAfterSeconds int       `json:"retry_after_seconds,omitempty"`
	HelpURL           string    `json:"help_url,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

// NewEnvelope builds the envelope for a classification
func NewEnvelope(cl Classification, requestID string) Envelope {
	env := Envelope{
		Kind:              cl.Kind,
		Message:           cl.Kind.Message(),
		Code:              cl.Kind.Code(cl.Status),
		RequestID:         requestID,
		RetryAfterSeconds: cl.RetryAfterSeconds,
		Timestamp:         time.Now().UTC(),
	}
	if cl.Kind == KindValidation {
		env.Detail = cl.Detail
	}
	return env
}

// Respond classifies err, logs it with full detail and writes the envelope
func (c *Classifier) Respond(w http.ResponseWriter, r *http.Request, err error, status int) Classification {
	ctx := r.Context()
	cl := c.Classify(ctx, err, status)

	fields := map[string]interface{}{
		"request_id": requestIDFrom(ctx),
		"tenant_id":  contextkeys.GetTenantID(ctx),
		"path":       r.URL.Path,
		"method":     r.Method,
		"kind":       string(cl.Kind),
		"status":     cl.Status,
		"rule":       cl.Rule,
	}
	if err != nil {
		fields["error"] = err.Error()
	}

	logger := c.logger.WithFields(fields)
	if cl.Status >= http.StatusInternalServerError {
		logger.WithField("stack", string(debug.Stack())).Error("Request failed")
	} else {
		logger.Info("Request rejected")
	}
	c.metrics.RecordError(string(cl.Kind), cl.Status)

	env := NewEnvelope(cl, requestIDFrom(ctx))
	if c.HelpBaseURL != "" {
		env.HelpURL = c.HelpBaseURL + "#" + strings.ReplaceAll(string(cl.Kind), "_", "-")
	}

	if env.RequestID != "" {
		w.Header().Set("X-Request-ID", env.RequestID)
	}
	if env.RetryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(env.RetryAfterSeconds))
	}
	httputil.WriteJSON(w, cl.Status, env)
	return cl
}

// WriteError renders err with the default classifier
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	defaultClassifier.Respond(w, r, err, 0)
}

var defaultClassifier = NewClassifier(nil, nil)

func requestIDFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	return contextkeys.GetRequestID(ctx)
}

package apierrors

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"

	"github.com/lib/pq"
	"github.com/platinummonkey/flowgate/pkg/observability"
)

// Rule names identify which step of the classification table matched
const (
	RuleTyped   = "typed"
	RuleStatus  = "status"
	RuleVariant = "variant"
	RuleKeyword = "keyword"
	RuleDefault = "default"
)

// Classification is the result of mapping a failure onto the taxonomy
type Classification struct {
	Kind              Kind
	Status            int
	Detail            string
	RetryAfterSeconds int
	Rule              string
}

var statusKinds = map[int]Kind{
	http.StatusBadRequest:      KindValidation,
	http.StatusUnauthorized:    KindAuthentication,
	http.StatusForbidden:       KindAuthorization,
	http.StatusNotFound:        KindNotFound,
	http.StatusTooManyRequests: KindRateLimit,
}

// keywordRule is one entry of the bounded text fallback
type keywordRule struct {
	kind  Kind
	match func(text string) bool
}

var keywordRules = []keywordRule{
	{KindTimeout, func(s string) bool { return strings.Contains(s, "timeout") || strings.Contains(s, "timed out") }},
	{KindNetwork, func(s string) bool { return strings.Contains(s, "connection") || strings.Contains(s, "network") }},
	{KindDatabase, func(s string) bool { return strings.Contains(s, "database") || strings.Contains(s, "sql") }},
	{KindExternalAPI, func(s string) bool {
		return strings.Contains(s, "api") && (strings.Contains(s, "external") || strings.Contains(s, "third"))
	}},
}

// Classifier maps failures to the taxonomy and renders envelopes
type Classifier struct {
	logger  *observability.Logger
	metrics *observability.Metrics
	// HelpBaseURL prefixes the per-kind help anchor in envelopes. Empty disables help links.
	HelpBaseURL string
}

// NewClassifier creates a classifier. metrics may be nil.
func NewClassifier(logger *observability.Logger, metrics *observability.Metrics) *Classifier {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Classifier{
		logger:  logger,
		metrics: metrics,
	}
}

// Classify maps err, and the response status if one was produced, onto exactly one kind.
// status is 0 when no response exists.
func (c *Classifier) Classify(ctx context.Context, err error, status int) Classification {
	cl := classify(err, status)

	switch cl.Rule {
	case RuleKeyword:
		c.logger.WithFields(map[string]interface{}{
			"request_id": requestIDFrom(ctx),
			"kind":       string(cl.Kind),
			"error":      errorText(err),
		}).Warn("Error classified by keyword fallback")
	case RuleDefault:
		if err != nil {
			c.logger.WithFields(map[string]interface{}{
				"request_id":         requestIDFrom(ctx),
				"taxonomy_unmatched": true,
				"error_type":         typeName(err),
				"error":              err.Error(),
			}).Warn("Error did not match any taxonomy rule")
			c.metrics.RecordUnclassifiedError()
		}
	}

	return cl
}

// Classify applies the classification table without logging
func Classify(err error, status int) Classification {
	return classify(err, status)
}

func classify(err error, status int) Classification {
	cl := classifyRule(err, status)
	if cl.RetryAfterSeconds <= 0 {
		cl.RetryAfterSeconds = cl.Kind.RetryAfterSeconds()
	}
	return cl
}

func classifyRule(err error, status int) Classification {
	// 1. Errors that already carry a kind
	var apiErr *Error
	if errors.As(err, &apiErr) {
		cl := Classification{
			Kind:              apiErr.Kind,
			Status:            apiErr.HTTPStatus(),
			RetryAfterSeconds: apiErr.RetryAfterSeconds,
			Rule:              RuleTyped,
		}
		if apiErr.Kind == KindValidation {
			cl.Detail = apiErr.Detail
		}
		return cl
	}

	// 2. Explicit statuses
	var statusErr *StatusError
	if errors.As(err, &statusErr) && status == 0 {
		status = statusErr.Status
	}
	if status >= http.StatusBadRequest {
		if kind, ok := statusKinds[status]; ok {
			return Classification{Kind: kind, Status: status, Rule: RuleStatus}
		}
		if status >= http.StatusInternalServerError {
			return Classification{Kind: KindInternalServer, Status: status, Rule: RuleStatus}
		}
		// Remaining client errors (405, 409, 422, ...) are request problems
		return Classification{Kind: KindValidation, Status: status, Rule: RuleStatus}
	}

	if err == nil {
		return Classification{Kind: KindInternalServer, Status: KindInternalServer.Status(), Rule: RuleDefault}
	}

	// 3. Typed transport and storage variants
	if kind, ok := variantKind(err); ok {
		return Classification{Kind: kind, Status: kind.Status(), Rule: RuleVariant}
	}

	// 4. Bounded keyword fallback
	text := strings.ToLower(err.Error())
	for _, rule := range keywordRules {
		if rule.match(text) {
			return Classification{Kind: rule.kind, Status: rule.kind.Status(), Rule: RuleKeyword}
		}
	}

	return Classification{Kind: KindInternalServer, Status: KindInternalServer.Status(), Rule: RuleDefault}
}

func variantKind(err error) (Kind, bool) {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout, true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout, true
	}

	var opErr *net.OpError
	var dnsErr *net.DNSError
	if errors.As(err, &opErr) || errors.As(err, &dnsErr) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return KindNetwork, true
	}

	if errors.Is(err, sql.ErrNoRows) {
		return KindNotFound, true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) || errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, sql.ErrTxDone) || errors.Is(err, driver.ErrBadConn) {
		return KindDatabase, true
	}

	var extErr *ExternalError
	if errors.As(err, &extErr) {
		return KindExternalAPI, true
	}

	return "", false
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func typeName(err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("%T", err)
}

package crawl

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
)

// Reason is a structured terminal classification for a pipeline item. Once
// an item carries a reason it is never re-queued; the owning entity records
// it and the item is dropped.
type Reason string

// Terminal reason codes surfaced by the pipeline stages.
const (
	ReasonRobotsBlocked     Reason = "ROBOTS_BLOCKED"
	ReasonTimeout           Reason = "TIMEOUT"
	ReasonDNSError          Reason = "DNS_ERROR"
	ReasonConnectionRefused Reason = "CONNECTION_REFUSED"
	ReasonHTTP4xx           Reason = "HTTP_4XX"
	ReasonHTTP5xx           Reason = "HTTP_5XX"
	ReasonPaywall           Reason = "PAYWALL"
	ReasonEmptyBody         Reason = "EMPTY_BODY"

	ReasonContentTooShort        Reason = "CONTENT_TOO_SHORT"
	ReasonNotAnArticle           Reason = "NOT_AN_ARTICLE"
	ReasonInsufficientForScoring Reason = "INSUFFICIENT_FOR_SCORING"

	ReasonDuplicateContent Reason = "DUPLICATE_CONTENT"
	ReasonAlreadySeen      Reason = "ALREADY_SEEN"

	ReasonNotRelevant    Reason = "NOT_RELEVANT"
	ReasonScoringFailure Reason = "SCORING_FAILURE"

	ReasonPersistenceError Reason = "PERSISTENCE_ERROR"
)

// Stage names the pipeline stage that produced an outcome.
type Stage string

// Pipeline stages in execution order.
const (
	StageFetch   Stage = "fetch"
	StageExtract Stage = "extract"
	StageDedup   Stage = "dedup"
	StageScore   Stage = "score"
	StageSave    Stage = "save"
)

// Outcome is the result of pushing one candidate through the full pipeline.
// Every stage's verdict is observable here rather than hidden behind an
// early return, so a verification failure can never silently skip the
// stages behind it.
type Outcome struct {
	Candidate Candidate
	Stage     Stage
	Reason    Reason
	ContentID string
	Score     int
	Method    string
}

// Saved reports whether the item survived every stage and was persisted.
func (o Outcome) Saved() bool {
	return o.Reason == "" && o.ContentID != ""
}

// Rejected builds a terminal outcome for the given stage and reason.
func Rejected(c Candidate, stage Stage, reason Reason) Outcome {
	return Outcome{Candidate: c, Stage: stage, Reason: reason}
}

// Retryable reports whether the reason describes a transient network-class
// failure that the fetcher may retry with backoff. All other reasons are
// terminal for the item.
func (r Reason) Retryable() bool {
	switch r {
	case ReasonTimeout, ReasonDNSError, ReasonConnectionRefused, ReasonHTTP5xx:
		return true
	default:
		return false
	}
}

// ClassifyFetchError maps a transport error to a reason code.
func ClassifyFetchError(err error) Reason {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ReasonDNSError
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ReasonTimeout
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "connection refused"):
		return ReasonConnectionRefused
	case strings.Contains(msg, "no such host"):
		return ReasonDNSError
	default:
		return ReasonTimeout
	}
}

// ClassifyStatus maps an HTTP status code to a reason code. 2xx maps to the
// empty reason.
func ClassifyStatus(status int) Reason {
	switch {
	case status >= 200 && status < 300:
		return ""
	case status == http.StatusPaymentRequired:
		return ReasonPaywall
	case status >= 400 && status < 500:
		return ReasonHTTP4xx
	case status >= 500:
		return ReasonHTTP5xx
	default:
		return ReasonHTTP5xx
	}
}

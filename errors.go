package rdns

import (
	"fmt"

	"github.com/miekg/dns"
	"github.com/pkg/errors"
)

// QueryTimeoutError is returned when a query to an upstream nameserver
// times out.
type QueryTimeoutError struct {
	query *dns.Msg
}

func (e QueryTimeoutError) Error() string {
	return fmt.Sprintf("query for '%s' timed out", qName(e.query))
}

// ConfigError wraps a configuration problem detected while building the
// resolver pipeline from the TOML file, e.g. an invalid CIDR in a filter
// list or an unsupported dnssec policy. These are fatal at startup.
type ConfigError struct {
	Section string
	Cause   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration in %s: %v", e.Section, e.Cause)
}

func (e *ConfigError) Unwrap() error { return e.Cause }

// NewConfigError wraps err with the config section it was found in.
func NewConfigError(section string, err error) error {
	return &ConfigError{Section: section, Cause: errors.WithStack(err)}
}

// BindError is returned when a listener fails to bind its socket.
type BindError struct {
	Net  string
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("failed to bind %s listener on %s: %v", e.Net, e.Addr, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// MalformedRequestError describes an incoming query that carries no
// question.
type MalformedRequestError struct {
	Reason string
}

func (e *MalformedRequestError) Error() string {
	return "malformed request: " + e.Reason
}

// DeniedError describes a query name that the domain filter does not
// permit.
type DeniedError struct {
	Reason string
}

func (e *DeniedError) Error() string {
	return "denied: " + e.Reason
}

// UpstreamNoRecordsError is returned by the recursor when a nameserver
// responded with an rcode other than NOERROR or NXDOMAIN, distinct from
// a transport failure.
type UpstreamNoRecordsError struct {
	Rcode int
}

func (e *UpstreamNoRecordsError) Error() string {
	return fmt.Sprintf("upstream returned no records, rcode=%s", dns.RcodeToString[e.Rcode])
}

// UpstreamTransientFailureError wraps a network-level failure talking to
// an upstream nameserver (timeout, connection refused, i/o error) that
// is expected to be retried against another upstream or on the next
// query.
type UpstreamTransientFailureError struct {
	Upstream string
	Err      error
}

func (e *UpstreamTransientFailureError) Error() string {
	return fmt.Sprintf("transient failure talking to %s: %v", e.Upstream, e.Err)
}

func (e *UpstreamTransientFailureError) Unwrap() error { return e.Err }

// BackgroundRefreshFailureError records a failed prefetch/refresh attempt.
// It's never returned to a client; the refresh worker pool runs
// independently of the request path and only logs these.
type BackgroundRefreshFailureError struct {
	Key CacheKey
	Err error
}

func (e *BackgroundRefreshFailureError) Error() string {
	return fmt.Sprintf("background refresh of %s/%s failed: %v", e.Key.Name, dns.TypeToString[e.Key.Type], e.Err)
}

func (e *BackgroundRefreshFailureError) Unwrap() error { return e.Err }

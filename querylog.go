package rdns

import (
	"fmt"
	"strings"

	syslog "github.com/RackSec/srslog"
	"github.com/miekg/dns"
)

// QueryLog wraps a resolver and mirrors every query and its outcome to
// syslog, independent of the package logger. It never affects the
// decision path: a failure to write a syslog line is itself only
// logged, never returned to the caller.
type QueryLog struct {
	id       string
	writer   *syslog.Writer
	resolver Resolver
	opt      QueryLogOptions
}

var _ Resolver = &QueryLog{}

type QueryLogOptions struct {
	// "udp", "tcp", "unix". Empty connects to the local syslog daemon.
	Network string
	// Remote syslog address. Not used when Network is empty.
	Address string
	// Priority value, see https://pkg.go.dev/log/syslog#Priority
	Priority int
	Tag      string

	LogRequest  bool
	LogResponse bool
}

// NewQueryLog returns a QueryLog wrapping resolver. A syslog connection
// failure is logged but never fatal; the wrapped resolver keeps working
// with logging silently disabled.
func NewQueryLog(id string, resolver Resolver, opt QueryLogOptions) *QueryLog {
	writer, err := syslog.Dial(opt.Network, opt.Address, syslog.Priority(opt.Priority), opt.Tag)
	if err != nil {
		Log.With("id", id, "error", err).Error("failed to initialize syslog")
	}
	return &QueryLog{id: id, writer: writer, resolver: resolver, opt: opt}
}

// Resolve passes q through to the wrapped resolver unmodified, emitting
// a syslog line for the request and/or response as configured.
func (r *QueryLog) Resolve(q *dns.Msg, ci ClientInfo) (*dns.Msg, error) {
	if len(q.Question) == 0 {
		return r.resolver.Resolve(q, ci)
	}
	log := logger(r.id, q, ci)

	if r.opt.LogRequest && r.writer != nil {
		msg := fmt.Sprintf("id=%s qid=%d type=query client=%s qtype=%s qname=%s",
			r.id, q.Id, ci.SourceIP, dns.TypeToString[q.Question[0].Qtype], qName(q))
		if _, err := r.writer.Write([]byte(msg)); err != nil {
			log.With("error", err).Error("failed to send syslog")
		}
	}

	a, err := r.resolver.Resolve(q, ci)
	if err == nil && a != nil && r.opt.LogResponse && r.writer != nil {
		r.logResponse(log, q, a)
	}
	return a, err
}

func (r *QueryLog) logResponse(log Logger, q, a *dns.Msg) {
	if a.Rcode != dns.RcodeSuccess {
		msg := fmt.Sprintf("id=%s qid=%d type=answer qname=%s rcode=%s", r.id, q.Id, qName(q), dns.RcodeToString[a.Rcode])
		if _, err := r.writer.Write([]byte(msg)); err != nil {
			log.With("error", err).Error("failed to send syslog")
		}
		return
	}
	for i, rr := range a.Answer {
		s := strings.ReplaceAll(rr.String(), "\t", " ")
		msg := fmt.Sprintf("id=%s qid=%d type=answer answer-num=%d/%d qname=%s answer=%q", r.id, q.Id, i+1, len(a.Answer), qName(q), s)
		if _, err := r.writer.Write([]byte(msg)); err != nil {
			log.With("error", err).Error("failed to send syslog")
		}
	}
}

func (r *QueryLog) String() string { return r.id }

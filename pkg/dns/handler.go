// Package dns contains the PabloDNS query handler and server. Every query is
// answered locally from the rule set or forwarded upstream; maintenance mode
// short-circuits everything with a TXT notice.
package dns

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"pablodns/pkg/forwarder"
	"pablodns/pkg/logging"
	"pablodns/pkg/rules"
	"pablodns/pkg/stats"
	"pablodns/pkg/storage"
	"pablodns/pkg/telemetry"

	"github.com/miekg/dns"
)

// msgPool provides object pooling for dns.Msg to reduce allocations
var msgPool = sync.Pool{
	New: func() interface{} {
		return new(dns.Msg)
	},
}

// Handler answers DNS queries from the rule store
type Handler struct {
	Store       *rules.Store
	Forwarder   *forwarder.Forwarder
	Stats       *stats.Recorder
	QueryLogger *QueryLogger
	Metrics     *telemetry.Metrics
	Logger      *logging.Logger
	AnswerTTL   uint32

	// now is swappable so window evaluation is testable
	now func() time.Time
}

// NewHandler creates a new DNS handler
func NewHandler(store *rules.Store) *Handler {
	return &Handler{
		Store:     store,
		AnswerTTL: 60,
		now:       time.Now,
	}
}

// SetForwarder sets the upstream DNS forwarder
func (h *Handler) SetForwarder(f *forwarder.Forwarder) {
	h.Forwarder = f
}

// SetStats sets the per-rule match recorder
func (h *Handler) SetStats(s *stats.Recorder) {
	h.Stats = s
}

// SetQueryLogger sets the async query logger
func (h *Handler) SetQueryLogger(ql *QueryLogger) {
	h.QueryLogger = ql
}

// SetMetrics sets the metrics collector
func (h *Handler) SetMetrics(m *telemetry.Metrics) {
	h.Metrics = m
}

// SetLogger sets the logger
func (h *Handler) SetLogger(l *logging.Logger) {
	h.Logger = l
}

// writeMsg writes a DNS message to the response writer. A failed write
// (e.g., client disconnected) is recoverable: it is logged and the query
// proceeds through stats and the query log as usual.
func (h *Handler) writeMsg(w dns.ResponseWriter, msg *dns.Msg) {
	if err := w.WriteMsg(msg); err != nil && h.Logger != nil {
		h.Logger.Warn("Failed to write DNS response",
			"client", getClientIP(w),
			"error", err,
		)
	}
}

// ServeDNS implements the core query path: maintenance first, then the rule
// decision, then upstream forwarding.
func (h *Handler) ServeDNS(ctx context.Context, w dns.ResponseWriter, r *dns.Msg) {
	startTime := h.now()

	// Malformed packets without a question are dropped without a response.
	if len(r.Question) == 0 {
		return
	}

	msg := msgPool.Get().(*dns.Msg)
	defer msgPool.Put(msg)

	*msg = dns.Msg{}
	msg.SetReply(r)
	msg.Authoritative = true
	msg.RecursionAvailable = true
	HandleEDNS0(r, msg)

	question := r.Question[0]
	domain := question.Name
	qtype := question.Qtype
	clientIP := getClientIP(w)

	if h.Store != nil && h.Store.Maintenance() {
		h.answerMaintenance(ctx, msg, domain)
		h.writeMsg(w, msg)
		h.logQuery(startTime, clientIP, domain, qtype, storage.ActionMaintenance, "", "", msg.Rcode)
		return
	}

	decision := h.decide(domain, startTime)
	if decision.Block {
		action := h.answerBlocked(ctx, msg, r, domain, qtype, decision)
		h.writeMsg(w, msg)
		h.logQuery(startTime, clientIP, domain, qtype, action, decision.Pattern, "", msg.Rcode)
		return
	}

	upstream := h.forward(ctx, w, r, msg)
	action := storage.ActionPass
	if msg.Rcode == dns.RcodeServerFailure {
		action = storage.ActionServfail
	}
	h.logQuery(startTime, clientIP, domain, qtype, action, "", upstream, msg.Rcode)
}

// decide evaluates the current rule snapshot at the given wall-clock time.
func (h *Handler) decide(domain string, now time.Time) rules.Decision {
	if h.Store == nil {
		return rules.Pass
	}
	minutes := now.Hour()*60 + now.Minute()
	return rules.Decide(domain, h.Store.CurrentSnapshot(), minutes)
}

// answerMaintenance fills msg with the maintenance TXT notice.
func (h *Handler) answerMaintenance(ctx context.Context, msg *dns.Msg, domain string) {
	notice := "maintenance"
	if h.Store != nil {
		notice = h.Store.Notice()
	}
	addTXTRecord(msg, domain, notice, h.AnswerTTL)
	if h.Metrics != nil {
		h.Metrics.DNSMaintenanceHits.Add(ctx, 1)
	}
}

// answerBlocked fills msg according to the matched rule's target and records
// the match. Redirect targets only answer the matching address family; any
// other query type gets an empty NOERROR answer.
func (h *Handler) answerBlocked(ctx context.Context, msg *dns.Msg, r *dns.Msg, domain string, qtype uint16, decision rules.Decision) storage.Action {
	if h.Stats != nil {
		h.Stats.Record(decision.Pattern)
	}

	if decision.Target.Refused() {
		msg.SetRcode(r, dns.RcodeRefused)
		if h.Metrics != nil {
			h.Metrics.DNSRefusedQueries.Add(ctx, 1)
		}
		return storage.ActionRefused
	}

	ip := decision.Target.IP()
	switch qtype {
	case dns.TypeA:
		if decision.Target.IsIPv4() {
			addARecord(msg, domain, ip, h.AnswerTTL)
		}
	case dns.TypeAAAA:
		if !decision.Target.IsIPv4() {
			addAAAARecord(msg, domain, ip, h.AnswerTTL)
		}
	}

	if h.Metrics != nil {
		h.Metrics.DNSRedirectedQueries.Add(ctx, 1)
	}
	return storage.ActionRedirected
}

// forward relays the query upstream, answering SERVFAIL when no forwarder is
// configured or every upstream fails. Returns the upstream label for logging.
func (h *Handler) forward(ctx context.Context, w dns.ResponseWriter, r *dns.Msg, msg *dns.Msg) string {
	if h.Forwarder == nil {
		msg.SetRcode(r, dns.RcodeServerFailure)
		if h.Metrics != nil {
			h.Metrics.DNSServfailQueries.Add(ctx, 1)
		}
		h.writeMsg(w, msg)
		return ""
	}

	var resp *dns.Msg
	var err error
	if isTCP(w) {
		resp, err = h.Forwarder.ForwardTCP(ctx, r)
	} else {
		resp, err = h.Forwarder.Forward(ctx, r)
	}
	if err != nil {
		if h.Logger != nil {
			h.Logger.Warn("Upstream resolution failed",
				"domain", r.Question[0].Name,
				"error", err,
			)
		}
		msg.SetRcode(r, dns.RcodeServerFailure)
		if h.Metrics != nil {
			h.Metrics.DNSServfailQueries.Add(ctx, 1)
		}
		h.writeMsg(w, msg)
		return ""
	}

	if h.Metrics != nil {
		h.Metrics.DNSForwardedQueries.Add(ctx, 1)
	}

	// Relay the upstream response verbatim, reusing our reply ID.
	resp.Id = r.Id
	*msg = *resp
	h.writeMsg(w, resp)
	return strings.Join(h.Forwarder.Upstreams(), ",")
}

// logQuery enqueues an async query log entry.
func (h *Handler) logQuery(startTime time.Time, clientIP, domain string, qtype uint16, action storage.Action, rule, upstream string, rcode int) {
	if h.QueryLogger == nil {
		return
	}

	entry := &storage.QueryLog{
		Timestamp:      startTime,
		ClientIP:       clientIP,
		Domain:         strings.TrimSuffix(domain, "."),
		QueryType:      dnsTypeLabel(qtype),
		Action:         action,
		Rule:           rule,
		Upstream:       upstream,
		ResponseCode:   rcode,
		ResponseTimeMs: time.Since(startTime).Seconds() * 1000,
	}

	if err := h.QueryLogger.LogAsync(entry); err != nil && h.Logger != nil {
		h.Logger.Debug("Query log entry dropped",
			"domain", domain,
			"error", err,
		)
	}
}

// isTCP reports whether the underlying transport of the response writer is TCP.
func isTCP(w dns.ResponseWriter) bool {
	if w.RemoteAddr() == nil {
		return false
	}
	return w.RemoteAddr().Network() == "tcp"
}

// dnsTypeLabel returns a human-readable string for the query type, falling
// back to TYPE#### per RFC 3597 when unknown.
func dnsTypeLabel(qtype uint16) string {
	if label := dns.TypeToString[qtype]; label != "" {
		return label
	}
	return "TYPE" + strconv.FormatUint(uint64(qtype), 10)
}

// Package metrics 以 Prometheus 文本格式导出 HTTP、意图解析与步骤执行指标。
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type requestKey struct {
	handler string
	method  string
	code    string
}

type routeKey struct {
	handler string
	method  string
}

type stepKey struct {
	endpoint string
	status   string
}

type histogram struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

// Collector 在内存中累计指标，所有方法并发安全。
type Collector struct {
	mu       sync.Mutex
	requests map[requestKey]uint64
	errors   map[routeKey]uint64
	latency  map[routeKey]*histogram
	intents  map[string]uint64
	steps    map[stepKey]uint64
}

// NewCollector 创建空的指标集合。
func NewCollector() *Collector {
	return &Collector{
		requests: make(map[requestKey]uint64),
		errors:   make(map[routeKey]uint64),
		latency:  make(map[routeKey]*histogram),
		intents:  make(map[string]uint64),
		steps:    make(map[stepKey]uint64),
	}
}

var defaultCollector = NewCollector()

// Default 返回进程级指标集合。
func Default() *Collector { return defaultCollector }

// ObserveHTTPRequest 记录一次 HTTP 请求。
func (c *Collector) ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requests[requestKey{handler: handler, method: method, code: strconv.Itoa(status)}]++
	key := routeKey{handler: handler, method: method}
	if status >= 500 {
		c.errors[key]++
	}
	hist := c.latency[key]
	if hist == nil {
		hist = newHistogram()
		c.latency[key] = hist
	}
	hist.observe(duration.Seconds())
}

// ObserveIntent 按解析层级记录一次意图请求，未识别时 tier 为 unrecognized。
func (c *Collector) ObserveIntent(tier string) {
	if tier == "" {
		tier = "unrecognized"
	}
	c.mu.Lock()
	c.intents[tier]++
	c.mu.Unlock()
}

// ObserveStep 记录一次步骤执行结果。
func (c *Collector) ObserveStep(endpoint, status string) {
	c.mu.Lock()
	c.steps[stepKey{endpoint: endpoint, status: status}]++
	c.mu.Unlock()
}

// StepCount 返回某 endpoint 在某状态下的计数。
func (c *Collector) StepCount(endpoint, status string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.steps[stepKey{endpoint: endpoint, status: status}]
}

// Middleware 为 handler 记录状态码与耗时。
func (c *Collector) Middleware(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		c.ObserveHTTPRequest(name, r.Method, rec.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func newHistogram() *histogram {
	buckets := []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	return &histogram{buckets: buckets, counts: make([]uint64, len(buckets))}
}

// 超出最后一个桶的值只计入 count，即 +Inf 桶。
func (h *histogram) observe(value float64) {
	h.count++
	h.sum += value
	for idx, bound := range h.buckets {
		if value <= bound {
			for i := idx; i < len(h.counts); i++ {
				h.counts[i]++
			}
			return
		}
	}
}

// Handler 以 Prometheus 文本格式导出指标。
func (c *Collector) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = fmt.Fprint(w, c.render())
	})
}

func (c *Collector) render() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var b strings.Builder
	b.Grow(2048)

	b.WriteString("# HELP openmcp_http_requests_total Total number of HTTP requests processed.\n")
	b.WriteString("# TYPE openmcp_http_requests_total counter\n")
	reqKeys := make([]requestKey, 0, len(c.requests))
	for k := range c.requests {
		reqKeys = append(reqKeys, k)
	}
	sort.Slice(reqKeys, func(i, j int) bool {
		a, z := reqKeys[i], reqKeys[j]
		if a.handler != z.handler {
			return a.handler < z.handler
		}
		if a.method != z.method {
			return a.method < z.method
		}
		return a.code < z.code
	})
	for _, k := range reqKeys {
		fmt.Fprintf(&b, "openmcp_http_requests_total{handler=\"%s\",method=\"%s\",code=\"%s\"} %d\n",
			escape(k.handler), escape(k.method), escape(k.code), c.requests[k])
	}

	b.WriteString("# HELP openmcp_http_request_errors_total Total number of HTTP requests that resulted in a server error.\n")
	b.WriteString("# TYPE openmcp_http_request_errors_total counter\n")
	for _, k := range sortedRoutes(c.errors) {
		fmt.Fprintf(&b, "openmcp_http_request_errors_total{handler=\"%s\",method=\"%s\"} %d\n",
			escape(k.handler), escape(k.method), c.errors[k])
	}

	b.WriteString("# HELP openmcp_http_request_duration_seconds HTTP request duration in seconds.\n")
	b.WriteString("# TYPE openmcp_http_request_duration_seconds histogram\n")
	for _, k := range sortedRoutes(c.latency) {
		h := c.latency[k]
		labels := fmt.Sprintf("handler=\"%s\",method=\"%s\"", escape(k.handler), escape(k.method))
		for idx, bound := range h.buckets {
			fmt.Fprintf(&b, "openmcp_http_request_duration_seconds_bucket{%s,le=\"%s\"} %d\n", labels, formatFloat(bound), h.counts[idx])
		}
		fmt.Fprintf(&b, "openmcp_http_request_duration_seconds_bucket{%s,le=\"+Inf\"} %d\n", labels, h.count)
		fmt.Fprintf(&b, "openmcp_http_request_duration_seconds_sum{%s} %s\n", labels, formatFloat(h.sum))
		fmt.Fprintf(&b, "openmcp_http_request_duration_seconds_count{%s} %d\n", labels, h.count)
	}

	b.WriteString("# HELP openmcp_intent_requests_total Utterances handled, by resolution tier.\n")
	b.WriteString("# TYPE openmcp_intent_requests_total counter\n")
	tiers := make([]string, 0, len(c.intents))
	for tier := range c.intents {
		tiers = append(tiers, tier)
	}
	sort.Strings(tiers)
	for _, tier := range tiers {
		fmt.Fprintf(&b, "openmcp_intent_requests_total{tier=\"%s\"} %d\n", escape(tier), c.intents[tier])
	}

	b.WriteString("# HELP openmcp_step_executions_total Flow steps executed, by endpoint and status.\n")
	b.WriteString("# TYPE openmcp_step_executions_total counter\n")
	stepKeys := make([]stepKey, 0, len(c.steps))
	for k := range c.steps {
		stepKeys = append(stepKeys, k)
	}
	sort.Slice(stepKeys, func(i, j int) bool {
		if stepKeys[i].endpoint != stepKeys[j].endpoint {
			return stepKeys[i].endpoint < stepKeys[j].endpoint
		}
		return stepKeys[i].status < stepKeys[j].status
	})
	for _, k := range stepKeys {
		fmt.Fprintf(&b, "openmcp_step_executions_total{endpoint=\"%s\",status=\"%s\"} %d\n",
			escape(k.endpoint), escape(k.status), c.steps[k])
	}
	return b.String()
}

func sortedRoutes[V any](m map[routeKey]V) []routeKey {
	keys := make([]routeKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].handler != keys[j].handler {
			return keys[i].handler < keys[j].handler
		}
		return keys[i].method < keys[j].method
	})
	return keys
}

func escape(value string) string {
	value = strings.ReplaceAll(value, "\\", "\\\\")
	value = strings.ReplaceAll(value, "\"", "\\\"")
	return strings.ReplaceAll(value, "\n", "")
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

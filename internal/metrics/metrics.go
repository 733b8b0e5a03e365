package metrics

import (
	"sync"
	"time"
)

// Collector tracks service counters for the metrics endpoint.
// This implementation uses manual metric tracking without external dependencies.
// For production, consider integrating prometheus/client_golang.
type Collector struct {
	mu sync.RWMutex

	// Request metrics
	totalRequests      map[string]int64 // by endpoint
	totalRequestsDur   map[string]int64 // total duration in ms
	requestErrors      map[string]int64 // by endpoint
	requestsInProgress map[string]int64 // current in-flight requests

	// Charge metrics
	chargesApplied     int64
	chargesRejected    int64 // insufficient credit
	creditsCharged     int64
	creditsByTool      map[string]int64
	callsByTool        map[string]int64
	ledgerRetries      int64
	ledgerFailures     int64
	transfersApplied   int64
	transferredCredits int64

	// System metrics
	startTime time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		totalRequests:      make(map[string]int64),
		totalRequestsDur:   make(map[string]int64),
		requestErrors:      make(map[string]int64),
		requestsInProgress: make(map[string]int64),
		creditsByTool:      make(map[string]int64),
		callsByTool:        make(map[string]int64),
		startTime:          time.Now(),
	}
}

// RecordRequest records a request to an endpoint.
func (c *Collector) RecordRequest(endpoint string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalRequests[endpoint]++
	c.totalRequestsDur[endpoint] += duration.Milliseconds()
}

// RecordError records an error for an endpoint.
func (c *Collector) RecordError(endpoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requestErrors[endpoint]++
}

// RecordRequestStart increments in-progress requests.
func (c *Collector) RecordRequestStart(endpoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requestsInProgress[endpoint]++
}

// RecordRequestEnd decrements in-progress requests.
func (c *Collector) RecordRequestEnd(endpoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requestsInProgress[endpoint]--
}

// RecordCharge records a successfully applied charge.
func (c *Collector) RecordCharge(tool string, credits int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.chargesApplied++
	c.creditsCharged += credits
	if tool != "" {
		c.creditsByTool[tool] += credits
		c.callsByTool[tool]++
	}
}

// RecordChargeRejected records an insufficient-credit rejection.
func (c *Collector) RecordChargeRejected(tool string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.chargesRejected++
	if tool != "" {
		c.callsByTool[tool]++
	}
}

// RecordLedgerRetry records one retried ledger operation.
func (c *Collector) RecordLedgerRetry() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ledgerRetries++
}

// RecordLedgerFailure records a ledger operation that exhausted its retries.
func (c *Collector) RecordLedgerFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ledgerFailures++
}

// RecordTransfer records a completed credit transfer.
func (c *Collector) RecordTransfer(credits int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.transfersApplied++
	c.transferredCredits += credits
}

// Snapshot returns a point-in-time snapshot of all metrics.
type Snapshot struct {
	Uptime             int64
	TotalRequests      map[string]int64
	TotalRequestsDur   map[string]int64
	RequestErrors      map[string]int64
	RequestsInProgress map[string]int64
	ChargesApplied     int64
	ChargesRejected    int64
	CreditsCharged     int64
	CreditsByTool      map[string]int64
	CallsByTool        map[string]int64
	LedgerRetries      int64
	LedgerFailures     int64
	TransfersApplied   int64
	TransferredCredits int64
}

// GetSnapshot returns a snapshot of current metrics.
func (c *Collector) GetSnapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		Uptime:             int64(time.Since(c.startTime).Seconds()),
		TotalRequests:      copyMap(c.totalRequests),
		TotalRequestsDur:   copyMap(c.totalRequestsDur),
		RequestErrors:      copyMap(c.requestErrors),
		RequestsInProgress: copyMap(c.requestsInProgress),
		ChargesApplied:     c.chargesApplied,
		ChargesRejected:    c.chargesRejected,
		CreditsCharged:     c.creditsCharged,
		CreditsByTool:      copyMap(c.creditsByTool),
		CallsByTool:        copyMap(c.callsByTool),
		LedgerRetries:      c.ledgerRetries,
		LedgerFailures:     c.ledgerFailures,
		TransfersApplied:   c.transfersApplied,
		TransferredCredits: c.transferredCredits,
	}
}

func copyMap(m map[string]int64) map[string]int64 {
	result := make(map[string]int64, len(m))
	for k, v := range m {
		result[k] = v
	}
	return result
}

package metrics

import (
	"strings"
	"testing"
	"time"
)

func TestCollectorCounters(t *testing.T) {
	c := NewCollector()

	c.RecordRequest("POST /api/v1/tools/cnic-extraction/invoke", 25*time.Millisecond)
	c.RecordCharge("cnic-extraction", 10)
	c.RecordCharge("cnic-extraction", 5)
	c.RecordChargeRejected("cnic-extraction")
	c.RecordLedgerRetry()
	c.RecordTransfer(50)

	snap := c.GetSnapshot()
	if snap.ChargesApplied != 2 {
		t.Fatalf("expected 2 charges applied, got %d", snap.ChargesApplied)
	}
	if snap.ChargesRejected != 1 {
		t.Fatalf("expected 1 rejection, got %d", snap.ChargesRejected)
	}
	if snap.CreditsCharged != 15 {
		t.Fatalf("expected 15 credits charged, got %d", snap.CreditsCharged)
	}
	if snap.CreditsByTool["cnic-extraction"] != 15 {
		t.Fatalf("unexpected per-tool credits %v", snap.CreditsByTool)
	}
	if snap.CallsByTool["cnic-extraction"] != 3 {
		t.Fatalf("rejections must still count as calls, got %v", snap.CallsByTool)
	}
	if snap.LedgerRetries != 1 {
		t.Fatalf("expected 1 ledger retry, got %d", snap.LedgerRetries)
	}
	if snap.TransfersApplied != 1 || snap.TransferredCredits != 50 {
		t.Fatalf("unexpected transfer counters %d/%d", snap.TransfersApplied, snap.TransferredCredits)
	}

	// Snapshot maps are copies; mutating them must not touch the collector.
	snap.CreditsByTool["cnic-extraction"] = 0
	if c.GetSnapshot().CreditsByTool["cnic-extraction"] != 15 {
		t.Fatal("snapshot map must be a copy")
	}
}

func TestFormatPrometheus(t *testing.T) {
	c := NewCollector()
	c.RecordCharge("chat-with-pdf", 2)
	c.RecordRequest("GET /healthz", time.Millisecond)

	out := FormatPrometheus(c.GetSnapshot())
	for _, want := range []string{
		"docsense_charges_applied_total 1",
		"docsense_credits_charged_total 2",
		`docsense_credits_by_tool_total{tool="chat-with-pdf"} 2`,
		`docsense_requests_total{endpoint="GET /healthz"} 1`,
		"# TYPE docsense_uptime_seconds gauge",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("prometheus output missing %q:\n%s", want, out)
		}
	}
}

package metrics

import (
	"fmt"
	"sort"
	"strings"
)

// FormatPrometheus formats metrics in Prometheus text format.
// See: https://prometheus.io/docs/instrumenting/exposition_formats/
func FormatPrometheus(snap Snapshot) string {
	var sb strings.Builder

	sb.WriteString("# HELP docsense_uptime_seconds Time since the daemon started\n")
	sb.WriteString("# TYPE docsense_uptime_seconds gauge\n")
	sb.WriteString(fmt.Sprintf("docsense_uptime_seconds %d\n", snap.Uptime))
	sb.WriteString("\n")

	sb.WriteString("# HELP docsense_requests_total Total number of requests by endpoint\n")
	sb.WriteString("# TYPE docsense_requests_total counter\n")
	for _, endpoint := range sortedKeys(snap.TotalRequests) {
		sb.WriteString(fmt.Sprintf("docsense_requests_total{endpoint=%q} %d\n", endpoint, snap.TotalRequests[endpoint]))
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP docsense_request_errors_total Total number of request errors by endpoint\n")
	sb.WriteString("# TYPE docsense_request_errors_total counter\n")
	for _, endpoint := range sortedKeys(snap.RequestErrors) {
		sb.WriteString(fmt.Sprintf("docsense_request_errors_total{endpoint=%q} %d\n", endpoint, snap.RequestErrors[endpoint]))
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP docsense_requests_in_progress Current number of requests being processed\n")
	sb.WriteString("# TYPE docsense_requests_in_progress gauge\n")
	for _, endpoint := range sortedKeys(snap.RequestsInProgress) {
		if snap.RequestsInProgress[endpoint] > 0 {
			sb.WriteString(fmt.Sprintf("docsense_requests_in_progress{endpoint=%q} %d\n", endpoint, snap.RequestsInProgress[endpoint]))
		}
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP docsense_request_duration_ms_total Total request duration in milliseconds\n")
	sb.WriteString("# TYPE docsense_request_duration_ms_total counter\n")
	for _, endpoint := range sortedKeys(snap.TotalRequestsDur) {
		sb.WriteString(fmt.Sprintf("docsense_request_duration_ms_total{endpoint=%q} %d\n", endpoint, snap.TotalRequestsDur[endpoint]))
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP docsense_charges_applied_total Charges applied to the ledger\n")
	sb.WriteString("# TYPE docsense_charges_applied_total counter\n")
	sb.WriteString(fmt.Sprintf("docsense_charges_applied_total %d\n", snap.ChargesApplied))
	sb.WriteString("\n")

	sb.WriteString("# HELP docsense_charges_rejected_total Charges rejected for insufficient credit\n")
	sb.WriteString("# TYPE docsense_charges_rejected_total counter\n")
	sb.WriteString(fmt.Sprintf("docsense_charges_rejected_total %d\n", snap.ChargesRejected))
	sb.WriteString("\n")

	sb.WriteString("# HELP docsense_credits_charged_total Credits deducted across all tools\n")
	sb.WriteString("# TYPE docsense_credits_charged_total counter\n")
	sb.WriteString(fmt.Sprintf("docsense_credits_charged_total %d\n", snap.CreditsCharged))
	sb.WriteString("\n")

	sb.WriteString("# HELP docsense_credits_by_tool_total Credits deducted by tool\n")
	sb.WriteString("# TYPE docsense_credits_by_tool_total counter\n")
	for _, tool := range sortedKeys(snap.CreditsByTool) {
		sb.WriteString(fmt.Sprintf("docsense_credits_by_tool_total{tool=%q} %d\n", tool, snap.CreditsByTool[tool]))
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP docsense_calls_by_tool_total Metered calls by tool\n")
	sb.WriteString("# TYPE docsense_calls_by_tool_total counter\n")
	for _, tool := range sortedKeys(snap.CallsByTool) {
		sb.WriteString(fmt.Sprintf("docsense_calls_by_tool_total{tool=%q} %d\n", tool, snap.CallsByTool[tool]))
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP docsense_ledger_retries_total Retried ledger operations\n")
	sb.WriteString("# TYPE docsense_ledger_retries_total counter\n")
	sb.WriteString(fmt.Sprintf("docsense_ledger_retries_total %d\n", snap.LedgerRetries))
	sb.WriteString("\n")

	sb.WriteString("# HELP docsense_ledger_failures_total Ledger operations that exhausted retries\n")
	sb.WriteString("# TYPE docsense_ledger_failures_total counter\n")
	sb.WriteString(fmt.Sprintf("docsense_ledger_failures_total %d\n", snap.LedgerFailures))
	sb.WriteString("\n")

	sb.WriteString("# HELP docsense_transfers_applied_total Completed credit transfers\n")
	sb.WriteString("# TYPE docsense_transfers_applied_total counter\n")
	sb.WriteString(fmt.Sprintf("docsense_transfers_applied_total %d\n", snap.TransfersApplied))
	sb.WriteString("\n")

	sb.WriteString("# HELP docsense_transferred_credits_total Credits moved by transfers\n")
	sb.WriteString("# TYPE docsense_transferred_credits_total counter\n")
	sb.WriteString(fmt.Sprintf("docsense_transferred_credits_total %d\n", snap.TransferredCredits))

	return sb.String()
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

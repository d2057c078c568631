package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"coopsim.io/internal/replication"
)

type transportStats struct {
	Dropped  uint64
	Received uint64
}

func writeMetrics(w io.Writer, st replication.Stats, tr transportStats) {
	// Minimal Prometheus exposition format.
	fmt.Fprintf(w, "# HELP coopsim_replication_sent_total Requests sent to the relay.\n")
	fmt.Fprintf(w, "# TYPE coopsim_replication_sent_total counter\n")
	for _, k := range sortedKeys(st.Sent) {
		fmt.Fprintf(w, "coopsim_replication_sent_total{type=%q} %d\n", k, st.Sent[k])
	}

	fmt.Fprintf(w, "# HELP coopsim_replication_applied_total Notifications applied to the local simulation.\n")
	fmt.Fprintf(w, "# TYPE coopsim_replication_applied_total counter\n")
	for _, k := range sortedKeys(st.Applied) {
		fmt.Fprintf(w, "coopsim_replication_applied_total{type=%q} %d\n", k, st.Applied[k])
	}

	fmt.Fprintf(w, "# HELP coopsim_replication_dropped_total Events and notifications dropped, by reason.\n")
	fmt.Fprintf(w, "# TYPE coopsim_replication_dropped_total counter\n")
	for _, k := range sortedKeys(st.Dropped) {
		typ, reason, _ := strings.Cut(k, "/")
		fmt.Fprintf(w, "coopsim_replication_dropped_total{type=%q,reason=%q} %d\n", typ, reason, st.Dropped[k])
	}

	fmt.Fprintf(w, "# TYPE coopsim_replication_assert_failed_total counter\n")
	fmt.Fprintf(w, "coopsim_replication_assert_failed_total %d\n", st.AssertFailed)
	fmt.Fprintf(w, "# TYPE coopsim_replication_skipped_items_total counter\n")
	fmt.Fprintf(w, "coopsim_replication_skipped_items_total %d\n", st.SkippedItems)
	fmt.Fprintf(w, "# HELP coopsim_replication_dirty_containers Containers waiting for the next flush.\n")
	fmt.Fprintf(w, "# TYPE coopsim_replication_dirty_containers gauge\n")
	fmt.Fprintf(w, "coopsim_replication_dirty_containers %d\n", st.DirtyPending)

	fmt.Fprintf(w, "# HELP coopsim_guard_reentry_total Re-entries into instrumented mutators.\n")
	fmt.Fprintf(w, "# TYPE coopsim_guard_reentry_total counter\n")
	fmt.Fprintf(w, "coopsim_guard_reentry_total %d\n", st.GuardWarnings)
	fmt.Fprintf(w, "# TYPE coopsim_guard_rejected_total counter\n")
	fmt.Fprintf(w, "coopsim_guard_rejected_total %d\n", st.GuardRejected)

	fmt.Fprintf(w, "# TYPE coopsim_transport_send_dropped_total counter\n")
	fmt.Fprintf(w, "coopsim_transport_send_dropped_total %d\n", tr.Dropped)
	fmt.Fprintf(w, "# TYPE coopsim_transport_received_total counter\n")
	fmt.Fprintf(w, "coopsim_transport_received_total %d\n", tr.Received)
}

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

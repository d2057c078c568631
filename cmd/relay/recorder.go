package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"coopsim.io/internal/persistence/indexdb"
	persistlog "coopsim.io/internal/persistence/log"
	"coopsim.io/internal/persistence/objstore"
	"coopsim.io/internal/transport/ws"
)

// recorder tees relay traffic into the journal and the message index. Either
// may be nil. mirror only uploads finished journal files.
type recorder struct {
	log     *slog.Logger
	journal *persistlog.Journal
	index   *indexdb.SQLiteIndex
	mirror  *objstore.Mirror

	journalErrors atomic.Uint64
}

func (r *recorder) RecordMessage(rec ws.Record) {
	if r.journal != nil {
		if err := r.journal.Write(rec); err != nil && !errors.Is(err, persistlog.ErrClosed) {
			if r.journalErrors.Add(1) == 1 {
				r.log.Error("journal write failed", "err", err)
			}
		}
	}
	if r.index != nil {
		r.index.RecordMessage(indexdb.MessageRow{
			At:            rec.At,
			SessionID:     rec.SessionID,
			ParticipantID: rec.ParticipantID,
			Type:          rec.Type,
			Fanout:        rec.Fanout,
			RawJSON:       string(rec.Msg),
		})
	}
}

func (r *recorder) RecordParticipant(sessionID, participantID, name string, joined bool) {
	if r.index != nil {
		r.index.RecordParticipant(sessionID, participantID, name, joined)
	}
}

type recorderStats struct {
	JournalLines  uint64
	JournalErrors uint64
	Index         *indexdb.Stats
	Mirror        *objstore.Stats
}

func (r *recorder) stats() recorderStats {
	st := recorderStats{JournalErrors: r.journalErrors.Load()}
	if r.journal != nil {
		st.JournalLines = r.journal.Lines()
	}
	if r.index != nil {
		is := r.index.Stats()
		st.Index = &is
	}
	if r.mirror != nil {
		ms := r.mirror.Stats()
		st.Mirror = &ms
	}
	return st
}

func writeMetrics(w io.Writer, relay ws.ServerStats, rec recorderStats) {
	// Minimal Prometheus exposition format.
	fmt.Fprintf(w, "# HELP coopsim_relay_sessions Open relay sessions.\n")
	fmt.Fprintf(w, "# TYPE coopsim_relay_sessions gauge\n")
	fmt.Fprintf(w, "coopsim_relay_sessions %d\n", relay.Sessions)

	fmt.Fprintf(w, "# HELP coopsim_relay_participants Connected participants.\n")
	fmt.Fprintf(w, "# TYPE coopsim_relay_participants gauge\n")
	fmt.Fprintf(w, "coopsim_relay_participants %d\n", relay.Participants)

	fmt.Fprintf(w, "# HELP coopsim_relay_requests_total Requests fanned out as notifications.\n")
	fmt.Fprintf(w, "# TYPE coopsim_relay_requests_total counter\n")
	fmt.Fprintf(w, "coopsim_relay_requests_total %d\n", relay.Relayed)

	fmt.Fprintf(w, "# HELP coopsim_relay_rejected_total Messages that failed validation or were not requests.\n")
	fmt.Fprintf(w, "# TYPE coopsim_relay_rejected_total counter\n")
	fmt.Fprintf(w, "coopsim_relay_rejected_total %d\n", relay.Rejected)

	fmt.Fprintf(w, "# HELP coopsim_relay_dropped_total Notifications dropped on full participant queues.\n")
	fmt.Fprintf(w, "# TYPE coopsim_relay_dropped_total counter\n")
	fmt.Fprintf(w, "coopsim_relay_dropped_total %d\n", relay.Dropped)

	fmt.Fprintf(w, "# HELP coopsim_journal_lines_total Journal lines written.\n")
	fmt.Fprintf(w, "# TYPE coopsim_journal_lines_total counter\n")
	fmt.Fprintf(w, "coopsim_journal_lines_total %d\n", rec.JournalLines)
	fmt.Fprintf(w, "# TYPE coopsim_journal_errors_total counter\n")
	fmt.Fprintf(w, "coopsim_journal_errors_total %d\n", rec.JournalErrors)

	if rec.Mirror != nil {
		fmt.Fprintf(w, "# HELP coopsim_mirror_uploads_total Journal files uploaded to object storage.\n")
		fmt.Fprintf(w, "# TYPE coopsim_mirror_uploads_total counter\n")
		fmt.Fprintf(w, "coopsim_mirror_uploads_total{result=%q} %d\n", "ok", rec.Mirror.UploadSuccessTotal)
		fmt.Fprintf(w, "coopsim_mirror_uploads_total{result=%q} %d\n", "error", rec.Mirror.UploadFailTotal)
		fmt.Fprintf(w, "# TYPE coopsim_mirror_dropped_total counter\n")
		fmt.Fprintf(w, "coopsim_mirror_dropped_total %d\n", rec.Mirror.DroppedTotal)
		fmt.Fprintf(w, "# TYPE coopsim_mirror_queue_depth gauge\n")
		fmt.Fprintf(w, "coopsim_mirror_queue_depth %d\n", rec.Mirror.QueueDepth)
		fmt.Fprintf(w, "# TYPE coopsim_mirror_last_success_unix gauge\n")
		fmt.Fprintf(w, "coopsim_mirror_last_success_unix %d\n", rec.Mirror.LastSuccessUnix)
	}

	if rec.Index == nil {
		return
	}
	fmt.Fprintf(w, "# HELP coopsim_index_queue_depth Index writer backlog.\n")
	fmt.Fprintf(w, "# TYPE coopsim_index_queue_depth gauge\n")
	fmt.Fprintf(w, "coopsim_index_queue_depth %d\n", rec.Index.QueueDepth)
	fmt.Fprintf(w, "# TYPE coopsim_index_queue_capacity gauge\n")
	fmt.Fprintf(w, "coopsim_index_queue_capacity %d\n", rec.Index.QueueCapacity)
	fmt.Fprintf(w, "# TYPE coopsim_index_dropped_total counter\n")
	fmt.Fprintf(w, "coopsim_index_dropped_total{kind=%q} %d\n", "message", rec.Index.DropMessageTotal)
	fmt.Fprintf(w, "coopsim_index_dropped_total{kind=%q} %d\n", "participant", rec.Index.DropParticipantTotal)
	fmt.Fprintf(w, "# TYPE coopsim_index_write_errors_total counter\n")
	fmt.Fprintf(w, "coopsim_index_write_errors_total %d\n", rec.Index.WriteErrorTotal)
}

package indexdb

import (
	"context"
	"time"
)

// SessionSummary aggregates the indexed traffic of one relay session.
type SessionSummary struct {
	SessionID    string
	Messages     int
	Participants int
	First        time.Time
	Last         time.Time
}

// Sessions lists indexed sessions, most recent activity first.
func (s *SQLiteIndex) Sessions(ctx context.Context) ([]SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.session_id, COUNT(*), MIN(m.at), MAX(m.at),
			(SELECT COUNT(*) FROM participants p WHERE p.session_id = m.session_id)
		FROM messages m
		GROUP BY m.session_id
		ORDER BY MAX(m.at) DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var (
			sum         SessionSummary
			first, last string
		)
		if err := rows.Scan(&sum.SessionID, &sum.Messages, &first, &last, &sum.Participants); err != nil {
			return nil, err
		}
		sum.First, _ = time.Parse(timeLayout, first)
		sum.Last, _ = time.Parse(timeLayout, last)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Messages returns up to limit messages of a session in relay order,
// starting after seq afterSeq. A zero limit means no limit.
func (s *SQLiteIndex) Messages(ctx context.Context, sessionID string, afterSeq int64, limit int) ([]MessageRow, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, at, session_id, participant_id, type, fanout, raw_json
		FROM messages
		WHERE session_id = ? AND seq > ?
		ORDER BY seq
		LIMIT ?`, sessionID, afterSeq, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MessageRow
	for rows.Next() {
		var (
			m  MessageRow
			at string
		)
		if err := rows.Scan(&m.Seq, &at, &m.SessionID, &m.ParticipantID, &m.Type, &m.Fanout, &m.RawJSON); err != nil {
			return nil, err
		}
		m.At, _ = time.Parse(timeLayout, at)
		out = append(out, m)
	}
	return out, rows.Err()
}

// TypeCounts counts a session's messages per type.
func (s *SQLiteIndex) TypeCounts(ctx context.Context, sessionID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT type, COUNT(*) FROM messages WHERE session_id = ? GROUP BY type`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var (
			typ string
			n   int
		)
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, err
		}
		out[typ] = n
	}
	return out, rows.Err()
}

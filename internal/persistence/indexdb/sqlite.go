// Package indexdb keeps a queryable sqlite index of relayed messages next to
// the journal. The journal stays the source of truth: index writes are
// queued and dropped when the writer falls behind.
package indexdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

// Fixed-width timestamps keep MIN/MAX over the text column chronological.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.RWMutex // guards ch against send after close
	closed bool

	dropMessage     atomic.Uint64
	dropParticipant atomic.Uint64
	writeErrors     atomic.Uint64
}

type reqKind int

const (
	reqMessage reqKind = iota + 1
	reqParticipant
)

type req struct {
	kind reqKind

	message     MessageRow
	participant participantRow
}

// MessageRow is one relayed request.
type MessageRow struct {
	Seq           int64
	At            time.Time
	SessionID     string
	ParticipantID string
	Type          string
	Fanout        int
	RawJSON       string
}

type participantRow struct {
	SessionID     string
	ParticipantID string
	Name          string
	At            time.Time
	Joined        bool
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	return openSQLite(path, 65536)
}

func openSQLite(path string, queue int) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, queue),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	// NORMAL is a decent durability/perf tradeoff for a secondary index.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS participants (
			session_id TEXT NOT NULL,
			participant_id TEXT NOT NULL,
			name TEXT NOT NULL,
			joined_at TEXT NOT NULL,
			left_at TEXT,
			PRIMARY KEY (session_id, participant_id)
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			at TEXT NOT NULL,
			session_id TEXT NOT NULL,
			participant_id TEXT NOT NULL,
			type TEXT NOT NULL,
			fanout INTEGER NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session_seq ON messages(session_id, seq);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_type ON messages(type);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// SetMeta writes a meta key synchronously.
func (s *SQLiteIndex) SetMeta(key, value string) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES(?,?)`, key, value)
	return err
}

func (s *SQLiteIndex) Meta(key string) (string, bool, error) {
	var v string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key=?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// RecordMessage queues a relayed request. It never blocks.
func (s *SQLiteIndex) RecordMessage(row MessageRow) {
	if !s.enqueue(req{kind: reqMessage, message: row}) {
		// Drop if the indexer falls behind; the journal remains the source of truth.
		s.dropMessage.Add(1)
	}
}

// RecordParticipant queues a join or leave.
func (s *SQLiteIndex) RecordParticipant(sessionID, participantID, name string, joined bool) {
	if s == nil {
		return
	}
	r := participantRow{
		SessionID:     sessionID,
		ParticipantID: participantID,
		Name:          name,
		At:            time.Now().UTC(),
		Joined:        joined,
	}
	if !s.enqueue(req{kind: reqParticipant, participant: r}) {
		s.dropParticipant.Add(1)
	}
}

// enqueue reports false only when the queue is full. Requests after Close
// are discarded without counting.
func (s *SQLiteIndex) enqueue(r req) bool {
	if s == nil {
		return true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- r:
		return true
	default:
		return false
	}
}

type Stats struct {
	QueueDepth           int
	QueueCapacity        int
	DropMessageTotal     uint64
	DropParticipantTotal uint64
	WriteErrorTotal      uint64
}

func (s *SQLiteIndex) Stats() Stats {
	return Stats{
		QueueDepth:           len(s.ch),
		QueueCapacity:        cap(s.ch),
		DropMessageTotal:     s.dropMessage.Load(),
		DropParticipantTotal: s.dropParticipant.Load(),
		WriteErrorTotal:      s.writeErrors.Load(),
	}
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertMessage, _ := s.db.Prepare(`INSERT INTO messages(at,session_id,participant_id,type,fanout,raw_json) VALUES(?,?,?,?,?,?)`)
	insertJoin, _ := s.db.Prepare(`INSERT OR REPLACE INTO participants(session_id,participant_id,name,joined_at,left_at) VALUES(?,?,?,?,NULL)`)
	updateLeave, _ := s.db.Prepare(`UPDATE participants SET left_at=? WHERE session_id=? AND participant_id=?`)
	defer func() {
		for _, st := range []*sql.Stmt{insertMessage, insertJoin, updateLeave} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			// If we can't start a tx, we can't do much; sleep a bit.
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.writeErrors.Add(1)
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		s.writeErrors.Add(1)
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) {
		if st == nil {
			s.writeErrors.Add(1)
			return
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return
		}
		opCount++
	}

	// Idle commits release the single connection for readers.
	idle := time.NewTicker(commitMaxWait)
	defer idle.Stop()

	for {
		select {
		case r, ok := <-s.ch:
			if !ok {
				commit()
				return
			}
			begin()
			if tx == nil {
				s.writeErrors.Add(1)
				continue
			}
			switch r.kind {
			case reqMessage:
				m := r.message
				exec(insertMessage, m.At.UTC().Format(timeLayout), m.SessionID, m.ParticipantID, m.Type, m.Fanout, m.RawJSON)
			case reqParticipant:
				p := r.participant
				if p.Joined {
					exec(insertJoin, p.SessionID, p.ParticipantID, p.Name, p.At.Format(timeLayout))
				} else {
					exec(updateLeave, p.At.Format(timeLayout), p.SessionID, p.ParticipantID)
				}
			}
			if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
				commit()
			}
		case <-idle.C:
			commit()
		}
	}
}

package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"placecraft/internal/persistence/snapshot"
	"placecraft/internal/sim/world"
)

// SQLiteIndex is a secondary read model over the audit stream: per-owner
// placement listings and mutation history without touching the authority.
// It is never authoritative; a dropped write loses an index row, not world
// state.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool
}

type reqKind int

const (
	reqAudit reqKind = iota + 1
	reqSnapshot
	reqCredit
)

type req struct {
	kind reqKind

	audit    world.AuditEntry
	snapshot snapshotRow
	credit   creditRow
}

type snapshotRow struct {
	Tick    uint64
	Path    string
	Actors  int
	Objects int
}

type creditRow struct {
	At         int64
	OwnerID    string
	TemplateID string
	Qty        int
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
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
		// High buffer: a busy build session bursts many placements without
		// stalling the world loop.
		ch: make(chan req, 65536),
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
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
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
		`CREATE TABLE IF NOT EXISTS audits (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			actor TEXT NOT NULL,
			action TEXT NOT NULL,
			instance_id TEXT,
			template_id TEXT,
			ok INTEGER NOT NULL,
			code TEXT,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_audits_actor_tick ON audits(actor, tick);`,
		`CREATE INDEX IF NOT EXISTS idx_audits_instance ON audits(instance_id, tick);`,
		`CREATE TABLE IF NOT EXISTS placements (
			instance_id TEXT PRIMARY KEY,
			template_id TEXT NOT NULL,
			owner_id TEXT NOT NULL,
			x REAL NOT NULL,
			y REAL NOT NULL,
			z REAL NOT NULL,
			updated_tick INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_placements_owner ON placements(owner_id);`,
		`CREATE TABLE IF NOT EXISTS credits (
			at INTEGER NOT NULL,
			owner_id TEXT NOT NULL,
			template_id TEXT NOT NULL,
			qty INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_credits_owner ON credits(owner_id);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			tick INTEGER PRIMARY KEY,
			path TEXT NOT NULL,
			actors INTEGER NOT NULL,
			objects INTEGER NOT NULL
		);`,
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
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) WriteAudit(entry world.AuditEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqAudit, audit: entry}:
	default:
		// Drop if the indexer falls behind; JSONL logs remain the source of truth.
	}
	return nil
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	if s == nil || s.closed.Load() {
		return
	}
	r := snapshotRow{
		Tick:    snap.Header.Tick,
		Path:    path,
		Actors:  len(snap.Actors),
		Objects: len(snap.Objects),
	}
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: r}:
	default:
	}
}

// Credit implements world.InventoryCrediter.
func (s *SQLiteIndex) Credit(ownerID, templateID string, qty int) {
	if s == nil || s.closed.Load() {
		return
	}
	r := creditRow{At: time.Now().Unix(), OwnerID: ownerID, TemplateID: templateID, Qty: qty}
	select {
	case s.ch <- req{kind: reqCredit, credit: r}:
	default:
	}
}

// PlacedItemsOf lists an owner's instance ids from the read model. Serves
// offline tooling; live queries go to the authority.
func (s *SQLiteIndex) PlacedItemsOf(ctx context.Context, ownerID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT instance_id FROM placements WHERE owner_id = ? ORDER BY instance_id`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 512
		commitMaxWait = 2 * time.Second

		lastAuditTick uint64
		auditSeq      int
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
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
		_ = tx.Commit()
		tx = nil
	}

	flushTimer := time.NewTicker(500 * time.Millisecond)
	defer flushTimer.Stop()

	for {
		select {
		case r, ok := <-s.ch:
			if !ok {
				commit()
				return
			}
			begin()
			if tx == nil {
				continue
			}
			switch r.kind {
			case reqAudit:
				if r.audit.Tick != lastAuditTick {
					lastAuditTick = r.audit.Tick
					auditSeq = 0
				}
				auditSeq++
				raw, _ := json.Marshal(r.audit)
				_, _ = tx.Exec(`INSERT OR REPLACE INTO audits(tick,seq,actor,action,instance_id,template_id,ok,code,raw_json) VALUES(?,?,?,?,?,?,?,?,?)`,
					r.audit.Tick, auditSeq, r.audit.Actor, r.audit.Action, r.audit.InstanceID, r.audit.TemplateID, boolInt(r.audit.OK), r.audit.Code, string(raw))
				s.applyPlacementDelta(tx, r.audit)
			case reqSnapshot:
				_, _ = tx.Exec(`INSERT OR REPLACE INTO snapshots(tick,path,actors,objects) VALUES(?,?,?,?)`,
					r.snapshot.Tick, r.snapshot.Path, r.snapshot.Actors, r.snapshot.Objects)
			case reqCredit:
				_, _ = tx.Exec(`INSERT INTO credits(at,owner_id,template_id,qty) VALUES(?,?,?,?)`,
					r.credit.At, r.credit.OwnerID, r.credit.TemplateID, r.credit.Qty)
			}
			opCount++
			if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
				commit()
			}
		case <-flushTimer.C:
			if tx != nil && time.Since(lastCommit) >= commitMaxWait {
				commit()
			}
		}
	}
}

// applyPlacementDelta keeps the placements read model in step with the
// audit stream. Only successful mutations change it.
func (s *SQLiteIndex) applyPlacementDelta(tx *sql.Tx, e world.AuditEntry) {
	if !e.OK || e.InstanceID == "" {
		return
	}
	switch e.Action {
	case "PLACE_ITEM", "CLONE_ITEM":
		_, _ = tx.Exec(`INSERT OR REPLACE INTO placements(instance_id,template_id,owner_id,x,y,z,updated_tick) VALUES(?,?,?,?,?,?,?)`,
			e.InstanceID, e.TemplateID, e.Actor, e.Pos[0], e.Pos[1], e.Pos[2], e.Tick)
	case "MOVE_ITEM":
		_, _ = tx.Exec(`UPDATE placements SET x=?,y=?,z=?,updated_tick=? WHERE instance_id=?`,
			e.Pos[0], e.Pos[1], e.Pos[2], e.Tick, e.InstanceID)
	case "RECALL_ITEM", "DELETE_ITEM":
		_, _ = tx.Exec(`DELETE FROM placements WHERE instance_id=?`, e.InstanceID)
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

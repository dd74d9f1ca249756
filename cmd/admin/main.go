// Operator CLI for a placecraft deployment: inspects snapshot files, queries
// the sqlite read-model index, and hits the local admin HTTP surface. Reads
// only; the authority is never mutated from here.
package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"placecraft/internal/persistence/snapshot"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "db":
			dbCmd(os.Args[2:])
			return
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id (optional)")
	_ = fs.Parse(args)

	base := filepath.Join(*dataDir, "worlds")
	if *worldID != "" {
		base = filepath.Join(base, *worldID)
	}

	entries, err := os.ReadDir(base)
	if err != nil {
		fatal("read:", err)
	}
	for _, e := range entries {
		fmt.Println(e.Name())
	}
}

// dbCmd runs one canned query against the read-model index:
//
//	admin db -world w1 placements -owner P1
//	admin db -world w1 audits -actor P1 -limit 50
//	admin db -world w1 credits -owner P1
//	admin db -world w1 snapshots
func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id (required unless -db)")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	owner := fs.String("owner", "", "owner filter")
	actor := fs.String("actor", "", "actor filter (audits)")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	q := "snapshots"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		if strings.TrimSpace(*worldID) == "" {
			fatal("missing -world or -db")
		}
		path = filepath.Join(*dataDir, "worlds", *worldID, "index", "world.sqlite")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fatal("open:", err)
	}
	defer db.Close()

	switch q {
	case "placements":
		query := `SELECT instance_id, template_id, owner_id, x, y, z, updated_tick FROM placements`
		var qargs []any
		if *owner != "" {
			query += ` WHERE owner_id = ?`
			qargs = append(qargs, *owner)
		}
		query += ` ORDER BY updated_tick DESC LIMIT ?`
		qargs = append(qargs, *limit)

		rows, err := db.Query(query, qargs...)
		if err != nil {
			fatal("query:", err)
		}
		defer rows.Close()
		for rows.Next() {
			var id, tmpl, own string
			var x, y, z float64
			var tick uint64
			if err := rows.Scan(&id, &tmpl, &own, &x, &y, &z, &tick); err != nil {
				fatal("scan:", err)
			}
			fmt.Printf("%s\t%s\t%s\t(%.2f, %.2f, %.2f)\ttick=%d\n", id, tmpl, own, x, y, z, tick)
		}

	case "audits":
		query := `SELECT tick, actor, action, instance_id, ok, code FROM audits`
		var qargs []any
		if *actor != "" {
			query += ` WHERE actor = ?`
			qargs = append(qargs, *actor)
		}
		query += ` ORDER BY tick DESC, seq DESC LIMIT ?`
		qargs = append(qargs, *limit)

		rows, err := db.Query(query, qargs...)
		if err != nil {
			fatal("query:", err)
		}
		defer rows.Close()
		for rows.Next() {
			var tick uint64
			var act, action string
			var instance, code sql.NullString
			var ok int
			if err := rows.Scan(&tick, &act, &action, &instance, &ok, &code); err != nil {
				fatal("scan:", err)
			}
			status := "ok"
			if ok == 0 {
				status = code.String
			}
			fmt.Printf("%d\t%s\t%s\t%s\t%s\n", tick, act, action, instance.String, status)
		}

	case "credits":
		query := `SELECT at, owner_id, template_id, qty FROM credits`
		var qargs []any
		if *owner != "" {
			query += ` WHERE owner_id = ?`
			qargs = append(qargs, *owner)
		}
		query += ` ORDER BY at DESC LIMIT ?`
		qargs = append(qargs, *limit)

		rows, err := db.Query(query, qargs...)
		if err != nil {
			fatal("query:", err)
		}
		defer rows.Close()
		for rows.Next() {
			var at int64
			var own, tmpl string
			var qty int
			if err := rows.Scan(&at, &own, &tmpl, &qty); err != nil {
				fatal("scan:", err)
			}
			fmt.Printf("%s\t%s\t%s\tx%d\n", time.Unix(at, 0).UTC().Format(time.RFC3339), own, tmpl, qty)
		}

	case "snapshots":
		rows, err := db.Query(`SELECT tick, path, actors, objects FROM snapshots ORDER BY tick DESC LIMIT ?`, *limit)
		if err != nil {
			fatal("query:", err)
		}
		defer rows.Close()
		for rows.Next() {
			var tick uint64
			var path string
			var actors, objects int
			if err := rows.Scan(&tick, &path, &actors, &objects); err != nil {
				fatal("scan:", err)
			}
			fmt.Printf("%d\t%s\tactors=%d objects=%d\n", tick, path, actors, objects)
		}

	default:
		fatal("unknown query:", q)
	}
}

// snapshotCmd prints a snapshot file's header and object records.
func snapshotCmd(args []string) {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	path := fs.String("path", "", "snapshot path (required)")
	full := fs.Bool("full", false, "dump every object record as JSON")
	_ = fs.Parse(args)

	if strings.TrimSpace(*path) == "" {
		fatal("missing -path")
	}
	snap, err := snapshot.ReadSnapshot(*path)
	if err != nil {
		fatal("read:", err)
	}

	fmt.Printf("world=%s tick=%d version=%d\n", snap.Header.WorldID, snap.Header.Tick, snap.Header.Version)
	fmt.Printf("bounds=%v..%v actors=%d objects=%d next_actor=%d\n",
		snap.BoundsMin, snap.BoundsMax, len(snap.Actors), len(snap.Objects), snap.Counters.NextActor)

	if *full {
		enc := json.NewEncoder(os.Stdout)
		for _, o := range snap.Objects {
			_ = enc.Encode(o)
		}
		return
	}
	byOwner := map[string]int{}
	for _, o := range snap.Objects {
		byOwner[o.OwnerID]++
	}
	for owner, n := range byOwner {
		fmt.Printf("%s\t%d objects\n", owner, n)
	}
}

// stateCmd fetches /admin/v1/state from a running server.
func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	addr := fs.String("addr", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	resp, err := http.Get(strings.TrimSuffix(*addr, "/") + "/admin/v1/state")
	if err != nil {
		fatal("get:", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		fatal(fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(b))))
	}
	_, _ = io.Copy(os.Stdout, resp.Body)
	fmt.Println()
}

func fatal(args ...any) {
	fmt.Fprintln(os.Stderr, args...)
	os.Exit(1)
}

package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id (required unless -db)")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	job := fs.Uint64("job", 0, "job entity id (history)")
	kind := fs.String("kind", "", "notification kind filter (notifications)")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	q := "snapshots"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	if *limit <= 0 {
		*limit = 20
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		if strings.TrimSpace(*worldID) == "" {
			fmt.Fprintln(os.Stderr, "missing -world or -db")
			os.Exit(2)
		}
		path = filepath.Join(*dataDir, "worlds", *worldID, "index", "world.sqlite")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	switch q {
	case "snapshots":
		rows, err := db.Query(`SELECT tick,path,entities,jobs,agents,stockpiles FROM snapshots ORDER BY tick DESC LIMIT ?`, *limit)
		if err != nil {
			fail("query", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick       int64  `json:"tick"`
				Path       string `json:"path"`
				Entities   int    `json:"entities"`
				Jobs       int    `json:"jobs"`
				Agents     int    `json:"agents"`
				Stockpiles int    `json:"stockpiles"`
			}
			if err := rows.Scan(&r.Tick, &r.Path, &r.Entities, &r.Jobs, &r.Agents, &r.Stockpiles); err != nil {
				fail("scan", err)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fail("rows", err)
		}

	case "history", "notifications":
		query := `SELECT tick,seq,kind,entity,job_type,state,agent,COALESCE(reason,'') FROM notifications`
		var (
			where []string
			qargs []any
		)
		if *job != 0 {
			where = append(where, "entity=?")
			qargs = append(qargs, int64(*job))
		}
		if *kind != "" {
			where = append(where, "kind=?")
			qargs = append(qargs, *kind)
		}
		if q == "history" && *job == 0 {
			fmt.Fprintln(os.Stderr, "history needs -job")
			os.Exit(2)
		}
		if len(where) > 0 {
			query += " WHERE " + strings.Join(where, " AND ")
		}
		query += " ORDER BY tick DESC, seq DESC LIMIT ?"
		qargs = append(qargs, *limit)

		rows, err := db.Query(query, qargs...)
		if err != nil {
			fail("query", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick    int64  `json:"tick"`
				Seq     int    `json:"seq"`
				Kind    string `json:"kind"`
				Entity  int64  `json:"entity"`
				JobType string `json:"job_type"`
				State   string `json:"state"`
				Agent   int64  `json:"agent,omitempty"`
				Reason  string `json:"reason,omitempty"`
			}
			if err := rows.Scan(&r.Tick, &r.Seq, &r.Kind, &r.Entity, &r.JobType, &r.State, &r.Agent, &r.Reason); err != nil {
				fail("scan", err)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fail("rows", err)
		}

	case "ticks":
		rows, err := db.Query(`SELECT tick,digest,controls,notifications FROM ticks ORDER BY tick DESC LIMIT ?`, *limit)
		if err != nil {
			fail("query", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick          int64  `json:"tick"`
				Digest        string `json:"digest"`
				Controls      int    `json:"controls"`
				Notifications int    `json:"notifications"`
			}
			if err := rows.Scan(&r.Tick, &r.Digest, &r.Controls, &r.Notifications); err != nil {
				fail("scan", err)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fail("rows", err)
		}

	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q, "(snapshots|history|notifications|ticks)")
		os.Exit(2)
	}
}

func fail(what string, err error) {
	fmt.Fprintln(os.Stderr, what+":", err)
	os.Exit(1)
}

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"colonysim.ai/internal/persistence/snapshot"
	"colonysim.ai/internal/sim/jobs"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "spawn":
			spawnCmd(os.Args[2:])
			return
		case "control":
			controlCmd(os.Args[2:])
			return
		case "jobs":
			jobsCmd(os.Args[2:])
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
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, e := range entries {
		fmt.Println(e.Name())
	}
}

// jobsCmd prints the jobs of a snapshot, optionally filtered by state.
func jobsCmd(args []string) {
	fs := flag.NewFlagSet("jobs", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id")
	snapPath := fs.String("snapshot", "", "snapshot path (optional; defaults to latest)")
	state := fs.String("state", "", "state filter (optional)")
	summary := fs.Bool("summary", false, "print per-state counts only")
	_ = fs.Parse(args)

	path := strings.TrimSpace(*snapPath)
	if path == "" {
		if strings.TrimSpace(*worldID) == "" {
			fmt.Fprintln(os.Stderr, "missing -world or -snapshot")
			os.Exit(2)
		}
		path = latestSnapshot(filepath.Join(*dataDir, "worlds", *worldID))
	}
	if path == "" {
		fmt.Fprintln(os.Stderr, "no snapshot found")
		os.Exit(2)
	}
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}

	type row struct {
		ID         uint64     `json:"id"`
		JobType    string     `json:"job_type"`
		State      jobs.State `json:"state"`
		Priority   int        `json:"priority"`
		AssignedTo uint64     `json:"assigned_to,omitempty"`
		Progress   float64    `json:"progress"`
		Reason     string     `json:"failure_reason,omitempty"`
	}
	counts := map[jobs.State]int{}
	var rows []row
	for _, e := range snap.Entities {
		raw, ok := e.Components[jobs.ComponentJob]
		if !ok {
			continue
		}
		var j jobs.Job
		if err := json.Unmarshal(raw, &j); err != nil {
			fmt.Fprintf(os.Stderr, "entity %d: %v\n", e.ID, err)
			continue
		}
		counts[j.State]++
		if *state != "" && string(j.State) != *state {
			continue
		}
		rows = append(rows, row{
			ID:         e.ID,
			JobType:    j.JobType,
			State:      j.State,
			Priority:   j.Priority,
			AssignedTo: uint64(j.AssignedTo),
			Progress:   j.Progress,
			Reason:     j.FailureReason,
		})
	}
	if *summary {
		printJSON(struct {
			Tick uint64             `json:"tick"`
			Jobs map[jobs.State]int `json:"jobs"`
		}{snap.Header.Tick, counts})
		return
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	for _, r := range rows {
		printJSON(r)
	}
}

func printJSON(v any) {
	b, _ := json.Marshal(v)
	fmt.Println(string(b))
}

func latestSnapshot(worldDir string) string {
	dir := filepath.Join(worldDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestTick uint64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		tick, err := strconv.ParseUint(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		if best == "" || tick > bestTick {
			bestTick = tick
			best = filepath.Join(dir, name)
		}
	}
	return best
}

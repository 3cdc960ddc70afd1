package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"colonysim.ai/internal/sim/grid"
	"colonysim.ai/internal/sim/jobs"
)

const defaultServerURL = "http://127.0.0.1:8080"

// adminClient talks to the loopback-only /admin/v1 routes of a running server.
type adminClient struct {
	base string
	http *http.Client
}

func newAdminClient(base string, timeout time.Duration) *adminClient {
	return &adminClient{
		base: strings.TrimRight(strings.TrimSpace(base), "/") + "/admin/v1",
		http: &http.Client{Timeout: timeout},
	}
}

// call sends body (when non-nil) as JSON and returns the raw response body.
func (c *adminClient) call(method, path string, body any) ([]byte, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.base+path, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		return out, fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}
	return out, nil
}

func printOrExit(out []byte, err error) {
	if len(out) > 0 {
		fmt.Println(strings.TrimSpace(string(out)))
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	baseURL := fs.String("url", defaultServerURL, "server base url")
	_ = fs.Parse(args)

	printOrExit(newAdminClient(*baseURL, 5*time.Second).call(http.MethodGet, "/state", nil))
}

func spawnCmd(args []string) {
	fs := flag.NewFlagSet("spawn", flag.ExitOnError)
	baseURL := fs.String("url", defaultServerURL, "server base url")
	jobType := fs.String("type", "", "job type (required)")
	priority := fs.Int("priority", 0, "base priority")
	x := fs.Int("x", -1, "target x (optional)")
	z := fs.Int("z", -1, "target z (optional)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*jobType) == "" {
		fmt.Fprintln(os.Stderr, "missing -type")
		os.Exit(2)
	}
	t := jobs.Template{JobType: *jobType, Priority: *priority}
	if *x >= 0 && *z >= 0 {
		t.TargetPosition = &grid.Vec3i{X: *x, Z: *z}
	}
	printOrExit(newAdminClient(*baseURL, 10*time.Second).call(http.MethodPost, "/jobs", t))
}

// controlCmd cancels, pauses, resumes or interrupts one job.
func controlCmd(args []string) {
	fs := flag.NewFlagSet("control", flag.ExitOnError)
	baseURL := fs.String("url", defaultServerURL, "server base url")
	op := fs.String("op", "", "cancel|pause|resume|interrupt (required)")
	jobID := fs.Uint64("job", 0, "job entity id (required)")
	_ = fs.Parse(args)

	if *op == "" || *jobID == 0 {
		fmt.Fprintln(os.Stderr, "missing -op or -job")
		os.Exit(2)
	}
	body := map[string]any{"op": *op, "job_id": *jobID}
	printOrExit(newAdminClient(*baseURL, 10*time.Second).call(http.MethodPost, "/jobs/control", body))
}

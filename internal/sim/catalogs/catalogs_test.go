package catalogs

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad_ConfigDir(t *testing.T) {
	c, err := Load("../../../configs")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	for _, name := range []string{"build_wall", "chop_wood", "cook_meal", "haul", "repair"} {
		if _, ok := c.JobTypes.ByName[name]; !ok {
			t.Fatalf("missing job type %q", name)
		}
	}
	wall := c.JobTypes.ByName["build_wall"]
	if wall.Specialization != "builder" || len(wall.Effects) != 1 || len(wall.Effects[0].Effects) != 1 {
		t.Fatalf("build_wall=%+v", wall)
	}
	if got := c.Resources.Def("stone"); got.Weight != 5 || got.StackSize != 10 {
		t.Fatalf("stone=%+v", got)
	}
	if len(c.JobTypes.Digest) != 64 || len(c.Resources.Digest) != 64 {
		t.Fatalf("digests %q %q", c.JobTypes.Digest, c.Resources.Digest)
	}
}

func TestLoad_MissingDirIsEmpty(t *testing.T) {
	c, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(c.JobTypes.ByName) != 0 || len(c.Resources.ByKind) != 0 {
		t.Fatalf("catalogs not empty: %+v", c)
	}
	if d := c.Resources.Def("gems"); d.Weight != 1 || d.Volume != 1 || d.StackSize != 1 {
		t.Fatalf("default def=%+v", d)
	}
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestLoad_Rejects(t *testing.T) {
	cases := []struct {
		name  string
		files map[string]string
		want  string
	}{
		{"duplicate name", map[string]string{
			"job_types/a.json": `{"name":"dig","duration":1}`,
			"job_types/b.json": `{"name":"dig","duration":2}`,
		}, "duplicate"},
		{"bad requirement", map[string]string{
			"job_types/a.json": `{"name":"dig","requirements":[{"kind":"wood","amount":0}]}`,
		}, "bad requirement"},
		{"bad condition", map[string]string{
			"job_types/a.json": `{"name":"dig","effects":[{"action":"X","condition":{"source":"world","key":"food","op":"~"}}]}`,
		}, "bad condition op"},
		{"nested missing action", map[string]string{
			"job_types/a.json": `{"name":"dig","effects":[{"action":"X","effects":[{}]}]}`,
		}, "missing action"},
		{"empty resource kind", map[string]string{
			"resources.json": `[{"kind":"","weight":1}]`,
		}, "empty kind"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			for rel, body := range tc.files {
				writeFile(t, filepath.Join(dir, rel), body)
			}
			_, err := Load(dir)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err=%v want %q", err, tc.want)
			}
		})
	}
}

func TestLoad_DigestTracksContent(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "job_types", "dig.json"), `{"name":"dig","duration":1}`)
	a, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	writeFile(t, filepath.Join(dir, "job_types", "dig.json"), `{"name":"dig","duration":2}`)
	b, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if a.JobTypes.Digest == b.JobTypes.Digest {
		t.Fatalf("digest unchanged after edit")
	}
}

func TestResourceStackSizeDefaults(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "resources.json"), `[{"kind":"clay","weight":3,"volume":1}]`)
	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if d := c.Resources.Def("clay"); d.StackSize != 1 || d.Weight != 3 {
		t.Fatalf("clay=%+v", d)
	}
}

package main

import (
	"path/filepath"
	"testing"
)

func TestIndexLocation(t *testing.T) {
	cases := []struct {
		name    string
		env     map[string]string
		want    string
		wantErr bool
	}{
		{"default", nil, filepath.Join("w", "index", "world.sqlite"), false},
		{"explicit sqlite", map[string]string{"CS_INDEX_BACKEND": " SQLite "}, filepath.Join("w", "index", "world.sqlite"), false},
		{"path override", map[string]string{"CS_INDEX_PATH": "/tmp/x.sqlite"}, "/tmp/x.sqlite", false},
		{"memory", map[string]string{"CS_INDEX_BACKEND": "memory"}, ":memory:", false},
		{"off", map[string]string{"CS_INDEX_BACKEND": "off"}, "", false},
		{"unknown", map[string]string{"CS_INDEX_BACKEND": "d1"}, "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := indexLocation("w", func(k string) string { return tc.env[k] })
			if (err != nil) != tc.wantErr {
				t.Fatalf("err=%v wantErr=%v", err, tc.wantErr)
			}
			if got != tc.want {
				t.Fatalf("dsn=%q want %q", got, tc.want)
			}
		})
	}
}

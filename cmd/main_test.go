package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCommands(t *testing.T) {
	want := map[string]bool{
		"run": false, "dump": false, "get-link": false, "version": false, "man": false,
	}
	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("missing the %s command", name)
		}
	}

	if len(dumpCmd.Commands()) != 3 {
		t.Errorf("got %d dump commands; want 3", len(dumpCmd.Commands()))
	}
}

func TestMan(t *testing.T) {
	dir := t.TempDir()

	rootCmd.SetArgs([]string{"man", dir})
	defer rootCmd.SetArgs(nil)

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, page := range []string{"xorp-fea.8", "xorp-fea-dump-routes.8", "xorp-fea-get-link.8"} {
		if _, err := os.Stat(filepath.Join(dir, page)); err != nil {
			t.Errorf("missing %s: %v", page, err)
		}
	}
}

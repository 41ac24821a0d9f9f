package main

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/greearb/xorp.ct-sub013/types"
)

func TestFormatSeq(t *testing.T) {
	tests := map[uint32]string{
		0x00000000: "0x00000000(inst=0,ctr=0)",
		0x00020001: "0x00020001(inst=2,ctr=1)",
		0xffffffff: "0xffffffff(inst=65535,ctr=65535)",
	}

	for seq, want := range tests {
		if got := formatSeq(seq); got != want {
			t.Errorf("got %s; want %s", got, want)
		}
	}
}

func TestLogReplacements(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{
		Level:       types.LevelTrace,
		ReplaceAttr: logReplacements,
	}))

	logger.Log(context.Background(), types.LevelTrace, "sent", types.SeqKey, uint32(0x00030007), "other", uint32(7))

	got := buf.String()
	for _, want := range []string{`level=TRACE`, `seq="0x00030007(inst=3,ctr=7)"`, `other=7`} {
		if !strings.Contains(got, want) {
			t.Errorf("%q is missing %q", got, want)
		}
	}
	if strings.Contains(got, "time=") {
		t.Errorf("%q carries a timestamp", got)
	}
}

package proc

import (
	"context"
	"errors"
	"io"
	"os/exec"
	"strings"
	"testing"
	"time"
)

func TestStart_chain_output(t *testing.T) {
	p, err := Start(context.Background(), time.Second,
		Command{Path: "printf", Args: []string{"hello relay"}},
		Command{Path: "cat"},
	)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	out, err := io.ReadAll(p)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(out) != "hello relay" {
		t.Errorf("unexpected output %q", out)
	}

	if err := p.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if !p.Exited() {
		t.Error("all members should be reaped after Close")
	}
	if p.Killed() {
		t.Error("members exited on their own and should not be reported killed")
	}
}

func TestClose_kills_stuck_members(t *testing.T) {
	p, err := Start(context.Background(), 100*time.Millisecond,
		Command{Path: "sleep", Args: []string{"30"}},
		Command{Path: "cat"},
	)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	start := time.Now()
	if err := p.Close(); err != nil {
		t.Errorf("killed pipeline should not report an exit error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Close took %s", elapsed)
	}
	if !p.Exited() {
		t.Error("members still running after Close")
	}
	if !p.Killed() {
		t.Error("expected Killed after timeout")
	}
}

func TestClose_is_idempotent(t *testing.T) {
	p, err := Start(context.Background(), time.Second, Command{Path: "true"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	_, _ = io.Copy(io.Discard, p)
	first := p.Close()
	second := p.Close()
	if first != second {
		t.Errorf("Close returned %v then %v", first, second)
	}
}

func TestClose_reports_exit_status_with_stderr(t *testing.T) {
	p, err := Start(context.Background(), time.Second,
		Command{Path: "sh", Args: []string{"-c", "echo oops >&2; exit 3"}},
	)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := io.Copy(io.Discard, p); err != nil {
		t.Fatalf("read: %v", err)
	}

	err = p.Close()
	if err == nil {
		t.Fatal("expected exit error")
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) || exitErr.ExitCode() != 3 {
		t.Errorf("expected exit code 3, got %v", err)
	}
	if !strings.Contains(err.Error(), "oops") {
		t.Errorf("expected stderr tail in error: %v", err)
	}
}

func TestStart_missing_binary(t *testing.T) {
	_, err := Start(context.Background(), time.Second,
		Command{Path: "relay-definitely-missing-binary"},
	)
	if !errors.Is(err, exec.ErrNotFound) {
		t.Errorf("expected exec.ErrNotFound, got %v", err)
	}
}

func TestStart_missing_second_member(t *testing.T) {
	start := time.Now()
	_, err := Start(context.Background(), time.Second,
		Command{Path: "sleep", Args: []string{"30"}},
		Command{Path: "relay-definitely-missing-binary"},
	)
	if err == nil {
		t.Fatal("expected error")
	}
	// The running first member must have been killed and reaped.
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Start waited %s for the first member", elapsed)
	}
}

func TestStart_context_cancel_kills(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p, err := Start(ctx, time.Second, Command{Path: "sleep", Args: []string{"30"}})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	cancel()

	// EOF arrives once the killed process releases the pipe.
	if _, err := io.Copy(io.Discard, p); err != nil {
		t.Fatalf("read: %v", err)
	}
	_ = p.Close()
	if !p.Exited() {
		t.Error("member still running after context cancel")
	}
}

func TestTailBuffer_keeps_last_bytes(t *testing.T) {
	tb := &tailBuffer{limit: 4}
	tb.Write([]byte("abc"))
	tb.Write([]byte("defg"))
	if got := tb.String(); got != "defg" {
		t.Errorf("got %q", got)
	}
}

func TestCommand_String(t *testing.T) {
	c := Command{Path: "ffmpeg", Args: []string{"-i", "pipe:0"}}
	if c.String() != "ffmpeg -i pipe:0" {
		t.Errorf("got %q", c.String())
	}
}

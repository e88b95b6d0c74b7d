package logsink

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSinkSequencesAndTimestampsMessages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.log")
	ch := NewChannel(8)
	sink := NewSink(path)

	done := make(chan error, 1)
	go func() { done <- sink.Run(ch) }()

	ch.Publish("new sensor node 1 is open")
	ch.Publish("sensor node 1 closed connection")
	ch.Terminate()

	if err := <-done; err != nil {
		t.Fatalf("sink.Run: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %v", len(lines), lines)
	}
	if !strings.HasPrefix(lines[0], "No.1 ") || !strings.HasSuffix(lines[0], "new sensor node 1 is open") {
		t.Fatalf("unexpected first line: %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "No.2 ") {
		t.Fatalf("unexpected second line: %q", lines[1])
	}
}

func TestSinkFailsOnUnopenableFile(t *testing.T) {
	sink := NewSink(filepath.Join(t.TempDir(), "missing-dir", "gateway.log"))
	ch := NewChannel(1)
	ch.Terminate()
	if err := sink.Run(ch); err == nil {
		t.Fatal("expected error opening log file in a nonexistent directory")
	}
}

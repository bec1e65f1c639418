package streamengine

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, e *Engine, timeout time.Duration) []Record {
	t.Helper()
	var records []Record
	deadline := time.After(timeout)
	for {
		select {
		case rec, ok := <-e.Records():
			if !ok {
				return records
			}
			records = append(records, rec)
		case <-deadline:
			t.Fatal("timed out collecting records")
		}
	}
}

func TestRunDecodesValidLinesInSequence(t *testing.T) {
	stdout := strings.NewReader("{\"a\":1}\n{\"a\":2}\n")
	e := New("sess-1", stdout, strings.NewReader(""), Config{})

	go e.Run(context.Background(), func() string { return "child-exited-with-code:0" })

	records := collect(t, e, time.Second)
	require.Len(t, records, 3)
	require.Equal(t, uint64(1), records[0].Sequence)
	require.Equal(t, uint64(2), records[1].Sequence)
	require.Equal(t, SourceMeta, records[2].Source)
	require.Equal(t, "child-exited-with-code:0", records[2].Reason)
}

func TestRunEmitsDecodeErrorForInvalidJSONAndContinues(t *testing.T) {
	stdout := strings.NewReader("not json\n{\"ok\":true}\n")
	e := New("sess-1", stdout, strings.NewReader(""), Config{})

	go e.Run(context.Background(), nil)

	records := collect(t, e, time.Second)
	require.Len(t, records, 3)
	require.Equal(t, SourceMeta, records[0].Source)
	require.Contains(t, records[0].Reason, "decode-error")
	require.Equal(t, SourceStdout, records[1].Source)
	require.Equal(t, SourceMeta, records[2].Source)
	require.Equal(t, "eof", records[2].Reason)
}

func TestRunDropsOverlongLineWithDecodeError(t *testing.T) {
	longLine := strings.Repeat("x", 200) + "\n"
	e := New("sess-1", strings.NewReader(longLine), strings.NewReader(""), Config{MaxLineBytes: 32})

	go e.Run(context.Background(), nil)

	records := collect(t, e, time.Second)
	require.Len(t, records, 2)
	require.Equal(t, "decode-error", records[0].Reason)
	require.Equal(t, "eof", records[1].Reason)
}

func TestRunStopsOnCancellation(t *testing.T) {
	pr, pw := io.Pipe()
	e := New("sess-1", pr, strings.NewReader(""), Config{OutputChannelDepth: 1})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx, nil)
		close(done)
	}()

	cancel()
	_ = pw.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestStderrTailAttachedToTerminalRecord(t *testing.T) {
	e := New("sess-1", strings.NewReader("{}\n"), strings.NewReader("boom\n"), Config{})
	go e.Run(context.Background(), func() string { return "child-exited-with-code:1" })

	records := collect(t, e, time.Second)
	last := records[len(records)-1]
	require.Equal(t, SourceMeta, last.Source)
	require.Contains(t, string(last.Value), "boom")
}

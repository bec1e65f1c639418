// Package streamengine implements the JSONL Stream Engine (spec §4.2): a
// bounded line reader over a child process's stdout that decodes one JSON
// value per line into a Record, tolerates per-line decode errors without
// aborting the stream, and applies backpressure to the child by suspending
// reads whenever the consumer falls behind.
package streamengine

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// Source identifies which child file descriptor a Record came from.
type Source string

const (
	SourceStdout Source = "stdout"
	SourceStderr Source = "stderr"
	SourceMeta   Source = "meta"
)

// Record is the Stream Record from the data model (§3): transient, never
// persisted, carrying a per-session, gap-free, strictly increasing sequence
// number.
type Record struct {
	SessionID string
	Sequence  uint64
	Value     json.RawMessage
	Source    Source
	Reason    string // populated only on the terminal meta record
}

// Config controls framing limits.
type Config struct {
	MaxLineBytes       int // default 1 MiB
	OutputChannelDepth int // default 256
	StderrRingBytes    int // default 64 KiB
}

func (c Config) withDefaults() Config {
	if c.MaxLineBytes <= 0 {
		c.MaxLineBytes = 1 << 20
	}
	if c.OutputChannelDepth <= 0 {
		c.OutputChannelDepth = 256
	}
	if c.StderrRingBytes <= 0 {
		c.StderrRingBytes = 64 << 10
	}
	return c
}

// Engine attaches to a child's stdout/stderr and produces Records on Records().
type Engine struct {
	sessionID string
	cfg       Config
	stdout    io.Reader
	stderr    io.Reader

	out     chan Record
	seq     uint64
	mu      sync.Mutex
	ring    *ringBuffer
	started bool
}

// New constructs an Engine for sessionID reading from stdout/stderr.
func New(sessionID string, stdout, stderr io.Reader, cfg Config) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		sessionID: sessionID,
		cfg:       cfg,
		stdout:    stdout,
		stderr:    stderr,
		out:       make(chan Record, cfg.OutputChannelDepth),
		ring:      newRingBuffer(cfg.StderrRingBytes),
	}
}

// Records returns the channel of decoded records. It is closed exactly once,
// after the terminal meta record has been sent.
func (e *Engine) Records() <-chan Record {
	return e.out
}

// Run reads stdout until EOF or ctx cancellation, emitting Records as lines
// decode, and finally emits exactly one terminal meta record before closing
// the channel. exitReason names the child's exit condition (e.g.
// "child-exited-with-code:0") and is used verbatim as the terminal record's
// Reason unless the stream itself fails or is cancelled first.
func (e *Engine) Run(ctx context.Context, exitReason func() string) {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return
	}
	e.started = true
	e.mu.Unlock()

	defer close(e.out)

	var stderrWG sync.WaitGroup
	if e.stderr != nil {
		stderrWG.Add(1)
		go func() {
			defer stderrWG.Done()
			e.drainStderr()
		}()
	}

	reason := e.readStdout(ctx)
	stderrWG.Wait()

	if reason == "" {
		if exitReason != nil {
			reason = exitReason()
		} else {
			reason = "eof"
		}
	}
	e.emitMeta(ctx, reason)
}

func (e *Engine) readStdout(ctx context.Context) string {
	if e.stdout == nil {
		return ""
	}
	reader := bufio.NewReaderSize(e.stdout, 64*1024)
	for {
		select {
		case <-ctx.Done():
			return "cancelled"
		default:
		}

		line, err := readBoundedLine(reader, e.cfg.MaxLineBytes)
		if len(line) > 0 {
			e.decodeLine(ctx, line)
		}
		if err != nil {
			if err == errLineTooLong {
				if !e.send(ctx, Record{
					SessionID: e.sessionID,
					Sequence:  e.nextSeq(),
					Source:    SourceMeta,
					Reason:    "decode-error",
				}) {
					return "cancelled"
				}
				continue
			}
			if err == io.EOF {
				return ""
			}
			return "read-error"
		}
	}
}

func (e *Engine) decodeLine(ctx context.Context, line []byte) {
	var value json.RawMessage
	if err := json.Unmarshal(line, &value); err != nil {
		prefix := line
		if len(prefix) > 256 {
			prefix = prefix[:256]
		}
		e.send(ctx, Record{
			SessionID: e.sessionID,
			Sequence:  e.nextSeq(),
			Source:    SourceMeta,
			Reason:    fmt.Sprintf("decode-error:%s", string(prefix)),
		})
		return
	}
	e.send(ctx, Record{
		SessionID: e.sessionID,
		Sequence:  e.nextSeq(),
		Value:     value,
		Source:    SourceStdout,
	})
}

// send pushes rec onto the bounded output channel, blocking (and thereby
// propagating backpressure to the reader loop, and transitively to the
// child's OS pipe) until the consumer drains or ctx is cancelled.
func (e *Engine) send(ctx context.Context, rec Record) bool {
	select {
	case e.out <- rec:
		return true
	case <-ctx.Done():
		return false
	}
}

func (e *Engine) drainStderr() {
	if e.stderr == nil {
		return
	}
	buf := make([]byte, 32*1024)
	for {
		n, err := e.stderr.Read(buf)
		if n > 0 {
			e.ring.Write(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

func (e *Engine) emitMeta(ctx context.Context, reason string) {
	stderrTail := e.ring.String()
	rec := Record{
		SessionID: e.sessionID,
		Sequence:  e.nextSeq(),
		Source:    SourceMeta,
		Reason:    reason,
	}
	if stderrTail != "" {
		rec.Value, _ = json.Marshal(map[string]string{"stderr_tail": stderrTail})
	}
	e.out <- rec
}

func (e *Engine) nextSeq() uint64 {
	e.seq++
	return e.seq
}

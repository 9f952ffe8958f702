package output

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, s string) []Record {
	t.Helper()
	var out []Record
	for _, line := range strings.Split(strings.TrimSpace(s), "\n") {
		var r Record
		require.NoError(t, json.Unmarshal([]byte(line), &r), line)
		out = append(out, r)
	}
	return out
}

func TestNewJSONLWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "batch-123", "slurm")

	assert.NotNil(t, w)
	assert.Equal(t, "batch-123", w.batchID)
	assert.Equal(t, "slurm", w.backend)
}

func TestJSONLWriter_WriteOutcome(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "batch-123", "pbs")
	w.now = func() time.Time { return time.Date(2024, 1, 15, 12, 0, 0, 0, time.FixedZone("IST", 7200)) }

	err := w.WriteOutcome(context.Background(), &OutcomeRecord{
		Op:     "send",
		Index:  3,
		From:   "configured",
		To:     "submitted",
		Handle: "4242.pbs",
	})
	require.NoError(t, err)

	records := decodeLines(t, buf.String())
	require.Len(t, records, 1)
	assert.Equal(t, TypeOutcome, records[0].Type)
	assert.Equal(t, "batch-123", records[0].BatchID)
	assert.Equal(t, "pbs", records[0].Backend)
	assert.True(t, records[0].TS.Equal(time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)))
	assert.Equal(t, time.UTC, records[0].TS.Location())

	var o OutcomeRecord
	require.NoError(t, json.Unmarshal(records[0].Data, &o))
	assert.Equal(t, "send", o.Op)
	assert.Equal(t, 3, o.Index)
	assert.Equal(t, "4242.pbs", o.Handle)
	assert.False(t, o.Skipped)
}

func TestJSONLWriter_WriteSummary(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "batch-123", "htcondor")

	err := w.WriteSummary(context.Background(), &SummaryRecord{
		Op:            "retrieve",
		Selected:      5,
		Changed:       []int{1, 2},
		Failed:        []int{4},
		Skipped:       0,
		Duration:      1500 * time.Millisecond,
		DurationHuman: "1.5s",
	})
	require.NoError(t, err)

	records := decodeLines(t, buf.String())
	require.Len(t, records, 1)
	assert.Equal(t, TypeSummary, records[0].Type)

	var sum SummaryRecord
	require.NoError(t, json.Unmarshal(records[0].Data, &sum))
	assert.Equal(t, []int{1, 2}, sum.Changed)
	assert.Equal(t, []int{4}, sum.Failed)
	assert.Equal(t, 1500*time.Millisecond, sum.Duration)
}

func TestJSONLWriter_WriteError(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "batch-123", "slurm")

	err := w.WriteError(context.Background(), &ErrorRecord{
		Code:    ErrCodeStateWrite,
		Op:      "kill",
		Message: "rename .presentjobs: permission denied",
	})
	require.NoError(t, err)

	records := decodeLines(t, buf.String())
	assert.Equal(t, TypeError, records[0].Type)
	assert.Contains(t, string(records[0].Data), `"code":"STATE_WRITE"`)
}

func TestOpenJournal_Appends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.jsonl")

	for _, op := range []string{"send", "retrieve"} {
		w, err := OpenJournal(path, "batch-1", "slurm")
		require.NoError(t, err)
		require.NoError(t, w.WriteSummary(context.Background(), &SummaryRecord{Op: op}))
		require.NoError(t, w.Close())
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	records := decodeLines(t, string(data))
	require.Len(t, records, 2)
	assert.Contains(t, string(records[0].Data), `"op":"send"`)
	assert.Contains(t, string(records[1].Data), `"op":"retrieve"`)
}

func TestOpenJournal_Error(t *testing.T) {
	_, err := OpenJournal(filepath.Join(t.TempDir(), "missing", "journal.jsonl"), "b", "pbs")
	var writeErr *WriteError
	require.ErrorAs(t, err, &writeErr)
	assert.Equal(t, "open", writeErr.Op)
}

func TestJSONLWriter_Close(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "batch-123", "slurm")

	require.NoError(t, w.Close())
	require.NoError(t, w.Close(), "close is idempotent")

	err := w.WriteOutcome(context.Background(), &OutcomeRecord{Op: "send"})
	assert.ErrorIs(t, err, ErrWriterClosed)
}

func TestJSONLWriter_ConcurrentWrites(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "batch-123", "slurm")

	const numWriters = 10
	const writesPerWriter = 100

	var wg sync.WaitGroup
	wg.Add(numWriters)
	for i := 0; i < numWriters; i++ {
		go func(writerID int) {
			defer wg.Done()
			for j := 0; j < writesPerWriter; j++ {
				_ = w.WriteOutcome(context.Background(), &OutcomeRecord{Op: "retrieve", Index: writerID*writesPerWriter + j})
			}
		}(i)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, numWriters*writesPerWriter)
	for i, line := range lines {
		var record Record
		assert.NoError(t, json.Unmarshal([]byte(line), &record), "line %d should be valid JSON: %s", i, line)
	}
}

func TestJSONLWriter_ContextCancellation(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "batch-123", "slurm")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := w.WriteOutcome(ctx, &OutcomeRecord{Op: "kill"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, buf.String())
}

func TestJSONLWriter_WriteFailure(t *testing.T) {
	w := NewJSONLWriter(&failingWriter{err: errors.New("disk full")}, "batch-123", "slurm")

	err := w.WriteOutcome(context.Background(), &OutcomeRecord{Op: "send"})
	require.Error(t, err)

	var writeErr *WriteError
	require.ErrorAs(t, err, &writeErr)
	assert.Equal(t, "write", writeErr.Op)
}

// failingWriter is an io.Writer that always returns an error.
type failingWriter struct {
	err error
}

func (f *failingWriter) Write(p []byte) (n int, err error) {
	return 0, f.err
}

func TestJSONLWriter_ShortWrite(t *testing.T) {
	sw := &shortWriteWriter{bytesPerWrite: 10}
	w := NewJSONLWriter(sw, "batch-123", "slurm")

	err := w.WriteOutcome(context.Background(), &OutcomeRecord{Op: "send", Index: 7, Handle: "1234567"})
	require.NoError(t, err)

	records := decodeLines(t, sw.buf.String())
	require.Len(t, records, 1)
	assert.Equal(t, TypeOutcome, records[0].Type)
}

func TestJSONLWriter_ZeroWrite(t *testing.T) {
	w := NewJSONLWriter(zeroWriteWriter{}, "batch-123", "slurm")

	err := w.WriteOutcome(context.Background(), &OutcomeRecord{Op: "send"})
	assert.ErrorIs(t, err, io.ErrShortWrite)
}

// shortWriteWriter writes at most bytesPerWrite bytes per call.
type shortWriteWriter struct {
	buf           bytes.Buffer
	bytesPerWrite int
}

func (sw *shortWriteWriter) Write(p []byte) (n int, err error) {
	return sw.buf.Write(p[:min(len(p), sw.bytesPerWrite)])
}

type zeroWriteWriter struct{}

func (zeroWriteWriter) Write(p []byte) (n int, err error) {
	return 0, nil
}

func TestWriteError(t *testing.T) {
	underlying := errors.New("underlying error")
	err := &WriteError{Op: "marshal", Err: underlying}

	assert.Equal(t, "output: marshal: underlying error", err.Error())
	assert.ErrorIs(t, err, underlying)
}

func TestOutcomeRecord_OmitEmpty(t *testing.T) {
	b, err := json.Marshal(OutcomeRecord{Op: "status", Index: 0})
	require.NoError(t, err)
	assert.JSONEq(t, `{"op":"status","index":0}`, string(b))
}

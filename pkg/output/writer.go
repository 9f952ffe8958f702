package output

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"
)

// Writer outputs journal records.
//
// Implementations must be safe for concurrent use. Each Write* method
// emits a complete record as a single line of JSON followed by a newline.
type Writer interface {
	// WriteOutcome emits a per-job outcome record.
	WriteOutcome(ctx context.Context, o *OutcomeRecord) error

	// WriteSummary emits an operation summary record.
	WriteSummary(ctx context.Context, sum *SummaryRecord) error

	// WriteError emits an operation error record.
	WriteError(ctx context.Context, err *ErrorRecord) error

	// Close flushes any buffered output and releases resources.
	Close() error
}

// JSONLWriter writes records as newline-delimited JSON to an io.Writer.
//
// JSONLWriter is safe for concurrent use. Writes are serialized using
// a mutex to ensure atomic line writes (no interleaved output).
type JSONLWriter struct {
	w       io.Writer
	closer  io.Closer
	batchID string
	backend string
	now     func() time.Time
	mu      sync.Mutex

	// closed indicates the writer has been closed.
	closed bool
}

// NewJSONLWriter creates a new JSONL writer.
//
// Parameters:
//   - w: The underlying writer (stdout, file, etc.)
//   - batchID: Correlation ID of the batch
//   - backend: Scheduler backend of the batch (e.g., "htcondor")
func NewJSONLWriter(w io.Writer, batchID, backend string) *JSONLWriter {
	return &JSONLWriter{
		w:       w,
		batchID: batchID,
		backend: backend,
		now:     time.Now,
	}
}

// OpenJournal opens (or creates) the journal file at path for appending.
// Closing the returned writer closes the file.
func OpenJournal(path, batchID, backend string) (*JSONLWriter, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, &WriteError{Op: "open", Err: err}
	}
	jw := NewJSONLWriter(f, batchID, backend)
	jw.closer = f
	return jw, nil
}

// WriteOutcome emits a per-job outcome record.
func (jw *JSONLWriter) WriteOutcome(ctx context.Context, o *OutcomeRecord) error {
	return jw.writeRecord(ctx, TypeOutcome, o)
}

// WriteSummary emits an operation summary record.
func (jw *JSONLWriter) WriteSummary(ctx context.Context, sum *SummaryRecord) error {
	return jw.writeRecord(ctx, TypeSummary, sum)
}

// WriteError emits an operation error record.
func (jw *JSONLWriter) WriteError(ctx context.Context, err *ErrorRecord) error {
	return jw.writeRecord(ctx, TypeError, err)
}

// Close marks the writer as closed. The underlying writer is closed only
// when the writer was opened with OpenJournal.
func (jw *JSONLWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if jw.closed {
		return nil
	}
	jw.closed = true
	if jw.closer != nil {
		return jw.closer.Close()
	}
	return nil
}

// writeRecord marshals data and writes a complete record line.
//
// This method holds the mutex for the entire operation to ensure
// atomic line writes.
func (jw *JSONLWriter) writeRecord(ctx context.Context, recordType string, data any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dataBytes, err := json.Marshal(data)
	if err != nil {
		return &WriteError{Op: "marshal_data", Err: err}
	}

	jw.mu.Lock()
	defer jw.mu.Unlock()

	if jw.closed {
		return ErrWriterClosed
	}

	record := Record{
		Type:    recordType,
		TS:      jw.now().UTC(),
		BatchID: jw.batchID,
		Backend: jw.backend,
		Data:    dataBytes,
	}

	recordBytes, err := json.Marshal(record)
	if err != nil {
		return &WriteError{Op: "marshal_record", Err: err}
	}

	// io.Writer may return n < len(p) with a nil error; a truncated line
	// would corrupt the journal.
	recordBytes = append(recordBytes, '\n')
	if err := writeAll(jw.w, recordBytes); err != nil {
		return &WriteError{Op: "write", Err: err}
	}

	return nil
}

// writeAll writes all bytes to w, handling short writes.
func writeAll(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}

// Compile-time check that JSONLWriter implements Writer.
var _ Writer = (*JSONLWriter)(nil)

package telemetry

// Writer is an interface to support different output writers.
type Writer interface {
	Write(Row) error
}

// Optional: Writers can also support batch mode
type batchWriter interface {
	WriteBatch([]Row) error
}

// WriteAll writes rows through w, using batch mode when available.
func WriteAll(w Writer, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	if bw, ok := w.(batchWriter); ok {
		return bw.WriteBatch(rows)
	}
	for _, r := range rows {
		if err := w.Write(r); err != nil {
			return err
		}
	}
	return nil
}

// MultiWriter fans rows out to multiple writers.
type MultiWriter struct {
	writers []Writer
}

// NewMultiWriter creates a new MultiWriter.
func NewMultiWriter(ws ...Writer) *MultiWriter {
	return &MultiWriter{writers: ws}
}

// Write sends a row to all writers.
func (mw *MultiWriter) Write(row Row) error {
	for _, w := range mw.writers {
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return nil
}

// WriteBatch sends multiple rows to all writers, using batch if supported.
func (mw *MultiWriter) WriteBatch(rows []Row) error {
	for _, w := range mw.writers {
		if err := WriteAll(w, rows); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of wrapped writers.
func (mw *MultiWriter) Len() int { return len(mw.writers) }

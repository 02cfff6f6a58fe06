package fileutil

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"os"
	"sync"

	"github.com/gofrs/flock"
)

// CSVWriter writes rows to a CSV file under an advisory file lock so
// that concurrent pipeline runs pointed at the same results directory
// do not interleave writes. The header is written once, on the first
// row batch.
type CSVWriter struct {
	file          *os.File
	fileLock      *flock.Flock
	bufWriter     *bufio.Writer
	csvWriter     *csv.Writer
	header        []string
	headerWritten bool
	mu            sync.Mutex
}

func NewCSVWriter(filePath string, header []string) (*CSVWriter, error) {
	lock := flock.New(filePath + ".lock")
	if err := lock.Lock(); err != nil {
		return nil, fmt.Errorf("lock CSV file %s: %w", filePath, err)
	}
	f, err := os.Create(filePath)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("create CSV file: %w", err)
	}
	bufWriter := bufio.NewWriter(f)
	return &CSVWriter{
		file:      f,
		fileLock:  lock,
		bufWriter: bufWriter,
		csvWriter: csv.NewWriter(bufWriter),
		header:    header,
	}, nil
}

func (w *CSVWriter) Write(row []string) error {
	return w.WriteBatch([][]string{row})
}

func (w *CSVWriter) WriteBatch(rows [][]string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(rows) == 0 {
		return nil
	}
	if !w.headerWritten {
		if err := w.csvWriter.Write(w.header); err != nil {
			return fmt.Errorf("write CSV header: %w", err)
		}
		w.headerWritten = true
	}
	for _, row := range rows {
		if len(row) != len(w.header) {
			return fmt.Errorf("row has %d fields, header has %d", len(row), len(w.header))
		}
		if err := w.csvWriter.Write(row); err != nil {
			return fmt.Errorf("write CSV row: %w", err)
		}
	}
	w.csvWriter.Flush()
	if err := w.csvWriter.Error(); err != nil {
		return fmt.Errorf("csv writer flush: %w", err)
	}
	return w.bufWriter.Flush()
}

// Close flushes and releases the lock. An empty table still gets its
// header row so readers can rely on the file shape.
func (w *CSVWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.headerWritten {
		if err := w.csvWriter.Write(w.header); err != nil {
			_ = w.file.Close()
			_ = w.fileLock.Unlock()
			return err
		}
		w.headerWritten = true
	}
	w.csvWriter.Flush()
	if err := w.csvWriter.Error(); err != nil {
		_ = w.file.Close()
		_ = w.fileLock.Unlock()
		return err
	}
	if err := w.bufWriter.Flush(); err != nil {
		_ = w.file.Close()
		_ = w.fileLock.Unlock()
		return err
	}
	if err := w.file.Close(); err != nil {
		_ = w.fileLock.Unlock()
		return err
	}
	return w.fileLock.Unlock()
}

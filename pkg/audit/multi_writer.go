package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// MultiWriter appends each entry to several writers. The first writer is the
// system of record; the rest are mirrors.
type MultiWriter struct {
	writers []Writer
	async   bool
}

// NewMultiWriter fans out to writers, skipping nil ones
func NewMultiWriter(writers ...Writer) *MultiWriter {
	m := &MultiWriter{}
	for _, w := range writers {
		if w != nil {
			m.writers = append(m.writers, w)
		}
	}
	return m
}

// SetAsync writes to all destinations concurrently
func (m *MultiWriter) SetAsync(async bool) {
	m.async = async
}

// Append writes to every destination, continuing past failures. The returned
// error joins every failure.
func (m *MultiWriter) Append(ctx context.Context, entry *Entry) error {
	if len(m.writers) == 0 {
		return nil
	}

	errs := make([]error, len(m.writers))
	if m.async {
		var wg sync.WaitGroup
		for i, w := range m.writers {
			wg.Add(1)
			go func(i int, w Writer) {
				defer wg.Done()
				errs[i] = w.Append(ctx, entry)
			}(i, w)
		}
		wg.Wait()
	} else {
		for i, w := range m.writers {
			errs[i] = w.Append(ctx, entry)
		}
	}

	var joined []error
	for i, err := range errs {
		if err != nil {
			joined = append(joined, fmt.Errorf("writer %d: %w", i, err))
		}
	}
	return errors.Join(joined...)
}

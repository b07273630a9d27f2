// Package output writes metric bundles for scripts and pipelines.
package output

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/Dicklesworthstone/sysmoni/internal/errors"
	"github.com/Dicklesworthstone/sysmoni/internal/model"
)

// Writer publishes bundles as JSON. It satisfies loop.Publisher.
type Writer struct {
	mu        sync.Mutex
	enc       *json.Encoder
	skipFirst bool
}

// NewSnapshot returns a Writer for one-shot mode: bundles without a rate
// baseline are skipped and each bundle is written as an indented document.
func NewSnapshot(w io.Writer) *Writer {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return &Writer{enc: enc, skipFirst: true}
}

// NewStream returns a Writer emitting one bundle per line (NDJSON).
func NewStream(w io.Writer) *Writer {
	return &Writer{enc: json.NewEncoder(w)}
}

// Publish writes b.
func (w *Writer) Publish(b model.Bundle) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.skipFirst && b.First {
		return nil
	}
	if err := w.enc.Encode(b); err != nil {
		return errors.WrapWithCode(err, errors.ErrRender,
			"Failed to write JSON output",
			"Check that the output pipe is still open")
	}
	return nil
}

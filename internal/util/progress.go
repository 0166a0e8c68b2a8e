package util

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/bolasblack/tfvc/internal/ui"
)

// Progress writes a progress message if w is not nil.
func Progress(w io.Writer, format string, args ...any) {
	if w != nil {
		_, _ = fmt.Fprintf(w, format, args...)
	}
}

// ProgressStep writes a progress message with → prefix (step in progress).
func ProgressStep(w io.Writer, format string, args ...any) {
	Progress(w, "→ "+format, args...)
}

// ProgressDone writes a progress message with ✓ prefix (step completed).
func ProgressDone(w io.Writer, format string, args ...any) {
	Progress(w, "✓ "+format, args...)
}

// StepProgress reports blocking operations as steps on W. A nil W keeps
// quiet. Interrupts reach the operation through the command context, so
// the cancel function is not needed here.
type StepProgress struct {
	W io.Writer

	mu    sync.Mutex
	depth int
}

var _ ui.Progress = (*StepProgress)(nil)

// Start implements ui.Progress. Nested operations are not reported.
func (p *StepProgress) Start(title string, _ context.CancelFunc) func() {
	p.mu.Lock()
	p.depth++
	outer := p.depth == 1
	p.mu.Unlock()
	if outer {
		ProgressStep(p.W, "%s...\n", title)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			p.depth--
			p.mu.Unlock()
		})
	}
}

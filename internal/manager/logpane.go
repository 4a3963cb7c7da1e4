package manager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/solsol/solsol/internal/dispatch"
	"github.com/solsol/solsol/internal/ui"
)

// LogPane is a logger.Sink that shows records in the window's log list and
// appends them to a per-run file in dir.
type LogPane struct {
	dispatcher *dispatch.Dispatcher
	surface    ui.Surface
	path       string

	mu sync.Mutex
}

// NewLogPane creates the sink. The file is named after startedAt.
func NewLogPane(d *dispatch.Dispatcher, s ui.Surface, dir string, startedAt time.Time) (*LogPane, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	stamp := strings.NewReplacer(":", "_", "-", "_", " ", "_", "+", "_").
		Replace(startedAt.UTC().Format("2006-01-02 15:04:05"))
	return &LogPane{
		dispatcher: d,
		surface:    s,
		path:       filepath.Join(dir, "log_outputs_"+stamp+".txt"),
	}, nil
}

// Path returns the log file path.
func (p *LogPane) Path() string {
	return p.path
}

// WriteLog implements logger.Sink. It never logs, so it cannot recurse.
func (p *LogPane) WriteLog(summary, detail string) {
	_ = p.dispatcher.Post(func(context.Context) {
		p.surface.AppendLog(summary, detail)
	})

	p.mu.Lock()
	defer p.mu.Unlock()
	f, err := os.OpenFile(p.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "%s\n%s\n\n", summary, detail)
}

// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package progress

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/glamour"
	"go.uber.org/zap"

	"github.com/pdiddy/research-desk/pkg/types"
)

// Console prints progress for tasks that run without a client connection.
// Status and log events go to the logger; the final report is written to out,
// rendered as terminal markdown when a renderer is configured.
type Console struct {
	out      io.Writer
	log      *zap.Logger
	renderer *glamour.TermRenderer

	mu sync.Mutex
}

// ConsoleOption configures a Console.
type ConsoleOption func(*Console)

// WithMarkdown renders the report with glamour, wrapped at width columns.
func WithMarkdown(width int) ConsoleOption {
	return func(c *Console) {
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(width),
		)
		if err != nil {
			c.log.Debug("markdown renderer unavailable", zap.Error(err))
			return
		}
		c.renderer = r
	}
}

// NewConsole returns a Console writing reports to out.
func NewConsole(out io.Writer, log *zap.Logger, opts ...ConsoleOption) *Console {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Console{out: out, log: log}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Emit implements Emitter.
func (c *Console) Emit(ev types.ProgressEvent) {
	fields := []zap.Field{zap.String("task_id", ev.TaskID), zap.String("stage", ev.Stage)}

	switch ev.Category {
	case types.CategoryError:
		c.log.Error(fmt.Sprint(ev.Payload), fields...)
	case types.CategoryReport:
		c.writeReport(fmt.Sprint(ev.Payload))
	case types.CategoryHumanFeedback:
		// The console feedback gate prompts on its own.
		c.log.Debug("awaiting feedback", fields...)
	case types.CategoryLogs:
		c.log.Info(fmt.Sprint(ev.Payload), fields...)
	default:
		c.log.Info(fmt.Sprint(ev.Payload), append(fields, zap.String("type", string(ev.Category)))...)
	}
}

func (c *Console) writeReport(report string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.renderer != nil {
		if out, err := c.renderer.Render(report); err == nil {
			report = out
		} else {
			c.log.Debug("rendering report", zap.Error(err))
		}
	}
	fmt.Fprintln(c.out, report)
}

// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/pdiddy/research-desk/internal/progress"
	"github.com/pdiddy/research-desk/pkg/types"
)

// ReplySource delivers feedback replies from a task's bound connection.
// *registry.Registry implements it.
type ReplySource interface {
	Bound(taskID string) bool
	ExpectReply(taskID string)
	AwaitReply(ctx context.Context, taskID string) ([]byte, error)
}

// Revision is the parsed outcome of a feedback reply.
type Revision struct {
	// Sections is the revised plan. Nil means the plan is unchanged.
	Sections []types.SectionPlan
	// Note is free-text feedback passed on to composition.
	Note string
}

// Changed reports whether the reply revised the plan.
func (r Revision) Changed() bool { return r.Sections != nil }

// Gate asks a human to review the section plan. A task bound to a connection
// is asked over the socket; otherwise the question goes to Out and one line
// is read from In.
type Gate struct {
	Replies ReplySource
	In      io.Reader
	Out     io.Writer
	Emitter progress.Emitter
	Log     *zap.Logger

	mu      sync.Mutex
	reader  *bufio.Reader
	pending chan consoleLine
}

type consoleLine struct {
	text string
	err  error
}

// Ask blocks until feedback for st arrives. Replies that cannot be parsed,
// "no" and empty replies mean the plan is unchanged. A socket wait that hits
// the task's FeedbackTimeout is also treated as unchanged.
func (g *Gate) Ask(ctx context.Context, st types.ResearchState) (Revision, error) {
	if g.Replies != nil && g.Replies.Bound(st.TaskID) {
		return g.askSocket(ctx, st)
	}
	return g.askConsole(ctx, st)
}

func (g *Gate) log() *zap.Logger {
	if g.Log == nil {
		return zap.NewNop()
	}
	return g.Log
}

func (g *Gate) askSocket(ctx context.Context, st types.ResearchState) (Revision, error) {
	g.Replies.ExpectReply(st.TaskID)
	if g.Emitter != nil {
		g.Emitter.Emit(types.NewEvent(st.TaskID, types.CategoryHumanFeedback, StageFeedback, st.Sections))
	}

	wait := ctx
	if d := st.Task.FeedbackTimeout; d > 0 {
		var cancel context.CancelFunc
		wait, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	payload, err := g.Replies.AwaitReply(wait, st.TaskID)
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			g.log().Info("no feedback before timeout, keeping plan",
				zap.String("task_id", st.TaskID), zap.Duration("timeout", st.Task.FeedbackTimeout))
			return Revision{}, nil
		}
		return Revision{}, fmt.Errorf("waiting for feedback: %w", err)
	}
	return ParseReply(payload), nil
}

func (g *Gate) askConsole(ctx context.Context, st types.ResearchState) (Revision, error) {
	if g.In == nil {
		g.log().Warn("no feedback input available, keeping plan", zap.String("task_id", st.TaskID))
		return Revision{}, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.reader == nil {
		g.reader = bufio.NewReader(g.In)
	}

	if g.Out != nil {
		fmt.Fprintf(g.Out, "\nProposed sections for %q:\n", st.Title)
		for i, s := range st.Sections {
			fmt.Fprintf(g.Out, "  %d. %s\n", i+1, s.Title)
		}
		fmt.Fprint(g.Out, "Reply with a revised list (JSON or titles separated by ';'), other feedback, or 'no': ")
	}

	// A read abandoned by a cancelled Ask is still pending; its line answers
	// the next question instead of starting a second reader.
	if g.pending == nil {
		ch := make(chan consoleLine, 1)
		go func() {
			s, err := g.reader.ReadString('\n')
			ch <- consoleLine{s, err}
		}()
		g.pending = ch
	}

	select {
	case <-ctx.Done():
		return Revision{}, ctx.Err()
	case l := <-g.pending:
		g.pending = nil
		if l.err != nil && !errors.Is(l.err, io.EOF) {
			return Revision{}, fmt.Errorf("reading feedback: %w", l.err)
		}
		return ParseReply([]byte(l.text)), nil
	}
}

// ParseReply interprets a feedback reply. Accepted shapes are a JSON list of
// titles or of {"title","instructions"} objects, a JSON string, or plain text.
// Plain text containing ';' is a list of titles; other text is a note.
func ParseReply(raw []byte) Revision {
	text := strings.TrimSpace(string(raw))

	var v any
	if err := json.Unmarshal([]byte(text), &v); err == nil {
		switch val := v.(type) {
		case nil:
			return Revision{}
		case string:
			text = strings.TrimSpace(val)
		case []any:
			return Revision{Sections: sectionsFromJSON(val)}
		default:
			return Revision{}
		}
	}

	if text == "" || strings.EqualFold(text, "no") {
		return Revision{}
	}
	if strings.Contains(text, ";") {
		var sections []types.SectionPlan
		for _, part := range strings.Split(text, ";") {
			if t := strings.TrimSpace(part); t != "" {
				sections = append(sections, types.SectionPlan{Title: t})
			}
		}
		if len(sections) > 0 {
			return Revision{Sections: sections}
		}
		return Revision{}
	}
	return Revision{Note: text}
}

func sectionsFromJSON(items []any) []types.SectionPlan {
	var out []types.SectionPlan
	for _, it := range items {
		switch v := it.(type) {
		case string:
			if t := strings.TrimSpace(v); t != "" {
				out = append(out, types.SectionPlan{Title: t})
			}
		case map[string]any:
			title, _ := v["title"].(string)
			instr, _ := v["instructions"].(string)
			if t := strings.TrimSpace(title); t != "" {
				out = append(out, types.SectionPlan{Title: t, Instructions: strings.TrimSpace(instr)})
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

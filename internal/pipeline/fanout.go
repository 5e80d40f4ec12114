// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/research-desk/pkg/types"
)

// Job produces the content for one subtopic.
type Job func(ctx context.Context, title string) (string, error)

// FanOut runs job once per title concurrently, at most limit at a time
// (limit <= 0 means unbounded), and waits for all of them. A job that fails
// or panics yields nil content for its title and is reported to onFail; the
// other jobs are unaffected. The result holds every distinct title in input
// order. When a title is listed twice the job that finishes last wins.
func FanOut(ctx context.Context, titles []string, limit int, job Job, onFail func(title string, err error)) types.Drafts {
	drafts := types.NewDrafts(titles)

	var (
		g  errgroup.Group
		mu sync.Mutex
	)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for _, title := range titles {
		g.Go(func() error {
			content, err := runJob(ctx, job, title)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				drafts.Set(title, nil)
				if onFail != nil {
					onFail(title, err)
				}
				return nil
			}
			drafts.Set(title, &content)
			return nil
		})
	}
	_ = g.Wait()
	return drafts
}

func runJob(ctx context.Context, job Job, title string) (content string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return job(ctx, title)
}

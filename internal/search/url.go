// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/research-desk/internal/compress"
	"github.com/pdiddy/research-desk/internal/httputil"
	"github.com/pdiddy/research-desk/pkg/types"
)

const (
	maxPageBytes   = 4 << 20
	maxPageChars   = 20000
	urlConcurrency = 4
)

// skippedElements never contribute page text.
var skippedElements = map[string]bool{
	"script": true, "style": true, "noscript": true, "template": true,
	"nav": true, "footer": true, "svg": true, "iframe": true, "form": true,
}

// URLBackend fetches a fixed list of pages and extracts their readable text.
// It is used when a task names its own source URLs.
type URLBackend struct {
	URLs   []string
	Client *http.Client
}

// Name returns the backend identifier.
func (b *URLBackend) Name() string { return "url" }

// Search fetches every configured URL concurrently. Pages that fail to load
// are skipped; the call only fails when no page could be read.
func (b *URLBackend) Search(ctx context.Context, query Query) ([]types.Source, error) {
	if len(b.URLs) == 0 {
		return nil, nil
	}

	slots := make([]*types.Source, len(b.URLs))
	errs := make([]error, len(b.URLs))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(urlConcurrency)
	for i, u := range b.URLs {
		eg.Go(func() error {
			src, err := b.fetch(egCtx, u)
			if err != nil {
				errs[i] = err
				return nil
			}
			slots[i] = &src
			return nil
		})
	}
	_ = eg.Wait()

	var out []types.Source
	var firstErr error
	for i, s := range slots {
		if s != nil {
			out = append(out, *s)
		} else if firstErr == nil {
			firstErr = errs[i]
		}
	}
	if len(out) == 0 && firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

func (b *URLBackend) fetch(ctx context.Context, rawURL string) (types.Source, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return types.Source{}, fmt.Errorf("creating request for %s: %w", rawURL, err)
	}
	resp, err := httputil.DoWithRetry(ctx, clientOrDefault(b.Client), req, 0)
	if err != nil {
		return types.Source{}, fmt.Errorf("fetching %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return types.Source{}, fmt.Errorf("fetching %s: HTTP %d", rawURL, resp.StatusCode)
	}

	body := io.LimitReader(resp.Body, maxPageBytes)
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	var title, text string
	if mediaType == "" || mediaType == "text/html" || mediaType == "application/xhtml+xml" {
		title, text, err = ExtractText(body)
	} else if strings.HasPrefix(mediaType, "text/") {
		var data []byte
		data, err = io.ReadAll(body)
		text = string(data)
	} else {
		return types.Source{}, fmt.Errorf("fetching %s: unsupported content type %s", rawURL, mediaType)
	}
	if err != nil {
		return types.Source{}, fmt.Errorf("reading %s: %w", rawURL, err)
	}

	text = compress.Clip(strings.TrimSpace(text), maxPageChars)
	return types.Source{URL: rawURL, Title: title, RawText: text, Backend: b.Name()}, nil
}

// ExtractText parses an HTML document and returns its title and visible
// text, one block per line.
func ExtractText(r io.Reader) (string, string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", "", err
	}

	var title string
	var lines []string
	var cur strings.Builder
	flush := func() {
		if line := strings.Join(strings.Fields(cur.String()), " "); line != "" {
			lines = append(lines, line)
		}
		cur.Reset()
	}

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if n.Data == "title" && title == "" && n.FirstChild != nil {
				title = strings.TrimSpace(n.FirstChild.Data)
				return
			}
			if skippedElements[n.Data] {
				return
			}
		}
		if n.Type == html.TextNode {
			cur.WriteString(n.Data)
			cur.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && isBlock(n.Data) {
			flush()
		}
	}
	walk(doc)
	flush()
	return title, strings.Join(lines, "\n"), nil
}

func isBlock(tag string) bool {
	switch tag {
	case "p", "div", "section", "article", "li", "ul", "ol", "table", "tr",
		"h1", "h2", "h3", "h4", "h5", "h6", "br", "blockquote", "pre", "main", "body":
		return true
	}
	return false
}

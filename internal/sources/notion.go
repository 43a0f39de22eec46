package sources

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jomei/notionapi"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragdocs/internal/config"
	"github.com/fyrsmithlabs/ragdocs/internal/docstore"
)

const (
	notionMaxRetries = 3
	notionMaxDepth   = 8
)

// notionSearcher and notionBlocks are the parts of the Notion client used
// here. *notionapi.Client's Search and Block services satisfy them.
type notionSearcher interface {
	Do(ctx context.Context, req *notionapi.SearchRequest) (*notionapi.SearchResponse, error)
}

type notionBlocks interface {
	GetChildren(ctx context.Context, id notionapi.BlockID, p *notionapi.Pagination) (*notionapi.GetChildrenResponse, error)
}

// Notion fetches every page and database shared with the integration.
type Notion struct {
	search   notionSearcher
	blocks   notionBlocks
	limiter  *RateLimiter
	pageSize int
	logger   *zap.Logger

	// limit stops the fetch after that many objects; zero means all.
	limit int

	// retryDelay is the backoff after a 429; zero means defaultBackoff.
	retryDelay time.Duration
}

// NewNotion builds a Notion source from its config section.
func NewNotion(cfg config.NotionConfig, logger *zap.Logger) (*Notion, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client := notionapi.NewClient(notionapi.Token(cfg.Token.Value()))
	return newNotion(client.Search, client.Block, cfg, logger), nil
}

func newNotion(search notionSearcher, blocks notionBlocks, cfg config.NotionConfig, logger *zap.Logger) *Notion {
	if logger == nil {
		logger = zap.NewNop()
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 100
	}
	return &Notion{
		search:   search,
		blocks:   blocks,
		limiter:  NewRateLimiter(cfg.RequestsPerSecond, 1),
		pageSize: pageSize,
		logger:   logger,
	}
}

// Name implements DocumentSource.
func (n *Notion) Name() string { return "notion" }

// Origin implements DocumentSource.
func (n *Notion) Origin() string { return docstore.SourceNotion }

// FetchAll implements DocumentSource. A page whose blocks cannot be read is
// kept with its title only. With a limit set, pagination and block walks
// stop once the limit is reached.
func (n *Notion) FetchAll(ctx context.Context) ([]docstore.Record, error) {
	var (
		records []docstore.Record
		cursor  notionapi.Cursor
	)
pages:
	for {
		req := &notionapi.SearchRequest{StartCursor: cursor, PageSize: n.pageSize}
		var resp *notionapi.SearchResponse
		err := n.call(ctx, func() (err error) {
			resp, err = n.search.Do(ctx, req)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("searching notion: %w", err)
		}

		for _, obj := range resp.Results {
			switch o := obj.(type) {
			case *notionapi.Page:
				records = append(records, n.pageRecord(ctx, o))
			case *notionapi.Database:
				records = append(records, databaseRecord(o))
			}
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if n.limit > 0 && len(records) >= n.limit {
				break pages
			}
		}

		if !resp.HasMore || resp.NextCursor == "" {
			break
		}
		cursor = notionapi.Cursor(resp.NextCursor)
	}
	n.logger.Debug("fetched notion objects", zap.Int("count", len(records)))
	return records, nil
}

func (n *Notion) pageRecord(ctx context.Context, page *notionapi.Page) docstore.Record {
	title := pageTitle(page)
	var b strings.Builder
	if err := n.walk(ctx, notionapi.BlockID(page.ID), 0, &b); err != nil {
		n.logger.Warn("reading notion page blocks",
			zap.String("page_id", string(page.ID)),
			zap.Error(err),
		)
	}
	content := strings.TrimSpace(b.String())
	if content == "" {
		content = title
	} else if title != "" {
		content = title + "\n\n" + content
	}
	return docstore.Record{
		Content: content,
		Source:  docstore.SourceNotion,
		Title:   title,
		Type:    "page",
	}
}

func databaseRecord(db *notionapi.Database) docstore.Record {
	title := plainText(db.Title)
	return docstore.Record{
		Content: title,
		Source:  docstore.SourceNotion,
		Title:   title,
		Type:    "database",
	}
}

// walk appends the text of id's children, depth-first.
func (n *Notion) walk(ctx context.Context, id notionapi.BlockID, depth int, b *strings.Builder) error {
	if depth > notionMaxDepth {
		return nil
	}
	var cursor notionapi.Cursor
	for {
		var resp *notionapi.GetChildrenResponse
		err := n.call(ctx, func() (err error) {
			resp, err = n.blocks.GetChildren(ctx, id, &notionapi.Pagination{StartCursor: cursor, PageSize: n.pageSize})
			return err
		})
		if err != nil {
			return err
		}
		for _, block := range resp.Results {
			if line, ok := blockText(block); ok {
				b.WriteString(strings.Repeat("  ", depth))
				b.WriteString(line)
				b.WriteString("\n")
			}
			if block.GetHasChildren() {
				if err := n.walk(ctx, block.GetID(), depth+1, b); err != nil {
					return err
				}
			}
		}
		if !resp.HasMore || resp.NextCursor == "" {
			return nil
		}
		cursor = notionapi.Cursor(resp.NextCursor)
	}
}

// call runs fn under the rate limiter and retries throttled requests.
func (n *Notion) call(ctx context.Context, fn func() error) error {
	for attempt := 0; ; attempt++ {
		if err := n.limiter.Wait(ctx); err != nil {
			return err
		}
		err := fn()
		var apiErr *notionapi.Error
		if !errors.As(err, &apiErr) || apiErr.Status != http.StatusTooManyRequests {
			return err
		}
		if attempt >= notionMaxRetries {
			return fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
		n.logger.Warn("notion rate limited, backing off", zap.Int("attempt", attempt+1))
		n.limiter.Backoff(n.retryDelay)
	}
}

// blockText renders one block as a line of markdown-ish text.
func blockText(block notionapi.Block) (string, bool) {
	switch b := block.(type) {
	case *notionapi.ParagraphBlock:
		return plainText(b.Paragraph.RichText), true
	case *notionapi.Heading1Block:
		return "# " + plainText(b.Heading1.RichText), true
	case *notionapi.Heading2Block:
		return "## " + plainText(b.Heading2.RichText), true
	case *notionapi.Heading3Block:
		return "### " + plainText(b.Heading3.RichText), true
	case *notionapi.BulletedListItemBlock:
		return "- " + plainText(b.BulletedListItem.RichText), true
	case *notionapi.NumberedListItemBlock:
		return "1. " + plainText(b.NumberedListItem.RichText), true
	case *notionapi.QuoteBlock:
		return "> " + plainText(b.Quote.RichText), true
	case *notionapi.CodeBlock:
		return "```" + b.Code.Language + "\n" + plainText(b.Code.RichText) + "\n```", true
	case *notionapi.ToDoBlock:
		box := "[ ] "
		if b.ToDo.Checked {
			box = "[x] "
		}
		return box + plainText(b.ToDo.RichText), true
	case *notionapi.DividerBlock:
		return "---", true
	}
	return "", false
}

func pageTitle(page *notionapi.Page) string {
	for _, prop := range page.Properties {
		if tp, ok := prop.(*notionapi.TitleProperty); ok {
			return plainText(tp.Title)
		}
	}
	return ""
}

func plainText(rt []notionapi.RichText) string {
	var b strings.Builder
	for _, r := range rt {
		b.WriteString(r.PlainText)
	}
	return b.String()
}

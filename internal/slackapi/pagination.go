package slackapi

import (
	"context"
	"net/url"
	"strconv"

	"golang.org/x/sync/errgroup"
)

// listUsersEndpoint and listChannelsEndpoint are the static per-endpoint
// table spec.md §4.6 describes ("the client selects per endpoint from a
// static table").
var (
	listUsersEndpoint    = Endpoint{Path: "/users.list", Encoding: EncodingForm}
	listChannelsEndpoint = Endpoint{Path: "/conversations.list", Encoding: EncodingForm}
	postMessageEndpoint  = Endpoint{Path: "/chat.postMessage", Encoding: EncodingJSON}
	historyEndpoint      = Endpoint{Path: "/conversations.history", Encoding: EncodingForm}
	repliesEndpoint      = Endpoint{Path: "/conversations.replies", Encoding: EncodingForm}
)

// Page is one page of a paginated fetch plus the cursor to resume from
// if the caller stops consuming early.
type Page[T any] struct {
	Items  []T
	Cursor string
}

// fetchPage is the single-page fetch signature shared by ListUsers and
// ListChannels; it returns the page items, the next cursor, and any error.
type fetchPage[T any] func(ctx context.Context, cursor string) ([]T, string, error)

// paginate drives fetch to completion and hands pages to yield as they
// arrive, rather than accumulating one giant slice — spec.md §4.6's
// "lazy sequence of pages, not necessarily a single giant list".
//
// The cursor variable is only advanced after a page fetch succeeds, and a
// 429 or transport error mid-walk is retried by the client against that
// same cursor, so the walk resumes at the un-acked page rather than
// restarting — spec.md §9 open question 2. Once the client's retries are
// exhausted paginate returns the error; a later call starts from the
// first page again. An errgroup of size one wraps the walk purely to give the
// caller's ctx cancellation a single, consistent cancel point, mirroring
// the cancellable-producer shape the teacher's Stream method uses for
// its SSE goroutine.
func paginate[T any](ctx context.Context, fetch fetchPage[T], yield func(Page[T]) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		cursor := ""
		for {
			items, next, err := fetch(gctx, cursor)
			if err != nil {
				return err
			}
			if err := yield(Page[T]{Items: items, Cursor: next}); err != nil {
				return err
			}
			if next == "" {
				return nil
			}
			cursor = next
		}
	})
	return g.Wait()
}

// ListUsers fetches every page of the workspace's users, invoking yield
// once per page so callers can start saving a snapshot incrementally
// without holding the whole list in memory at once.
func (c *Client) ListUsers(ctx context.Context, yield func(Page[UserRecord]) error) error {
	fetch := func(ctx context.Context, cursor string) ([]UserRecord, string, error) {
		q := url.Values{}
		if cursor != "" {
			q.Set("cursor", cursor)
		}
		var resp usersListResponse
		if err := c.get(ctx, listUsersEndpoint, q, false, &resp); err != nil {
			return nil, "", err
		}
		records := make([]UserRecord, 0, len(resp.Members))
		for _, m := range resp.Members {
			records = append(records, UserRecord{
				ID:          m.ID,
				Name:        m.Name,
				IsBot:       m.IsBot,
				DisplayName: m.Profile.DisplayName,
				RealName:    m.Profile.RealName,
				Email:       m.Profile.Email,
			})
		}
		return records, resp.ResponseMetadata.NextCursor, nil
	}
	return paginate(ctx, fetch, yield)
}

// ListChannels fetches every page of the workspace's channels.
func (c *Client) ListChannels(ctx context.Context, yield func(Page[ChannelRecord]) error) error {
	fetch := func(ctx context.Context, cursor string) ([]ChannelRecord, string, error) {
		q := url.Values{}
		if cursor != "" {
			q.Set("cursor", cursor)
		}
		var resp channelsListResponse
		if err := c.get(ctx, listChannelsEndpoint, q, false, &resp); err != nil {
			return nil, "", err
		}
		return resp.Channels, resp.ResponseMetadata.NextCursor, nil
	}
	return paginate(ctx, fetch, yield)
}

// PostMessage sends a chat message to channel and returns the remote
// timestamp assigned to it.
func (c *Client) PostMessage(ctx context.Context, channel, text string) (string, error) {
	params := url.Values{"channel": {channel}, "text": {text}}
	var resp postMessageResponse
	if err := c.post(ctx, postMessageEndpoint, params, true, &resp); err != nil {
		return "", err
	}
	return resp.TS, nil
}

// ReadHistory fetches one page of a channel's message history.
func (c *Client) ReadHistory(ctx context.Context, channel, cursor string, limit int) (Page[[]byte], error) {
	return readMessages(ctx, c, historyEndpoint, url.Values{"channel": {channel}}, cursor, limit)
}

// ReadThread fetches one page of a thread's replies.
func (c *Client) ReadThread(ctx context.Context, channel, threadTS, cursor string, limit int) (Page[[]byte], error) {
	params := url.Values{"channel": {channel}, "ts": {threadTS}}
	return readMessages(ctx, c, repliesEndpoint, params, cursor, limit)
}

func readMessages(ctx context.Context, c *Client, ep Endpoint, params url.Values, cursor string, limit int) (Page[[]byte], error) {
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	var resp historyResponse
	if err := c.get(ctx, ep, params, true, &resp); err != nil {
		return Page[[]byte]{}, err
	}
	items := make([][]byte, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		items = append(items, []byte(m))
	}
	return Page[[]byte]{Items: items, Cursor: resp.ResponseMetadata.NextCursor}, nil
}

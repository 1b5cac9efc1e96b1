package toolproto

import (
	"context"
	"encoding/json"

	"github.com/wscache/wscache/internal/cache"
	"github.com/wscache/wscache/internal/identity"
	"github.com/wscache/wscache/internal/protoerr"
	"github.com/wscache/wscache/internal/refresh"
	"github.com/wscache/wscache/internal/slackapi"
)

// Tools holds the core components every handler dispatches to, and
// registers one Handler per operation spec.md §4.5/§4.6/§4.7/§4.8 names.
type Tools struct {
	Engine       *cache.Engine
	Client       *slackapi.Client
	Enricher     *identity.Enricher
	Orchestrator *refresh.Orchestrator
}

// Register adds every tool handler to reg.
func (t *Tools) Register(reg *Registry) {
	reg.Register("search_users", t.searchUsers)
	reg.Register("search_channels", t.searchChannels)
	reg.Register("get_user", t.getUser)
	reg.Register("get_channel", t.getChannel)
	reg.Register("enrich", t.enrich)
	reg.Register("send_message", t.sendMessage)
	reg.Register("read_history", t.readHistory)
	reg.Register("read_thread", t.readThread)
	reg.Register("refresh", t.refresh)
}

func decodeParams(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return protoerr.New(protoerr.InvalidParameter, "missing params")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return protoerr.Wrap(protoerr.InvalidParameter, "malformed params", err)
	}
	return nil
}

type searchParams struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

type searchUsersResult struct {
	Users []cache.User `json:"users"`
}

func (t *Tools) searchUsers(ctx context.Context, raw json.RawMessage) (any, error) {
	var p searchParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	users, err := t.Engine.Users.Search(ctx, p.Query, p.Limit)
	if err != nil {
		return nil, cache.Project(err)
	}
	return searchUsersResult{Users: users}, nil
}

type searchChannelsResult struct {
	Channels []cache.Channel `json:"channels"`
}

func (t *Tools) searchChannels(ctx context.Context, raw json.RawMessage) (any, error) {
	var p searchParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	channels, err := t.Engine.Channels.Search(ctx, p.Query, p.Limit)
	if err != nil {
		return nil, cache.Project(err)
	}
	return searchChannelsResult{Channels: channels}, nil
}

type getParams struct {
	ID string `json:"id"`
}

func (t *Tools) getUser(ctx context.Context, raw json.RawMessage) (any, error) {
	var p getParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	user, found, err := t.Engine.Users.Get(ctx, p.ID)
	if err != nil {
		return nil, cache.Project(err)
	}
	if !found {
		return nil, cache.NotFound("no such user: " + p.ID)
	}
	return user, nil
}

func (t *Tools) getChannel(ctx context.Context, raw json.RawMessage) (any, error) {
	var p getParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	channel, found, err := t.Engine.Channels.Get(ctx, p.ID)
	if err != nil {
		return nil, cache.Project(err)
	}
	if !found {
		return nil, cache.NotFound("no such channel: " + p.ID)
	}
	return channel, nil
}

type enrichResult struct {
	Label string `json:"label"`
}

// enrich resolves an id to a display label and never fails, per spec.md
// §4.8 — even a malformed id just resolves to itself.
func (t *Tools) enrich(ctx context.Context, raw json.RawMessage) (any, error) {
	var p getParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	return enrichResult{Label: t.Enricher.Label(ctx, p.ID)}, nil
}

type sendMessageParams struct {
	Channel string `json:"channel"`
	Text    string `json:"text"`
}

type sendMessageResult struct {
	TS string `json:"ts"`
}

func (t *Tools) sendMessage(ctx context.Context, raw json.RawMessage) (any, error) {
	var p sendMessageParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if p.Channel == "" || p.Text == "" {
		return nil, protoerr.New(protoerr.InvalidParameter, "channel and text are required")
	}
	ts, err := t.Client.PostMessage(ctx, p.Channel, p.Text)
	if err != nil {
		return nil, err
	}
	return sendMessageResult{TS: ts}, nil
}

type readHistoryParams struct {
	Channel string `json:"channel"`
	Cursor  string `json:"cursor"`
	Limit   int    `json:"limit"`
}

type pageResult struct {
	Messages []json.RawMessage `json:"messages"`
	Cursor   string            `json:"cursor"`
}

func (t *Tools) readHistory(ctx context.Context, raw json.RawMessage) (any, error) {
	var p readHistoryParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if p.Channel == "" {
		return nil, protoerr.New(protoerr.InvalidParameter, "channel is required")
	}
	page, err := t.Client.ReadHistory(ctx, p.Channel, p.Cursor, p.Limit)
	if err != nil {
		return nil, err
	}
	return toPageResult(page), nil
}

type readThreadParams struct {
	Channel  string `json:"channel"`
	ThreadTS string `json:"thread_ts"`
	Cursor   string `json:"cursor"`
	Limit    int    `json:"limit"`
}

func (t *Tools) readThread(ctx context.Context, raw json.RawMessage) (any, error) {
	var p readThreadParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if p.Channel == "" || p.ThreadTS == "" {
		return nil, protoerr.New(protoerr.InvalidParameter, "channel and thread_ts are required")
	}
	page, err := t.Client.ReadThread(ctx, p.Channel, p.ThreadTS, p.Cursor, p.Limit)
	if err != nil {
		return nil, err
	}
	return toPageResult(page), nil
}

func toPageResult(page slackapi.Page[[]byte]) pageResult {
	messages := make([]json.RawMessage, len(page.Items))
	for i, item := range page.Items {
		messages[i] = json.RawMessage(item)
	}
	return pageResult{Messages: messages, Cursor: page.Cursor}
}

type refreshParams struct {
	Scope string `json:"scope"`
}

type refreshResult struct {
	Scope string `json:"scope"`
}

func (t *Tools) refresh(ctx context.Context, raw json.RawMessage) (any, error) {
	var p refreshParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	scope := refresh.Scope(p.Scope)
	if err := t.Orchestrator.Refresh(ctx, scope); err != nil {
		if pe, ok := err.(*protoerr.Error); ok {
			return nil, pe
		}
		return nil, cache.Project(err)
	}
	return refreshResult{Scope: p.Scope}, nil
}

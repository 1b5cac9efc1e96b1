package slackapi

import "encoding/json"

// envelope is the common response wrapper every endpoint of the remote
// API returns: ok=true and a payload, or ok=false and an error code.
type envelope struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// responseMetadata carries the pagination cursor, per spec.md §6.
type responseMetadata struct {
	NextCursor string `json:"next_cursor"`
}

// UserRecord is the remote representation of a user, flattened to the
// fields the repository needs to drive materialized columns. ListUsers
// copies the profile fields into DisplayName/RealName/Email and leaves
// Profile unset.
type UserRecord struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	IsBot       bool            `json:"is_bot"`
	Profile     json.RawMessage `json:"profile"`
	DisplayName string          `json:"-"`
	RealName    string          `json:"-"`
	Email       string          `json:"-"`
}

// ChannelRecord is the remote representation of a channel.
type ChannelRecord struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IsPrivate bool   `json:"is_private"`
	IsIM      bool   `json:"is_im"`
	IsMPIM    bool   `json:"is_mpim"`
}

type usersListResponse struct {
	envelope
	Members          []rawUser        `json:"members"`
	ResponseMetadata responseMetadata `json:"response_metadata"`
}

// rawUser mirrors the nested profile shape so Name/Profile extraction
// happens in one place (ListUsers) rather than leaking json tag
// plumbing into the cache layer.
type rawUser struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	IsBot   bool   `json:"is_bot"`
	Profile struct {
		DisplayName string `json:"display_name"`
		RealName    string `json:"real_name"`
		Email       string `json:"email"`
	} `json:"profile"`
}

type channelsListResponse struct {
	envelope
	Channels         []ChannelRecord  `json:"channels"`
	ResponseMetadata responseMetadata `json:"response_metadata"`
}

type postMessageResponse struct {
	envelope
	TS string `json:"ts"`
}

type historyResponse struct {
	envelope
	Messages         []json.RawMessage `json:"messages"`
	ResponseMetadata responseMetadata  `json:"response_metadata"`
}

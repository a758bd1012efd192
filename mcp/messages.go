// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mcp

import "encoding/json"

// This file collects the params/result payloads for every RPC method the
// engine knows about. Pagination cursors follow the same shape on every
// list method: an opaque Cursor on the request, an opaque NextCursor on
// the result, absent when there are no more pages.

// PingParams is the (empty) payload of a ping request.
type PingParams struct{}

// InitializeParams is sent by the client as the first request of a session.
type InitializeParams struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ClientCapabilities `json:"capabilities"`
	ClientInfo      Implementation     `json:"clientInfo"`
}

// InitializeResult is the server's reply to initialize.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      Implementation     `json:"serverInfo"`
	Instructions    string             `json:"instructions,omitempty"`
}

// InitializedParams is the payload of the notifications/initialized
// notification the client sends once initialize completes.
type InitializedParams struct{}

// CancelledParams is the payload of notifications/cancelled.
type CancelledParams struct {
	RequestID any    `json:"requestId"`
	Reason    string `json:"reason,omitempty"`
}

// ProgressParams is the payload of notifications/progress.
type ProgressParams struct {
	ProgressToken any     `json:"progressToken"`
	Progress      float64 `json:"progress"`
	Total         float64 `json:"total,omitempty"`
	Message       string  `json:"message,omitempty"`
}

// ListRootsParams is the (empty) payload of a roots/list request.
type ListRootsParams struct{}

// ListRootsResult is the client's reply to roots/list.
type ListRootsResult struct {
	Roots []*Root `json:"roots"`
}

// RootsListChangedParams is the payload of
// notifications/roots/list_changed.
type RootsListChangedParams struct{}

// ListToolsParams is the request payload of tools/list.
type ListToolsParams struct {
	Cursor string `json:"cursor,omitempty"`
}

// ListToolsResult is the reply to tools/list.
type ListToolsResult struct {
	Tools      []*Tool `json:"tools"`
	NextCursor string  `json:"nextCursor,omitempty"`
}

// CallToolParams is the request payload of tools/call.
type CallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolListChangedParams is the payload of notifications/tools/list_changed.
type ToolListChangedParams struct{}

// ListPromptsParams is the request payload of prompts/list.
type ListPromptsParams struct {
	Cursor string `json:"cursor,omitempty"`
}

// ListPromptsResult is the reply to prompts/list.
type ListPromptsResult struct {
	Prompts    []*Prompt `json:"prompts"`
	NextCursor string    `json:"nextCursor,omitempty"`
}

// GetPromptParams is the request payload of prompts/get.
type GetPromptParams struct {
	Name      string            `json:"name"`
	Arguments map[string]string `json:"arguments,omitempty"`
}

// PromptMessage is one turn of a rendered prompt.
type PromptMessage struct {
	Role    string   `json:"role"`
	Content *Content `json:"content"`
}

// GetPromptResult is the reply to prompts/get.
type GetPromptResult struct {
	Description string          `json:"description,omitempty"`
	Messages    []PromptMessage `json:"messages"`
}

// PromptListChangedParams is the payload of
// notifications/prompts/list_changed.
type PromptListChangedParams struct{}

// ListResourcesParams is the request payload of resources/list.
type ListResourcesParams struct {
	Cursor string `json:"cursor,omitempty"`
}

// ListResourcesResult is the reply to resources/list.
type ListResourcesResult struct {
	Resources  []*Resource `json:"resources"`
	NextCursor string      `json:"nextCursor,omitempty"`
}

// ListResourceTemplatesParams is the request payload of
// resources/templates/list.
type ListResourceTemplatesParams struct {
	Cursor string `json:"cursor,omitempty"`
}

// ListResourceTemplatesResult is the reply to resources/templates/list.
type ListResourceTemplatesResult struct {
	ResourceTemplates []*ResourceTemplate `json:"resourceTemplates"`
	NextCursor        string              `json:"nextCursor,omitempty"`
}

// ReadResourceParams is the request payload of resources/read.
type ReadResourceParams struct {
	URI string `json:"uri"`
}

// ReadResourceResult is the reply to resources/read.
type ReadResourceResult struct {
	Contents []*ResourceContents `json:"contents"`
}

// ResourceListChangedParams is the payload of
// notifications/resources/list_changed.
type ResourceListChangedParams struct{}

// SubscribeParams is the request payload of resources/subscribe.
type SubscribeParams struct {
	URI string `json:"uri"`
}

// UnsubscribeParams is the request payload of resources/unsubscribe.
type UnsubscribeParams struct {
	URI string `json:"uri"`
}

// ResourceUpdatedParams is the payload of
// notifications/resources/updated.
type ResourceUpdatedParams struct {
	URI string `json:"uri"`
}

// SetLevelParams is the request payload of logging/setLevel.
type SetLevelParams struct {
	Level string `json:"level"` // debug|info|notice|warning|error|critical|alert|emergency
}

// LoggingMessageParams is the payload of notifications/message, carrying
// one structured log record from server to client.
type LoggingMessageParams struct {
	Level  string `json:"level"`
	Logger string `json:"logger,omitempty"`
	Data   any    `json:"data"`
}

// CreateMessageParams is the request payload of sampling/createMessage,
// sent by the server to ask the client's LLM to complete a message.
type CreateMessageParams struct {
	Messages         []SamplingMessage `json:"messages"`
	SystemPrompt     string            `json:"systemPrompt,omitempty"`
	MaxTokens        int               `json:"maxTokens,omitempty"`
	Temperature      float64           `json:"temperature,omitempty"`
	StopSequences    []string          `json:"stopSequences,omitempty"`
	IncludeContext   string            `json:"includeContext,omitempty"`
	ModelPreferences *ModelPreferences `json:"modelPreferences,omitempty"`
}

// SamplingMessage is one turn offered as context to sampling/createMessage.
type SamplingMessage struct {
	Role    string   `json:"role"`
	Content *Content `json:"content"`
}

// ModelPreferences hints at which model the client should prefer for a
// sampling request; all fields are advisory.
type ModelPreferences struct {
	Hints                []ModelHint `json:"hints,omitempty"`
	CostPriority         float64     `json:"costPriority,omitempty"`
	SpeedPriority        float64     `json:"speedPriority,omitempty"`
	IntelligencePriority float64     `json:"intelligencePriority,omitempty"`
}

// ModelHint names a model family the client may use to pick a model.
type ModelHint struct {
	Name string `json:"name,omitempty"`
}

// CreateMessageResult is the client's reply to sampling/createMessage.
type CreateMessageResult struct {
	Role       string   `json:"role"`
	Content    *Content `json:"content"`
	Model      string   `json:"model"`
	StopReason string   `json:"stopReason,omitempty"`
}

// CompleteParams is the request payload of completion/complete.
type CompleteParams struct {
	Ref      Reference         `json:"ref"`
	Argument CompleteArgument  `json:"argument"`
}

// CompleteArgument names the argument being completed and the text typed
// so far.
type CompleteArgument struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// CompleteResult is the reply to completion/complete.
type CompleteResult struct {
	Completion Completion `json:"completion"`
}

// Completion carries candidate completions for an argument.
type Completion struct {
	Values  []string `json:"values"`
	Total   int      `json:"total,omitempty"`
	HasMore bool     `json:"hasMore,omitempty"`
}

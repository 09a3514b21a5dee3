// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianScreens/pkg/ux"
	"github.com/AleutianAI/AleutianScreens/services/screens/datatypes"
	"github.com/AleutianAI/AleutianScreens/services/screens/screen"
	"github.com/gorilla/websocket"
)

// screensClient talks to a screens server.
type screensClient struct {
	baseURL    string
	httpClient *http.Client
	reader     ux.StreamReader
}

func newScreensClient(baseURL string) *screensClient {
	return &screensClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		// Only the wait for response headers is bounded.
		httpClient: &http.Client{Transport: &http.Transport{ResponseHeaderTimeout: 30 * time.Second}},
		reader:     ux.NewSSEStreamReader(),
	}
}

// stream runs one turn over SSE and passes every event to callback.
func (c *screensClient) stream(ctx context.Context, req datatypes.TurnRequest, callback ux.StreamCallback) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/screens/stream", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return responseError(resp)
	}
	return c.reader.Read(ctx, resp.Body, callback)
}

// streamWS runs one turn over the WebSocket endpoint.
func (c *screensClient) streamWS(ctx context.Context, req datatypes.TurnRequest, callback ux.StreamCallback) error {
	u, err := url.Parse(c.baseURL + "/v1/screens/ws")
	if err != nil {
		return fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return responseError(resp)
		}
		return fmt.Errorf("dial %s: %w", u, err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(req); err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	if err := ux.ReadWebSocket(ctx, conn, callback); err != nil {
		return err
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return nil
}

// apply folds patch into s on the server.
func (c *screensClient) apply(ctx context.Context, s screen.Screen, patch screen.Patch) (*datatypes.ApplyResponse, error) {
	body, err := json.Marshal(datatypes.ApplyRequest{Screen: s, Patch: patch})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/screens/apply", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, responseError(resp)
	}

	var out datatypes.ApplyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode apply response: %w", err)
	}
	return &out, nil
}

// responseError turns a non-2xx response into an error carrying the
// server's message and violations.
func responseError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body datatypes.ErrorResponse
	if err := json.Unmarshal(data, &body); err != nil || body.Error == "" {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	msg := body.Error
	for _, v := range body.Details {
		msg += fmt.Sprintf("; %s %s", v.Field, v.Message)
	}
	return fmt.Errorf("server returned %d: %s", resp.StatusCode, msg)
}

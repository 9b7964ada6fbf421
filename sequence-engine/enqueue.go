package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/relaycrm/relay-go/internal/engine"
)

type messageSender interface {
	Send(ctx context.Context, body []byte, delay time.Duration) (int64, error)
}

// enqueueMessages sends one message body or a JSON array of them. Every body
// is validated before the first send so a bad input enqueues nothing.
func enqueueMessages(ctx context.Context, q messageSender, raw []byte, delay time.Duration) ([]int64, error) {
	raw = bytes.TrimSpace(raw)
	var bodies []json.RawMessage
	if len(raw) > 0 && raw[0] == '[' {
		if err := json.Unmarshal(raw, &bodies); err != nil {
			return nil, fmt.Errorf("decode messages: %w", err)
		}
	} else {
		bodies = []json.RawMessage{raw}
	}
	if len(bodies) == 0 {
		return nil, errors.New("no messages to enqueue")
	}

	compact := make([][]byte, len(bodies))
	for i, body := range bodies {
		if _, err := engine.ParseMessage(body, 0); err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
		var buf bytes.Buffer
		if err := json.Compact(&buf, body); err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
		compact[i] = buf.Bytes()
	}

	ids := make([]int64, 0, len(compact))
	for i, body := range compact {
		id, err := q.Send(ctx, body, delay)
		if err != nil {
			return ids, fmt.Errorf("send message %d: %w", i, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

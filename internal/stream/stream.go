// Package stream normalizes provider wire formats into the canonical
// event sequence: zero or more tokens followed by exactly one terminal.
// Errors surface in-band as an error event immediately followed by done,
// so consumers never need a second channel.
package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/andremlopes/storebridge/internal/domain"
	"github.com/andremlopes/storebridge/internal/provider"
)

const DefaultIdleTimeout = 90 * time.Second

// scanBufferSize bounds a single SSE line; provider deltas are small but
// error payloads can carry full request echoes.
const scanBufferSize = 1 << 20

const dataPrefix = "data: "

const doneSentinel = "[DONE]"

// Events consumes a raw provider response and emits normalized events on
// the returned channel. The channel is closed after the terminal event.
// The response body is always closed before the channel is. Cancelling
// ctx closes the upstream connection and ends the stream without a
// terminal event, since the consumer is gone.
func Events(ctx context.Context, raw *provider.RawResponse, idleTimeout time.Duration) <-chan domain.StreamEvent {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}

	out := make(chan domain.StreamEvent)

	if raw.Format == provider.FormatChunks {
		go pumpChunks(ctx, raw.Chunks, out)
		return out
	}

	go pumpLines(ctx, raw, idleTimeout, out)
	return out
}

func pumpChunks(ctx context.Context, chunks []string, out chan<- domain.StreamEvent) {
	defer close(out)

	for _, chunk := range chunks {
		if !send(ctx, out, domain.TokenEvent(chunk)) {
			return
		}
	}
	send(ctx, out, domain.DoneEvent())
}

func pumpLines(ctx context.Context, raw *provider.RawResponse, idleTimeout time.Duration, out chan<- domain.StreamEvent) {
	defer close(out)
	defer raw.Close()

	lines := make(chan string)
	scanErr := make(chan error, 1)

	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(raw.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), scanBufferSize)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			scanErr <- err
		}
	}()

	idle := time.NewTimer(idleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			// Closing the body unblocks the scanner goroutine.
			return

		case <-idle.C:
			send(ctx, out, domain.ErrorEvent("stream idle timeout"))
			send(ctx, out, domain.DoneEvent())
			return

		case line, ok := <-lines:
			if !ok {
				// Upstream closed. A read error mid-stream is reported
				// in-band; a clean EOF without a terminator still gets
				// its done so consumers always see one.
				select {
				case err := <-scanErr:
					send(ctx, out, domain.ErrorEvent("stream read: "+err.Error()))
				default:
				}
				send(ctx, out, domain.DoneEvent())
				return
			}

			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(idleTimeout)

			ev, ok := Parse(raw.Format, line)
			if !ok {
				continue
			}
			if ev.Kind == domain.EventError {
				send(ctx, out, ev)
				send(ctx, out, domain.DoneEvent())
				return
			}
			if !send(ctx, out, ev) {
				return
			}
			if ev.Kind == domain.EventDone {
				return
			}
		}
	}
}

func send(ctx context.Context, out chan<- domain.StreamEvent, ev domain.StreamEvent) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// Parse maps a single wire line to a canonical event. The second return
// is false for lines that carry no event: blank keep-alives, SSE event
// name lines, pings, and frames that do not parse. Skipping malformed
// frames instead of failing keeps one bad delta from killing a stream.
func Parse(format provider.Format, line string) (domain.StreamEvent, bool) {
	payload, ok := strings.CutPrefix(line, dataPrefix)
	if !ok {
		return domain.StreamEvent{}, false
	}
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return domain.StreamEvent{}, false
	}

	switch format {
	case provider.FormatOpenAI:
		return parseOpenAI(payload)
	case provider.FormatAnthropic:
		return parseAnthropic(payload)
	default:
		return domain.StreamEvent{}, false
	}
}

type openaiChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func parseOpenAI(payload string) (domain.StreamEvent, bool) {
	if payload == doneSentinel {
		return domain.DoneEvent(), true
	}

	var chunk openaiChunk
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		return domain.StreamEvent{}, false
	}
	if chunk.Error != nil {
		return domain.ErrorEvent(chunk.Error.Message), true
	}
	if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
		return domain.StreamEvent{}, false
	}
	return domain.TokenEvent(chunk.Choices[0].Delta.Content), true
}

type anthropicFrame struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	ContentBlock struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content_block"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func parseAnthropic(payload string) (domain.StreamEvent, bool) {
	var frame anthropicFrame
	if err := json.Unmarshal([]byte(payload), &frame); err != nil {
		return domain.StreamEvent{}, false
	}

	switch frame.Type {
	case "message_stop":
		return domain.DoneEvent(), true
	case "error":
		return domain.ErrorEvent(frame.Error.Message), true
	}

	// Text rides in delta.text for deltas and content_block.text for
	// block starts; first non-empty wins.
	if frame.Delta.Text != "" {
		return domain.TokenEvent(frame.Delta.Text), true
	}
	if frame.ContentBlock.Text != "" {
		return domain.TokenEvent(frame.ContentBlock.Text), true
	}
	return domain.StreamEvent{}, false
}

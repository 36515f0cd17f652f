package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"parley/internal/models"
)

const (
	dataPrefix   = "data:"
	doneSentinel = "[DONE]"

	// maxFrameSize bounds a single buffered line. Generated-image frames
	// carry inline data URLs, so this is generous.
	maxFrameSize = 8 << 20

	// malformedLogCap stops malformed-frame logging from flooding; frames
	// past the cap are still counted and skipped.
	malformedLogCap = 5

	readChunkSize = 4096
)

// streamChunk is one decoded completion frame.
type streamChunk struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content string       `json:"content"`
			Images  []chunkImage `json:"images"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *chunkUsage `json:"usage"`
}

type chunkImage struct {
	Type     string `json:"type"`
	ImageURL struct {
		URL string `json:"url"`
	} `json:"image_url"`
}

// chunkUsage carries the provider's authoritative token counts, sent in a
// final frame when usage reporting is requested.
type chunkUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// lineBuffer assembles complete lines from reads that may split anywhere,
// including mid-line. Bytes after the last newline stay buffered until the
// next feed.
type lineBuffer struct {
	buf []byte
}

func (b *lineBuffer) feed(p []byte) {
	b.buf = append(b.buf, p...)
}

func (b *lineBuffer) next() (string, bool) {
	i := bytes.IndexByte(b.buf, '\n')
	if i < 0 {
		return "", false
	}
	line := string(bytes.TrimRight(b.buf[:i], "\r"))
	b.buf = b.buf[i+1:]
	return line, true
}

// rest drains whatever is buffered without a trailing newline. Used at
// stream end so a final unterminated frame is not lost.
func (b *lineBuffer) rest() string {
	line := string(bytes.TrimRight(b.buf, "\r\n"))
	b.buf = nil
	return line
}

func (b *lineBuffer) len() int {
	return len(b.buf)
}

// streamState accumulates one attempt's output and timing. Each retry
// attempt starts from a fresh state so statistics reflect only the attempt
// that succeeded.
type streamState struct {
	start      time.Time
	firstDelta time.Time
	model      string
	content    strings.Builder
	deltas     int
	usage      *chunkUsage
	images     []string
	malformed  int
}

func newStreamState(model string) *streamState {
	return &streamState{start: time.Now(), model: model}
}

// handleLine consumes one complete line from the stream. It reports true
// when the terminal sentinel arrived.
func (s *streamState) handleLine(line string, cb Callbacks) bool {
	if !strings.HasPrefix(line, dataPrefix) {
		// Blank separators, comments and other SSE fields are ignored.
		return false
	}
	payload := strings.TrimSpace(line[len(dataPrefix):])
	if payload == "" {
		return false
	}
	if payload == doneSentinel {
		return true
	}

	var chunk streamChunk
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		s.malformed++
		if s.malformed <= malformedLogCap {
			log.Printf("llm: skipping malformed stream frame: %v", err)
		}
		return false
	}

	if chunk.Model != "" {
		s.model = chunk.Model
	}
	if chunk.Usage != nil {
		s.usage = chunk.Usage
	}
	if len(chunk.Choices) == 0 {
		return false
	}

	delta := chunk.Choices[0].Delta
	if delta.Content != "" {
		if s.firstDelta.IsZero() {
			s.firstDelta = time.Now()
		}
		s.deltas++
		s.content.WriteString(delta.Content)
		if cb.OnToken != nil {
			cb.OnToken(delta.Content)
		}
	}
	for _, img := range delta.Images {
		if img.ImageURL.URL != "" {
			s.images = append(s.images, img.ImageURL.URL)
		}
	}
	return false
}

// stats computes the attempt's metrics. Generation time runs from the first
// content delta to stream end, or the whole attempt when no content arrived.
// Token counts prefer the provider's usage frame over the counted deltas.
func (s *streamState) stats() *models.MessageStats {
	end := time.Now()
	ttft := time.Duration(0)
	gen := end.Sub(s.start)
	if !s.firstDelta.IsZero() {
		ttft = s.firstDelta.Sub(s.start)
		gen = end.Sub(s.firstDelta)
	}

	completion := s.deltas
	prompt := 0
	if s.usage != nil {
		completion = s.usage.CompletionTokens
		prompt = s.usage.PromptTokens
	}

	perSecond := 0.0
	if secs := gen.Seconds(); secs > 0 {
		perSecond = float64(completion) / secs
	}

	return &models.MessageStats{
		Model:              s.model,
		PromptTokens:       prompt,
		CompletionTokens:   completion,
		TokensPerSecond:    perSecond,
		TimeToFirstTokenMs: ttft.Milliseconds(),
	}
}

// readStream pumps the response body through the line buffer until the
// terminal sentinel or EOF. Read sizes are arbitrary; frames split across
// reads are reassembled before parsing.
func readStream(ctx context.Context, body io.Reader, st *streamState, cb Callbacks) error {
	var lines lineBuffer
	buf := make([]byte, readChunkSize)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := body.Read(buf)
		if n > 0 {
			lines.feed(buf[:n])
			for {
				line, ok := lines.next()
				if !ok {
					break
				}
				if done := st.handleLine(line, cb); done {
					return nil
				}
			}
			if lines.len() > maxFrameSize {
				return fmt.Errorf("stream frame exceeds %d bytes", maxFrameSize)
			}
		}
		if err != nil {
			if err == io.EOF {
				// A final frame without a trailing newline still counts.
				if tail := lines.rest(); tail != "" {
					st.handleLine(tail, cb)
				}
				return nil
			}
			return fmt.Errorf("read stream: %w", err)
		}
	}
}

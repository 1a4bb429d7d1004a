package ai

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"chatbot-ai-pipeline/internal/domain"
	"chatbot-ai-pipeline/internal/domain/model"
	"chatbot-ai-pipeline/internal/domain/ports/adapter"
	"chatbot-ai-pipeline/internal/infra/metrics"

	"github.com/rs/zerolog"
)

const maxLineBytes = 1 << 20

// frame is one decoded wire fragment.
type frame struct {
	content string
	usage   *model.Usage
	final   bool // provider signalled end of stream
	skip    bool // keep-alive, role header, event line...
}

// decodeFunc turns one wire line into a frame. An error marks the line as
// malformed; the stream logs it and moves on.
type decodeFunc func(line []byte) (frame, error)

var _ adapter.ChunkStream = (*lineStream)(nil)

// lineStream reads a line-oriented HTTP body and yields chunks lazily.
// It is finite and cannot be restarted.
type lineStream struct {
	provider string
	body     io.ReadCloser
	sc       *bufio.Scanner
	decode   decodeFunc
	// eofDone makes a clean EOF end the stream (NDJSON has no terminator).
	eofDone bool
	log     *zerolog.Logger

	cur   model.StreamChunk
	usage *model.Usage
	done  bool
	err   error
}

func newLineStream(provider string, body io.ReadCloser, decode decodeFunc, eofDone bool, log *zerolog.Logger) *lineStream {
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return &lineStream{provider: provider, body: body, sc: sc, decode: decode, eofDone: eofDone, log: log}
}

func (s *lineStream) Next(ctx context.Context) bool {
	if s.done || s.err != nil {
		return false
	}
	for {
		if err := ctx.Err(); err != nil {
			s.err = err
			return false
		}
		if !s.sc.Scan() {
			if err := s.sc.Err(); err != nil {
				s.err = &domain.ProviderError{Provider: s.provider, Retryable: true, Err: fmt.Errorf("read stream: %w", err)}
				return false
			}
			if !s.eofDone {
				s.err = &domain.ProviderError{Provider: s.provider, Retryable: true, Err: io.ErrUnexpectedEOF}
				return false
			}
			return s.finish("")
		}
		line := bytes.TrimSpace(s.sc.Bytes())
		if len(line) == 0 {
			continue
		}
		f, err := s.decode(line)
		if err != nil {
			var pErr *domain.ProviderError
			if errors.As(err, &pErr) {
				s.err = pErr
				return false
			}
			metrics.IncMalformedChunk(s.provider)
			s.log.Warn().Err(err).Str("provider", s.provider).Int("bytes", len(line)).Msg("skipping malformed stream chunk")
			continue
		}
		if f.usage != nil {
			u := *f.usage
			s.usage = &u
		}
		if f.final {
			return s.finish(f.content)
		}
		if f.skip || f.content == "" {
			continue
		}
		s.cur = model.StreamChunk{Content: f.content}
		return true
	}
}

// finish emits the terminal chunk; nothing after it is read.
func (s *lineStream) finish(content string) bool {
	s.done = true
	s.cur = model.StreamChunk{Content: content, IsComplete: true, Usage: s.usage}
	return true
}

func (s *lineStream) Chunk() model.StreamChunk { return s.cur }

func (s *lineStream) Err() error { return s.err }

func (s *lineStream) Close() error { return s.body.Close() }

// sseData extracts the payload of an SSE "data:" line. ok is false for
// event names, ids and comments.
func sseData(line []byte) (data []byte, ok bool) {
	if !bytes.HasPrefix(line, []byte("data:")) {
		return nil, false
	}
	return bytes.TrimSpace(line[len("data:"):]), true
}

var doneSentinel = []byte("[DONE]")

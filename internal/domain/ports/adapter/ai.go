package adapter

import (
	"context"
	"io"

	"chatbot-ai-pipeline/internal/domain/model"
)

// Message represents a chat message sent to a provider.
type Message struct {
	Role    string `json:"role"` // "user", "assistant", "system"
	Content string `json:"content"`
}

type Capability string

const (
	CapabilityChat      Capability = "chat"
	CapabilityStream    Capability = "stream"
	CapabilityEmbedding Capability = "embedding"
)

// GenerateOptions are the per-call model settings.
type GenerateOptions struct {
	Model        string
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
	Stream       bool
}

// OptionsFrom maps a chatbot model configuration to call options.
func OptionsFrom(c model.ModelConfig) GenerateOptions {
	return GenerateOptions{
		Model:        c.Model,
		Temperature:  c.Temperature,
		MaxTokens:    c.MaxTokens,
		SystemPrompt: c.SystemPrompt,
	}
}

type Completion struct {
	Content string
	Usage   model.Usage
}

// ChunkStream yields completion fragments in provider order.
// Next returns false once the stream is exhausted or failed; the last chunk
// of a successful stream has IsComplete set. Err reports a failure.
type ChunkStream interface {
	Next(ctx context.Context) bool
	Chunk() model.StreamChunk
	Err() error
	Close() error
}

// AIProvider is the port for LLM backends.
type AIProvider interface {
	Name() string
	Supports(c Capability) bool
	Complete(ctx context.Context, messages []Message, opts GenerateOptions) (*Completion, error)
	Stream(ctx context.Context, messages []Message, opts GenerateOptions) (ChunkStream, error)
	Embed(ctx context.Context, text string, model string) ([]float64, error)
	EstimateTokens(text string) int
}

// Generate runs a completion, streaming when opts.Stream is set and the
// provider supports it. onChunk sees every streamed chunk in order.
func Generate(ctx context.Context, p AIProvider, messages []Message, opts GenerateOptions, onChunk func(model.StreamChunk) error) (*Completion, error) {
	if opts.Stream && p.Supports(CapabilityStream) {
		s, err := p.Stream(ctx, messages, opts)
		if err != nil {
			return nil, err
		}
		return Drain(ctx, s, onChunk)
	}
	return p.Complete(ctx, messages, opts)
}

// Drain reads a stream to the end and assembles a Completion, calling fn
// for every chunk when fn is not nil.
func Drain(ctx context.Context, s ChunkStream, fn func(model.StreamChunk) error) (*Completion, error) {
	defer s.Close()
	var (
		out  Completion
		done bool
	)
	for s.Next(ctx) {
		c := s.Chunk()
		out.Content += c.Content
		if c.Usage != nil {
			out.Usage = *c.Usage
		}
		if fn != nil {
			if err := fn(c); err != nil {
				return nil, err
			}
		}
		if c.IsComplete {
			done = true
			break
		}
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	if !done {
		return nil, io.ErrUnexpectedEOF
	}
	return &out, nil
}

// SliceStream is a ChunkStream over a fixed set of chunks. It is used by
// providers that have no native streaming and by tests.
type SliceStream struct {
	chunks []model.StreamChunk
	pos    int
	tail   error
	err    error
}

// NewSliceStream returns a stream over chunks followed by err. When err is
// nil and the last chunk is not marked complete, a completion chunk is added.
func NewSliceStream(chunks []model.StreamChunk, err error) *SliceStream {
	if err == nil && (len(chunks) == 0 || !chunks[len(chunks)-1].IsComplete) {
		chunks = append(chunks, model.StreamChunk{IsComplete: true})
	}
	return &SliceStream{chunks: chunks, pos: -1, tail: err}
}

func (s *SliceStream) Next(ctx context.Context) bool {
	if s.err != nil {
		return false
	}
	if err := ctx.Err(); err != nil {
		s.err = err
		return false
	}
	if s.pos+1 >= len(s.chunks) {
		s.err = s.tail
		return false
	}
	s.pos++
	return true
}

func (s *SliceStream) Chunk() model.StreamChunk { return s.chunks[s.pos] }

func (s *SliceStream) Err() error { return s.err }

func (s *SliceStream) Close() error { return nil }

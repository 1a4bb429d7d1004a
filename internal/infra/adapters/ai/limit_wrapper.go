package ai

import (
	"context"

	"chatbot-ai-pipeline/internal/domain/ports/adapter"
	"chatbot-ai-pipeline/internal/infra/metrics"
)

// Compile-time check
var _ adapter.AIProvider = (*limitedProvider)(nil)

// limitedProvider caps in-flight calls to one provider. A streaming call
// holds its slot until the stream is closed.
type limitedProvider struct {
	adapter.AIProvider
	sem chan struct{}
}

func NewLimitedProvider(inner adapter.AIProvider, maxConcurrent int) adapter.AIProvider {
	if maxConcurrent <= 0 {
		return inner
	}
	return &limitedProvider{
		AIProvider: inner,
		sem:        make(chan struct{}, maxConcurrent),
	}
}

func (l *limitedProvider) acquire(ctx context.Context) error {
	select {
	case l.sem <- struct{}{}:
		metrics.AddInflight(l.Name(), 1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *limitedProvider) release() {
	<-l.sem
	metrics.AddInflight(l.Name(), -1)
}

func (l *limitedProvider) Complete(ctx context.Context, messages []adapter.Message, opts adapter.GenerateOptions) (*adapter.Completion, error) {
	if err := l.acquire(ctx); err != nil {
		return nil, err
	}
	defer l.release()
	return l.AIProvider.Complete(ctx, messages, opts)
}

func (l *limitedProvider) Stream(ctx context.Context, messages []adapter.Message, opts adapter.GenerateOptions) (adapter.ChunkStream, error) {
	if err := l.acquire(ctx); err != nil {
		return nil, err
	}
	s, err := l.AIProvider.Stream(ctx, messages, opts)
	if err != nil {
		l.release()
		return nil, err
	}
	return &releasingStream{ChunkStream: s, release: l.release}, nil
}

func (l *limitedProvider) Embed(ctx context.Context, text string, modelName string) ([]float64, error) {
	if err := l.acquire(ctx); err != nil {
		return nil, err
	}
	defer l.release()
	return l.AIProvider.Embed(ctx, text, modelName)
}

type releasingStream struct {
	adapter.ChunkStream
	release func()
	closed  bool
}

func (s *releasingStream) Close() error {
	err := s.ChunkStream.Close()
	if !s.closed {
		s.closed = true
		s.release()
	}
	return err
}

package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"chatbot-ai-pipeline/internal/domain"
	"chatbot-ai-pipeline/internal/domain/model"
	"chatbot-ai-pipeline/internal/domain/ports/adapter"
	"chatbot-ai-pipeline/internal/infra/metrics"
	red "chatbot-ai-pipeline/internal/infra/redis"

	"github.com/rs/zerolog"
)

const (
	sentimentPrompt = `Classify the sentiment of the user's text. Reply with JSON only: {"label":"positive|neutral|negative","score":<-1..1>,"confidence":<0..1>}`
	intentPrompt    = `Classify the intent of the user's text. Reply with JSON only: {"intent":"<intent>","confidence":<0..1>}`
	entityPrompt    = `Extract named entities from the user's text. Reply with a JSON array only: [{"type":"<type>","value":"<text>"}]`
	summaryPrompt   = `Summarize the user's text concisely.`
)

// runAnalysis handles every non-chat, non-embedding job with a single
// prompt per input. Structured answers are parsed leniently: the raw text
// is always kept in Content.
func runAnalysis(ctx context.Context, payload model.JobPayload, provider adapter.AIProvider, cfg model.ModelConfig) (*model.JobResult, error) {
	opts := adapter.OptionsFrom(cfg)
	switch pl := payload.(type) {
	case model.SentimentAnalysisPayload:
		opts.SystemPrompt = sentimentPrompt
		c, err := complete(ctx, provider, pl.Content, opts)
		if err != nil {
			return nil, err
		}
		res := &model.JobResult{Content: c.Content, Usage: &c.Usage}
		var s model.SentimentResult
		if decodeJSON(c.Content, &s) == nil && s.Label != "" {
			s.Label = strings.ToLower(s.Label)
			res.Sentiment = &s
		}
		return res, nil

	case model.IntentClassificationPayload:
		opts.SystemPrompt = intentPrompt
		if len(pl.Candidates) > 0 {
			opts.SystemPrompt += " Choose one of: " + strings.Join(pl.Candidates, ", ") + "."
		}
		c, err := complete(ctx, provider, pl.Content, opts)
		if err != nil {
			return nil, err
		}
		res := &model.JobResult{Content: c.Content, Usage: &c.Usage}
		var in model.IntentResult
		if decodeJSON(c.Content, &in) == nil && in.Intent != "" {
			res.Intent = &in
		}
		return res, nil

	case model.EntityExtractionPayload:
		opts.SystemPrompt = entityPrompt
		if len(pl.EntityTypes) > 0 {
			opts.SystemPrompt += " Only these types: " + strings.Join(pl.EntityTypes, ", ") + "."
		}
		c, err := complete(ctx, provider, pl.Content, opts)
		if err != nil {
			return nil, err
		}
		res := &model.JobResult{Content: c.Content, Usage: &c.Usage}
		var ents []model.EntityResult
		if decodeJSON(c.Content, &ents) == nil {
			res.Entities = ents
		}
		return res, nil

	case model.SummarizationPayload:
		opts.SystemPrompt = summaryPrompt
		if pl.MaxWords > 0 {
			opts.SystemPrompt += fmt.Sprintf(" Use at most %d words.", pl.MaxWords)
		}
		c, err := complete(ctx, provider, pl.Content, opts)
		if err != nil {
			return nil, err
		}
		return &model.JobResult{Content: c.Content, Usage: &c.Usage}, nil

	case model.BatchProcessingPayload:
		if len(pl.Items) == 0 {
			return nil, domain.ErrNoMessages
		}
		opts.SystemPrompt = pl.Instruction
		var total model.Usage
		items := make([]string, 0, len(pl.Items))
		for i, item := range pl.Items {
			c, err := complete(ctx, provider, item, opts)
			if err != nil {
				return nil, fmt.Errorf("batch item %d: %w", i, err)
			}
			items = append(items, c.Content)
			total.PromptTokens += c.Usage.PromptTokens
			total.CompletionTokens += c.Usage.CompletionTokens
			total.TotalTokens += c.Usage.TotalTokens
		}
		return &model.JobResult{Items: items, Usage: &total}, nil
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrUnknownJobType, payload.JobType())
}

func complete(ctx context.Context, provider adapter.AIProvider, text string, opts adapter.GenerateOptions) (*adapter.Completion, error) {
	c, err := provider.Complete(ctx, []adapter.Message{{Role: "user", Content: text}}, opts)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(c.Content) == "" {
		return nil, domain.ErrEmptyResponse
	}
	return c, nil
}

// decodeJSON reads the first JSON object or array embedded in s. Models
// often wrap JSON in prose or code fences.
func decodeJSON(s string, v any) error {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return errors.New("no json in reply")
	}
	closer := "}"
	if s[start] == '[' {
		closer = "]"
	}
	end := strings.LastIndex(s, closer)
	if end < start {
		return errors.New("unterminated json in reply")
	}
	return json.Unmarshal([]byte(s[start:end+1]), v)
}

func cacheable(t model.JobType) bool {
	return t != model.JobTypeChatResponse && t != model.JobTypeBatchProcessing
}

func (p *AIJobProcessor) cachedResult(ctx context.Context, job *model.AIJob, cfg model.ModelConfig, log *zerolog.Logger) *model.JobResult {
	if p.deps.Cache == nil || !cacheable(job.Type) {
		return nil
	}
	key := red.ResultCacheKey(job.TenantID, job.Type, cfg, job.Payload)
	res, err := p.deps.Cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			log.Warn().Err(err).Msg("result cache read failed")
		}
		metrics.IncCacheRequest("ai_result", "miss")
		return nil
	}
	metrics.IncCacheRequest("ai_result", "hit")
	res.Cached = true
	return res
}

func (p *AIJobProcessor) storeResult(ctx context.Context, job *model.AIJob, cfg model.ModelConfig, res *model.JobResult, log *zerolog.Logger) {
	if p.deps.Cache == nil || !cacheable(job.Type) {
		return
	}
	key := red.ResultCacheKey(job.TenantID, job.Type, cfg, job.Payload)
	if err := p.deps.Cache.Set(ctx, key, res); err != nil {
		log.Warn().Err(err).Msg("result cache write failed")
	}
}

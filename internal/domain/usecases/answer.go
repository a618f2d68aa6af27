package usecases

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"sweetseek/internal/domain/entities"
	"sweetseek/internal/domain/ports"
)

// Answer composition defaults.
const (
	DefaultMaxAttempts     = 3
	DefaultBaseRetryDelay  = 2 * time.Second
	referencePreviewLimit  = 200
	degradedContextPreview = 500
)

// systemPrompt is the fixed grounding instruction for the generation
// capability.
const systemPrompt = `你是一个专注于甜味科学领域的研究助手，知识涵盖甜味剂、味觉感知、食品化学与甜味物理化学原理。

回答原则：
1. 严格基于提供的参考文档回答，不得编造或使用文档外的信息
2. 如果参考文档中没有相关信息，明确说明"根据当前数据库中的文献，暂无相关信息"
3. 引用具体的研究发现并说明来源
4. 将复杂术语解释得通俗易懂，提供简洁、证据充分的回答`

// AnswerComposer builds a grounding prompt from filtered candidates,
// invokes the generation capability with retry and backoff on
// transient failures, and assembles the cited answer.
type AnswerComposer struct {
	generator     ports.Generator
	conversations ports.ConversationStore
	logger        *slog.Logger

	maxAttempts int
	baseDelay   time.Duration
	sleepFn     func(time.Duration)
	nowFn       func() time.Time
}

// NewAnswerComposer creates a composer with the default retry
// schedule.
func NewAnswerComposer(generator ports.Generator, conversations ports.ConversationStore, logger *slog.Logger) *AnswerComposer {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnswerComposer{
		generator:     generator,
		conversations: conversations,
		logger:        logger,
		maxAttempts:   DefaultMaxAttempts,
		baseDelay:     DefaultBaseRetryDelay,
		sleepFn:       time.Sleep,
		nowFn:         time.Now,
	}
}

// Answer generates a grounded answer for the question from the given
// candidates and records the conversation. started marks the beginning
// of the whole request (retrieval included) so the recorded latency
// covers retrieval plus generation. Transient upstream failures are
// retried with exponential backoff; exhaustion and a missing upstream
// degrade to a canned reply that still surfaces retrieved context,
// never a hard failure.
func (c *AnswerComposer) Answer(ctx context.Context, question string, candidates []entities.RetrievedCandidate, started time.Time) (*entities.Answer, error) {
	contextBlock := buildContextBlock(candidates)
	userPrompt := buildUserPrompt(question, contextBlock)

	text, err := c.generate(ctx, userPrompt, contextBlock)
	if err != nil {
		return nil, err
	}

	refs := buildReferences(candidates)
	elapsed := roundHundredths(c.nowFn().Sub(started).Seconds())

	if _, err := c.conversations.Append(ctx, question, text, refs, elapsed); err != nil {
		// The answer is still good; losing one log entry is not.
		c.logger.Warn("conversation append failed", "error", err)
	}

	return &entities.Answer{
		Text:         text,
		References:   refs,
		ResponseTime: elapsed,
	}, nil
}

// generate invokes the generator with the retry/backoff policy.
func (c *AnswerComposer) generate(ctx context.Context, userPrompt, contextBlock string) (string, error) {
	delay := c.baseDelay
	var lastErr error

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		text, err := c.generator.Generate(ctx, systemPrompt, userPrompt)
		if err == nil {
			return text, nil
		}
		lastErr = err

		switch {
		case ports.IsNotConfiguredGeneration(err):
			c.logger.Warn("generation upstream not configured")
			return notConfiguredAnswer(contextBlock), nil
		case ports.IsTransientGeneration(err):
			if attempt < c.maxAttempts {
				c.logger.Warn("generation service busy, retrying",
					"attempt", attempt, "max_attempts", c.maxAttempts, "delay", delay)
				c.sleepFn(delay)
				delay *= 2
				continue
			}
		default:
			return "", fmt.Errorf("generating answer: %w", err)
		}
	}

	c.logger.Warn("generation retries exhausted, degrading to context fallback", "error", lastErr)
	return degradedAnswer(contextBlock), nil
}

// buildContextBlock concatenates candidate texts in retrieval order,
// separated by a document boundary.
func buildContextBlock(candidates []entities.RetrievedCandidate) string {
	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.Chunk.Content
	}
	return strings.Join(texts, "\n\n")
}

// buildUserPrompt fills the grounding template.
func buildUserPrompt(question, contextBlock string) string {
	var sb strings.Builder
	sb.WriteString("基于以下参考文档回答问题。如果文档中没有相关信息，请说明无法从提供的文档中找到答案。\n\n")
	sb.WriteString("参考文档：\n")
	sb.WriteString(contextBlock)
	sb.WriteString("\n\n问题：")
	sb.WriteString(question)
	sb.WriteString("\n\n请用中文回答：")
	return sb.String()
}

// buildReferences emits one reference per candidate, in retrieval
// order, with stable 1-based ids and truncated previews.
func buildReferences(candidates []entities.RetrievedCandidate) []entities.Reference {
	refs := make([]entities.Reference, len(candidates))
	for i, c := range candidates {
		rec := c.Record
		if rec == nil {
			rec = &entities.BibliographicRecord{
				Journal:  "Unknown",
				Year:     "N/A",
				Title:    c.Chunk.SourceName,
				Authors:  []string{},
				DOI:      "Not Available",
				Filename: c.Chunk.SourceName,
			}
		}
		refs[i] = entities.Reference{
			RefID:    fmt.Sprintf("ref_%d", i+1),
			Journal:  rec.Journal,
			Year:     rec.Year,
			Title:    rec.Title,
			Authors:  rec.Authors,
			DOI:      rec.DOI,
			Filename: c.Chunk.SourceName,
			Score:    c.Score,
			Content:  truncate(c.Chunk.Content, referencePreviewLimit),
		}
	}
	return refs
}

// degradedAnswer is the canned reply when the generation upstream
// stays busy: an apology that still surfaces retrieved context.
func degradedAnswer(contextBlock string) string {
	return fmt.Sprintf("抱歉，生成服务当前繁忙，请稍后再试。\n\n基于检索到的文档，我可以提供以下参考信息：\n\n%s",
		truncate(contextBlock, degradedContextPreview))
}

// notConfiguredAnswer is the canned reply when no generation upstream
// is configured at all.
func notConfiguredAnswer(contextBlock string) string {
	return fmt.Sprintf("生成服务未配置，无法生成回答。\n\n基于检索到的文档，我可以提供以下参考信息：\n\n%s",
		truncate(contextBlock, degradedContextPreview))
}

// roundHundredths rounds seconds to two decimal places.
func roundHundredths(seconds float64) float64 {
	return math.Round(seconds*100) / 100
}

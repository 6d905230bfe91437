// Package pipeline turns one fetched item into a recorded outcome.
package pipeline

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/localclaw/internal/ai"
	"github.com/nhle/localclaw/internal/metrics"
	"github.com/nhle/localclaw/internal/model"
	"github.com/nhle/localclaw/internal/source"
	"github.com/nhle/localclaw/internal/store"
)

// Mode is the runtime configuration captured when an item is processed.
type Mode struct {
	DryRun    bool
	AutoReply bool
}

// Processor runs items through inference and records the outcome.
type Processor struct {
	gen    ai.Generator
	store  *store.Store
	kinds  map[string]model.ChannelType
	logger *zap.Logger
	now    func() time.Time
}

// Option configures a Processor.
type Option func(*Processor)

// WithChannelTypes maps channel ids to their backend type so prompts can
// be worded per channel.
func WithChannelTypes(kinds map[string]model.ChannelType) Option {
	return func(p *Processor) { p.kinds = kinds }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Processor) { p.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// New creates a processor.
func New(gen ai.Generator, st *store.Store, opts ...Option) *Processor {
	p := &Processor{
		gen:    gen,
		store:  st,
		kinds:  map[string]model.ChannelType{},
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process classifies one item. Empty bodies are skipped without calling
// inference. Otherwise dry-run always yields a draft; without dry-run the
// reply is sent only when the channel allows auto-reply. The item is then
// marked consumed, its sender recorded and the outcome appended. Failures
// are reflected in the returned outcome, never returned as errors.
func (p *Processor) Process(ctx context.Context, backend source.Backend, item model.Item, mode Mode) model.Outcome {
	log := p.logger.With(
		zap.String("channel", item.Channel),
		zap.String("item", item.ID),
	)
	out := model.Outcome{Item: item}

	if strings.TrimSpace(item.Body) == "" {
		out.Status = model.OutcomeSkipped
		p.increment(model.StatSkipped)
		log.Info("skipped item with empty body", zap.String("from", item.From))
	} else {
		out.Reply, out.Truncated = p.Draft(ctx, item)

		switch {
		case mode.DryRun:
			out.Status = model.OutcomeDraft
		case mode.AutoReply:
			if err := backend.SendResponse(ctx, item, out.Reply); err != nil {
				out.Status = model.OutcomeFailed
				out.Error = err.Error()
				log.Error("sending reply failed", zap.Error(err))
			} else {
				out.Status = model.OutcomeReplied
				p.increment(model.StatSent)
			}
		default:
			out.Status = model.OutcomeDraft
		}
	}
	out.ProcessedAt = p.now()

	backend.MarkConsumed(ctx, item)

	if err := p.store.RecordSender(senderKey(item), item.Sender(), item.Channel, item.Subject); err != nil {
		log.Warn("recording sender failed", zap.Error(err))
	}
	p.increment(model.StatProcessed)

	recorded, err := p.store.AppendOutcome(out)
	if err != nil {
		log.Warn("recording outcome failed", zap.Error(err))
	}
	metrics.IncrementOutcome(item.Channel, string(out.Status))

	log.Info("item processed",
		zap.String("status", string(out.Status)),
		zap.String("from", item.From),
		zap.String("subject", item.Subject))
	return recorded
}

// Draft generates a reply for item without sending or recording it. When
// inference fails the fallback text is returned.
func (p *Processor) Draft(ctx context.Context, item model.Item) (string, bool) {
	prompt, truncated := BuildPrompt(p.kinds[item.Channel], item)

	snap := p.store.Read()
	system := ai.SystemPrompt(snap.Identity, snap.Memory)

	start := p.now()
	reply, err := p.gen.Generate(ctx, prompt, system)
	if err != nil {
		metrics.RecordInferenceLatency("error", p.now().Sub(start))
		p.logger.Warn("inference failed, using fallback reply",
			zap.String("channel", item.Channel),
			zap.Error(err))
		return ai.FallbackReply, truncated
	}
	metrics.RecordInferenceLatency("ok", p.now().Sub(start))

	if strings.TrimSpace(reply) == "" {
		return ai.FallbackReply, truncated
	}
	return reply, truncated
}

func (p *Processor) increment(stat string) {
	if err := p.store.IncrementStat(stat, 1); err != nil {
		p.logger.Warn("incrementing stat failed", zap.String("stat", stat), zap.Error(err))
	}
}

func senderKey(item model.Item) string {
	if item.From != "" {
		return item.From
	}
	if item.Name != "" {
		return item.Name
	}
	return item.Channel
}

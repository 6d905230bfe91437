package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/nhle/localclaw/internal/ai"
	"github.com/nhle/localclaw/internal/model"
	"github.com/nhle/localclaw/internal/store"
)

const topSenders = 5

// SummaryPrompt renders the daily summary request.
func SummaryPrompt(owner string, stats model.Stats, senders []store.SenderView) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Generate a brief daily summary for %s:\n\n", owner)
	sb.WriteString("Stats today:\n")
	fmt.Fprintf(&sb, "  - Items processed: %d\n", stats.Get(model.StatProcessed))
	fmt.Fprintf(&sb, "  - Replies sent: %d\n", stats.Get(model.StatSent))
	fmt.Fprintf(&sb, "  - Items skipped: %d\n\n", stats.Get(model.StatSkipped))

	sb.WriteString("Top senders:\n")
	if len(senders) == 0 {
		sb.WriteString("  (none)\n")
	}
	for i, s := range senders {
		if i == topSenders {
			break
		}
		fmt.Fprintf(&sb, "  - %s (%d messages)\n", s.ID, s.Count)
	}

	sb.WriteString("\nKeep the summary to 3-4 sentences. Highlight anything notable.")
	return sb.String()
}

// DailySummary asks the generator for a summary of the store's statistics
// and writes it to the diagnostic log.
func DailySummary(st *store.Store, gen ai.Generator, logger *zap.Logger) Task {
	return func(ctx context.Context, _ time.Time) error {
		snap := st.Read()
		prompt := SummaryPrompt(snap.Identity.Owner, snap.Stats, st.Senders())

		summary, err := gen.Generate(ctx, prompt, ai.SystemPrompt(snap.Identity, snap.Memory))
		if err != nil {
			logger.Warn("daily summary inference failed", zap.Error(err))
			summary = ai.FallbackReply
		}
		logger.Debug("daily summary", zap.String("summary", summary))

		return st.AppendLog("info", "Daily summary generated: "+preview(summary, 80)+"...")
	}
}

// MemoryCleanup forgets memory facts not updated within maxAge.
func MemoryCleanup(st *store.Store, maxAge time.Duration) Task {
	return func(_ context.Context, now time.Time) error {
		cutoff := now.Add(-maxAge)
		removed := 0
		err := st.Mutate(func(snap *model.Snapshot) {
			for k, f := range snap.Memory {
				if f.UpdatedAt.Before(cutoff) {
					delete(snap.Memory, k)
					removed++
				}
			}
		})
		if err != nil {
			return fmt.Errorf("cleaning memory: %w", err)
		}
		return st.AppendLog("info", fmt.Sprintf("Memory cleanup removed %d stale facts", removed))
	}
}

func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/mixmentor/mixmentor/internal/metrics"
)

// Searcher is the injector's view of the store
type Searcher interface {
	Search(ctx context.Context, sessionID string, queryVec []float32, k int) ([]Scored, error)
}

// Injector turns relevant memories into a prompt block
type Injector struct {
	store     Searcher
	topK      int
	threshold float64
	logger    *zap.Logger
}

// NewInjector builds an injector over the store.
func NewInjector(store Searcher, topK int, threshold float64, logger *zap.Logger) *Injector {
	if topK <= 0 {
		topK = 5
	}
	if threshold <= 0 {
		threshold = 0.35
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Injector{store: store, topK: topK, threshold: threshold, logger: logger}
}

// Inject returns the formatted memory block for the session, or "" when
// nothing clears the trigger threshold. Store errors are returned so the
// caller can attach the memory_unavailable warning; they never fail the ask.
func (inj *Injector) Inject(ctx context.Context, sessionID string, queryVec []float32) (string, error) {
	if sessionID == "" || len(queryVec) == 0 {
		return "", nil
	}

	scored, err := inj.store.Search(ctx, sessionID, queryVec, inj.topK)
	if err != nil {
		return "", err
	}

	kept := scored[:0]
	for _, s := range scored {
		if s.DecayedScore >= inj.threshold {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		return "", nil
	}
	metrics.MemoryEntriesInjected.Observe(float64(len(kept)))

	// Group by type; groups ordered by their best decayed score, entries
	// within a group by decayed score descending
	groups := make(map[Type][]Scored)
	for _, s := range kept {
		groups[s.Entry.Type] = append(groups[s.Entry.Type], s)
	}
	type group struct {
		t    Type
		best float64
	}
	order := make([]group, 0, len(groups))
	for t, members := range groups {
		best := members[0].DecayedScore
		for _, m := range members {
			if m.DecayedScore > best {
				best = m.DecayedScore
			}
		}
		order = append(order, group{t: t, best: best})
	}
	sort.Slice(order, func(i, j int) bool {
		if order[i].best != order[j].best {
			return order[i].best > order[j].best
		}
		return order[i].t < order[j].t
	})

	var b strings.Builder
	b.WriteString("What you know about this user:\n")
	for _, g := range order {
		members := groups[g.t]
		sort.Slice(members, func(i, j int) bool {
			return members[i].DecayedScore > members[j].DecayedScore
		})
		fmt.Fprintf(&b, "[%s]\n", g.t)
		for _, m := range members {
			fmt.Fprintf(&b, "- %s\n", m.Entry.Content)
		}
	}
	return b.String(), nil
}

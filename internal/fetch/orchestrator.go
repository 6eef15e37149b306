// Package fetch coordinates the conversation API and the local cache:
// read-through on lookup, write-through once a full result set is assembled.
package fetch

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/colthorp/convcache-go/internal/api"
	"github.com/colthorp/convcache-go/internal/cache"
	"github.com/colthorp/convcache-go/internal/core"
)

// Orchestrator paginates the remote API and consults the cache manager on
// both sides of the fetch.
type Orchestrator struct {
	api     *api.ConversationAPI
	cache   *cache.Manager
	verbose bool
}

// NewOrchestrator creates an orchestrator over the given API client and
// cache manager.
func NewOrchestrator(convAPI *api.ConversationAPI, manager *cache.Manager, verbose bool) *Orchestrator {
	return &Orchestrator{api: convAPI, cache: manager, verbose: verbose}
}

func (o *Orchestrator) log(msg string) {
	core.Eprint(fmt.Sprintf("[Fetch] %s", msg), o.verbose)
}

// Options controls a fetch.
type Options struct {
	Owner     string
	Quiet     bool
	Refresh   bool // skip the cache read and always hit the API
	CacheOnly bool // never hit the API; cache misses return nothing
	Direction string
}

// FetchDay returns the conversations for one day, consulting the cache
// first. On a miss the full remote result set is paginated, assembled into
// a payload, and written through before returning. The write-through only
// happens after the complete set is in hand; there are no partial writes.
func (o *Orchestrator) FetchDay(ctx context.Context, day time.Time, opts Options) []map[string]interface{} {
	dateStr := core.FormatDate(day)

	if !opts.Refresh {
		if payload, ok := o.cache.Lookup(ctx, opts.Owner, cache.DateString(dateStr)); ok {
			o.log(fmt.Sprintf("Cache hit for %s/%s", opts.Owner, dateStr))
			items, _ := cache.PayloadItems(payload)
			return toMaps(items)
		}
	}

	if opts.CacheOnly {
		o.log(fmt.Sprintf("Cache miss for %s/%s (cache-only mode, skipping API)", opts.Owner, dateStr))
		return nil
	}

	core.ProgressPrint(fmt.Sprintf("Fetching API for %s…", dateStr), opts.Quiet)

	items := make([]map[string]interface{}, 0)
	for conv := range o.api.FetchConversations(api.ConversationOptions{
		Owner:     opts.Owner,
		Date:      dateStr,
		Direction: opts.Direction,
	}) {
		items = append(items, conv)
	}

	payload := map[string]interface{}{
		"items": items,
		"counters": map[string]interface{}{
			"itemCount": len(items),
		},
	}
	if !o.cache.Store(ctx, opts.Owner, cache.DateString(dateStr), payload) {
		o.log(fmt.Sprintf("Proceeding without a cache entry for %s/%s", opts.Owner, dateStr))
	}

	return items
}

// StreamRange yields conversations over start...end inclusive. Days are
// fetched with bounded parallelism but always emitted in range order
// (ascending unless Direction is desc). Results are capped at maxResults
// when > 0.
func (o *Orchestrator) StreamRange(ctx context.Context, start, end time.Time, opts Options, maxResults, parallel int) <-chan map[string]interface{} {
	if parallel < 1 {
		parallel = 1
	}

	days := make([]time.Time, 0)
	for d := core.DateOnly(start); !d.After(core.DateOnly(end)); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	if opts.Direction == "desc" {
		for i, j := 0, len(days)-1; i < j; i, j = i+1, j-1 {
			days[i], days[j] = days[j], days[i]
		}
	}

	ch := make(chan map[string]interface{})

	go func() {
		defer close(ch)

		results := make([][]map[string]interface{}, len(days))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(parallel)
		for i, day := range days {
			g.Go(func() error {
				results[i] = o.FetchDay(gctx, day, opts)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			o.log(fmt.Sprintf("Range fetch aborted: %v", err))
			return
		}

		emitted := 0
		for _, dayItems := range results {
			for _, item := range dayItems {
				if maxResults > 0 && emitted >= maxResults {
					return
				}
				select {
				case ch <- item:
					emitted++
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return ch
}

// toMaps narrows a decoded items list to the map shape the callers work in.
func toMaps(items []interface{}) []map[string]interface{} {
	result := make([]map[string]interface{}, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]interface{}); ok {
			result = append(result, m)
		}
	}
	return result
}

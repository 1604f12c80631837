package report

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/graph-gophers/dataloader"

	"github.com/gxplab/reportengine/internal/store"
)

// EntityKind names the reference entities whose display names enrich
// segment keys.
type EntityKind string

const (
	KindProgram    EntityKind = "program"
	KindSite       EntityKind = "site"
	KindSubmission EntityKind = "submission"
)

type kindSpec struct {
	table      string
	keyColumn  string
	nameColumn string
	// mutable entities are re-fetched every run instead of trusting a
	// cached label across report executions.
	mutable bool
}

var kindSpecs = map[EntityKind]kindSpec{
	KindProgram:    {table: "pilot_programs", keyColumn: "program_id", nameColumn: "name"},
	KindSite:       {table: "sites", keyColumn: "site_id", nameColumn: "name", mutable: true},
	KindSubmission: {table: "submissions", keyColumn: "submission_id", nameColumn: "global_submission_id"},
}

// segmentKinds maps segment field names to the reference entity they key.
var segmentKinds = map[string]EntityKind{
	"program_id":    KindProgram,
	"site_id":       KindSite,
	"submission_id": KindSubmission,
}

// EntityNameCache memoizes id → display-name lookups for the reference
// entities. It is an explicit instance owned by the engine, not module
// state; Reset empties all three maps. Program and submission names are
// filled once and kept for the cache's lifetime, site names are always
// refreshed because they are mutable and drive UI labels.
type EntityNameCache struct {
	client store.Client

	mu      sync.Mutex
	loaders map[EntityKind]*dataloader.Loader
}

// NewEntityNameCache builds a cache over the given store client. A nil
// client is tolerated; lookups then resolve to nothing.
func NewEntityNameCache(client store.Client) *EntityNameCache {
	cache := &EntityNameCache{client: client}
	cache.Reset()
	return cache
}

// Reset discards every cached display name. The UI calls this on logout
// or an explicit cache-clear action.
func (c *EntityNameCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loaders = make(map[EntityKind]*dataloader.Loader, len(kindSpecs))
	for kind, spec := range kindSpecs {
		c.loaders[kind] = c.newLoader(kind, spec)
	}
}

func (c *EntityNameCache) newLoader(kind EntityKind, spec kindSpec) *dataloader.Loader {
	batchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		results := make([]*dataloader.Result, len(keys))
		if c.client == nil {
			for i := range results {
				results[i] = &dataloader.Result{Error: fmt.Errorf("no store client for %s names", kind)}
			}
			return results
		}

		ids := make([]any, len(keys))
		for i, key := range keys {
			ids[i] = key.String()
		}
		rows, err := c.client.Select(ctx, store.SelectRequest{
			Table:   spec.table,
			Columns: []string{spec.keyColumn, spec.nameColumn},
			Where: []store.Predicate{store.Conjunct(store.Condition{
				Field:  spec.keyColumn,
				Op:     store.OpIn,
				Values: ids,
			})},
		})
		if err != nil {
			for i := range results {
				results[i] = &dataloader.Result{Error: fmt.Errorf("load %s names: %w", kind, err)}
			}
			return results
		}

		names := make(map[string]string, len(rows))
		for _, row := range rows {
			id, okID := row[spec.keyColumn]
			name, okName := row[spec.nameColumn]
			if !okID || !okName || id == nil || name == nil {
				continue
			}
			names[fmt.Sprintf("%v", id)] = fmt.Sprintf("%v", name)
		}

		for i, key := range keys {
			if name, ok := names[key.String()]; ok {
				results[i] = &dataloader.Result{Data: name}
			} else {
				results[i] = &dataloader.Result{Data: nil}
			}
		}
		return results
	}

	opts := []dataloader.Option{dataloader.WithWait(5 * time.Millisecond)}
	if spec.mutable {
		opts = append(opts, dataloader.WithCache(&dataloader.NoCache{}))
	}
	return dataloader.NewBatchedLoader(batchFn, opts...)
}

func (c *EntityNameCache) loader(kind EntityKind) *dataloader.Loader {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loaders[kind]
}

// Name resolves one id to its display name. A miss or load failure is not
// an error for the caller: the row simply goes without a label.
func (c *EntityNameCache) Name(ctx context.Context, kind EntityKind, id string) (string, bool) {
	if id == "" {
		return "", false
	}
	loader := c.loader(kind)
	if loader == nil {
		return "", false
	}
	value, err := loader.Load(ctx, dataloader.StringKey(id))()
	if err != nil {
		log.Printf("[engine] %s name lookup for %s failed: %v", kind, id, err)
		return "", false
	}
	name, ok := value.(string)
	return name, ok && name != ""
}

// Warm populates the cache for the ids a result set references, one
// bounded concurrent lookup per entity kind, awaited jointly before
// shaping proceeds.
func (c *EntityNameCache) Warm(ctx context.Context, ids map[EntityKind][]string) {
	var wg sync.WaitGroup
	for kind, list := range ids {
		if len(list) == 0 {
			continue
		}
		loader := c.loader(kind)
		if loader == nil {
			continue
		}
		keys := make(dataloader.Keys, 0, len(list))
		for _, id := range list {
			if id != "" {
				keys = append(keys, dataloader.StringKey(id))
			}
		}
		if len(keys) == 0 {
			continue
		}
		wg.Add(1)
		go func(kind EntityKind, keys dataloader.Keys) {
			defer wg.Done()
			if _, errs := loader.LoadMany(ctx, keys)(); len(errs) > 0 {
				log.Printf("[engine] warming %s names: %d lookups failed", kind, len(errs))
			}
		}(kind, keys)
	}
	wg.Wait()
}

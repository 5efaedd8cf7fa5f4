package sync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/Amicidal/sigmachad-sub002/internal/astparse"
	"github.com/Amicidal/sigmachad-sub002/internal/cypher"
	"github.com/Amicidal/sigmachad-sub002/internal/embedding"
	"github.com/Amicidal/sigmachad-sub002/internal/entities"
	"github.com/Amicidal/sigmachad-sub002/internal/graphmodel"
	"github.com/Amicidal/sigmachad-sub002/internal/logging"
	"github.com/Amicidal/sigmachad-sub002/internal/pubsub"
	"github.com/Amicidal/sigmachad-sub002/internal/relationships"
)

// fileSnapshot is what the coordinator remembers about a file's prior
// ingest, used to diff the next parse against.
type fileSnapshot struct {
	hash      string
	symbolIDs map[string]bool
}

// CommitStats summarizes the effect of one file's pipeline run, fed to
// the monitoring component (C10).
type CommitStats struct {
	Path                  string
	EntitiesCreated       int
	EntitiesUpdated       int
	EntitiesDeleted       int
	RelationshipsCreated  int
	RelationshipsUpdated  int
	RelationshipsDeleted  int
	Conflicts             int
	Errors                []error
}

// Coordinator is the Synchronization Coordinator (C9): debounces file
// events, runs the parse/diff/commit/embed/reconcile pipeline per path
// with per-path ordering, and maintains checkpoints.
type Coordinator struct {
	queue    *Queue
	parsers  map[string]astparse.LanguageParser
	entities *entities.Service
	rels     *relationships.Service
	embed    *embedding.Service
	exec     *cypher.Executor
	resolver *Resolver
	events   *pubsub.Broker

	sem *semaphore.Weighted

	mu         sync.Mutex
	pathLocks  map[string]*sync.Mutex
	snapshots  map[string]*fileSnapshot
	global     astparse.GlobalIndex
	windowIDs  map[string]bool

	checkpointWindow time.Duration
	lastCheckpoint   time.Time
	changeSetSeq     int64

	maxConcurrent int
}

// Config configures a Coordinator.
type Config struct {
	MaxConcurrent    int           // default min(GOMAXPROCS, 8)
	DebounceWindow   time.Duration // default 500ms
	QueueSoftCap     int
	CheckpointWindow time.Duration // default 5m
}

// New constructs a Coordinator wired to the given parsers (keyed by file
// extension) and downstream services. exec is used directly only for
// Checkpoint bookkeeping, which has no natural home in C3/C4.
func New(cfg Config, parsers map[string]astparse.LanguageParser, entitySvc *entities.Service, relSvc *relationships.Service, embedSvc *embedding.Service, exec *cypher.Executor, events *pubsub.Broker) *Coordinator {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = runtime.GOMAXPROCS(0)
		if maxConcurrent > 8 {
			maxConcurrent = 8
		}
	}
	checkpointWindow := cfg.CheckpointWindow
	if checkpointWindow <= 0 {
		checkpointWindow = 5 * time.Minute
	}
	if events == nil {
		events = pubsub.New(64)
	}

	c := &Coordinator{
		queue:            NewQueue(cfg.DebounceWindow, cfg.QueueSoftCap),
		parsers:          parsers,
		entities:         entitySvc,
		rels:             relSvc,
		embed:            embedSvc,
		exec:             exec,
		events:           events,
		sem:              semaphore.NewWeighted(int64(maxConcurrent)),
		pathLocks:        make(map[string]*sync.Mutex),
		snapshots:        make(map[string]*fileSnapshot),
		global:           astparse.GlobalIndex{},
		windowIDs:        make(map[string]bool),
		checkpointWindow: checkpointWindow,
		lastCheckpoint:   time.Now(),
		maxConcurrent:    maxConcurrent,
	}
	c.resolver = NewResolver(func(string) bool { return false })
	c.resolver.OnConflict(c.onConflict)
	return c
}

// Enqueue submits a file event to the debounced queue.
func (c *Coordinator) Enqueue(event FileEvent) {
	c.queue.Push(event)
}

// Run drains settled debounced events every tick until ctx is done,
// dispatching each to a per-path worker bounded by maxConcurrent.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	checkpointTicker := time.NewTicker(c.checkpointWindow)
	defer checkpointTicker.Stop()
	reconcileTicker := time.NewTicker(30 * time.Second)
	defer reconcileTicker.Stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			logging.Sync("coordinator: context cancelled")
			return
		case <-checkpointTicker.C:
			if err := c.Checkpoint(ctx); err != nil {
				logging.SyncError("coordinator: checkpoint failed: %v", err)
			}
		case <-reconcileTicker.C:
			if _, err := c.ReconcileDeferredRefs(ctx); err != nil {
				logging.SyncError("coordinator: reconcile failed: %v", err)
			}
		case <-ticker.C:
			for _, event := range c.queue.Settled(time.Now()) {
				event := event
				if err := c.sem.Acquire(ctx, 1); err != nil {
					return
				}
				wg.Add(1)
				go func() {
					defer wg.Done()
					defer c.sem.Release(1)
					c.processEvent(ctx, event)
				}()
			}
		}
	}
}

// pathLock returns (creating if necessary) the mutex pinning path to
// serialized processing, per spec's "monotonic per-path ordering".
func (c *Coordinator) pathLock(path string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.pathLocks[path]
	if !ok {
		l = &sync.Mutex{}
		c.pathLocks[path] = l
	}
	return l
}

func (c *Coordinator) processEvent(ctx context.Context, event FileEvent) {
	lock := c.pathLock(event.Path)
	lock.Lock()
	defer lock.Unlock()

	stats, err := c.pipeline(ctx, event)
	if err != nil {
		logging.SyncError("coordinator: pipeline failed for %s: %v", event.Path, err)
		c.events.Publish(pubsub.Event{Topic: "sync:error", Payload: err})
		return
	}
	c.events.Publish(pubsub.Event{Topic: "sync:committed", Payload: stats})
}

// ProcessOne runs the full pipeline for a single event synchronously,
// bypassing the debounced queue. Used by one-shot full-repository
// ingestion (the operational CLI's reindex command) where every path
// should be committed in this call rather than settle on a ticker.
func (c *Coordinator) ProcessOne(ctx context.Context, event FileEvent) (*CommitStats, error) {
	lock := c.pathLock(event.Path)
	lock.Lock()
	defer lock.Unlock()
	return c.pipeline(ctx, event)
}

// pipeline runs the per-file steps from spec §4.9: hash check, parse,
// diff, commit, reconcile-enqueue, embed, temporal bookkeeping.
func (c *Coordinator) pipeline(ctx context.Context, event FileEvent) (*CommitStats, error) {
	stats := &CommitStats{Path: event.Path}
	changeSetID := c.nextChangeSetID()

	if event.Type == ChangeDelete {
		return c.commitDeletion(ctx, event.Path, changeSetID, stats)
	}

	content, err := os.ReadFile(event.Path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", event.Path, err)
	}

	hash := contentHash(content)
	c.mu.Lock()
	prior := c.snapshots[event.Path]
	c.mu.Unlock()

	if event.Type == ChangeModify && prior != nil && prior.hash == hash {
		return stats, nil // unchanged, drop per hash check
	}

	parser := c.parserFor(event.Path)
	if parser == nil {
		return stats, nil // unsupported extension, nothing to parse
	}
	result, err := parser.Parse(event.Path, content)
	if err != nil {
		stats.Errors = append(stats.Errors, err)
		return stats, nil
	}

	currentSymbolIDs := make(map[string]bool, len(result.Symbols))
	for _, sym := range result.Symbols {
		currentSymbolIDs[sym.ID] = true
	}
	var removed []string
	if prior != nil {
		for id := range prior.symbolIDs {
			if !currentSymbolIDs[id] {
				removed = append(removed, id)
			}
		}
	}

	if err := c.commit(ctx, result, removed, changeSetID, stats); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.snapshots[event.Path] = &fileSnapshot{hash: hash, symbolIDs: currentSymbolIDs}
	for _, sym := range result.Symbols {
		if sym.Symbol != nil {
			c.global[sym.Symbol.Name] = appendUnique(c.global[sym.Symbol.Name], sym.ID)
		}
	}
	c.mu.Unlock()

	if c.embed != nil {
		all := append([]*graphmodel.Entity{result.File}, result.Symbols...)
		c.embed.BatchEmbed(ctx, all, 16, nil)
	}

	return stats, nil
}

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

// commit applies one file's parse result transactionally: upsert
// file+symbol entities, bulk-upsert relationships with mergeEvidence,
// close edges for removed symbols, stamp changeSetId.
func (c *Coordinator) commit(ctx context.Context, result *astparse.Result, removedSymbolIDs []string, changeSetID string, stats *CommitStats) error {
	all := append([]*graphmodel.Entity{result.File}, result.Symbols...)
	now := time.Now().UTC()
	for _, e := range all {
		e.LastModified = now
		if e.Created.IsZero() {
			e.Created = now
		}
		if e.Metadata == nil {
			e.Metadata = graphmodel.Attributes{}
		}
		e.Metadata["changeSetId"] = changeSetID
	}

	for _, sym := range result.Symbols {
		if sym.Symbol == nil {
			continue
		}
		prior, err := c.entities.Get(ctx, sym.ID)
		if err != nil || prior == nil || prior.Symbol == nil {
			continue // first sighting, nothing to version against
		}
		if prior.Symbol.Signature == sym.Symbol.Signature {
			continue
		}
		sym.Version = prior.Version + 1
		if err := c.openPreviousVersion(ctx, prior, changeSetID, now); err != nil {
			stats.Errors = append(stats.Errors, err)
		}
	}

	bulkRes, err := c.entities.BulkUpsert(ctx, all)
	if err != nil {
		return fmt.Errorf("commit entities: %w", err)
	}
	stats.EntitiesCreated += bulkRes.Upserted
	for _, f := range bulkRes.Failed {
		stats.Errors = append(stats.Errors, f.Err)
	}

	c.mu.Lock()
	for _, e := range all {
		c.windowIDs[e.ID] = true
	}
	c.mu.Unlock()

	if len(result.Relationships) > 0 {
		for _, r := range result.Relationships {
			r.ChangeSetID = changeSetID
		}
		relRes, err := c.rels.BulkUpsert(ctx, result.Relationships, relationships.BulkOptions{
			MergeEvidence:    true,
			UpdateTimestamps: true,
		})
		if err != nil {
			return fmt.Errorf("commit relationships: %w", err)
		}
		stats.RelationshipsCreated += relRes.Upserted
		for _, f := range relRes.Failed {
			stats.Errors = append(stats.Errors, f.Err)
		}
	}

	for _, symID := range removedSymbolIDs {
		if err := c.closeOutgoingEdges(ctx, symID, now); err != nil {
			stats.Errors = append(stats.Errors, err)
			continue
		}
		if err := c.entities.Delete(ctx, symID); err != nil {
			stats.Errors = append(stats.Errors, err)
			continue
		}
		stats.EntitiesDeleted++
	}

	return nil
}

// openPreviousVersion snapshots prior's signature into a Version node
// and links the symbol to it via a PREVIOUS_VERSION edge, per spec
// §4.9 step 7 ("append a PREVIOUS_VERSION edge for symbols whose
// signature changed"). Like Checkpoint, this bypasses the
// entities/relationships service layer: neither owns the Version
// snapshot shape, only the symbol/edge records they already manage.
func (c *Coordinator) openPreviousVersion(ctx context.Context, prior *graphmodel.Entity, changeSetID string, at time.Time) error {
	if c.exec == nil {
		return nil
	}
	versionID := fmt.Sprintf("version:%s:%d", prior.ID, prior.Version)
	_, err := c.exec.Execute(ctx, `
		MERGE (v:Version {id: $versionId})
		ON CREATE SET v.entityId = $entityId, v.signature = $signature, v.version = $version,
		              v.recordedAt = $recordedAt, v.changeSetId = $changeSetId
		WITH v
		MATCH (e {id: $entityId})
		MERGE (e)-[r:PREVIOUS_VERSION]->(v)
		ON CREATE SET r.id = $edgeId, r.created = $recordedAt, r.lastModified = $recordedAt,
		              r.version = 1, r.active = true, r.validFrom = $recordedAt, r.changeSetId = $changeSetId
	`, map[string]interface{}{
		"versionId":   versionID,
		"entityId":    prior.ID,
		"signature":   prior.Symbol.Signature,
		"version":     prior.Version,
		"recordedAt":  at.Format(time.RFC3339Nano),
		"changeSetId": changeSetID,
		"edgeId":      "rel:" + versionID,
	}, cypher.Options{AccessMode: cypher.AccessWrite, Retryable: true})
	if err != nil {
		return fmt.Errorf("open previous version for %s: %w", prior.ID, err)
	}
	return nil
}

// closeOutgoingEdges closes every active relationship sourced from
// entityID, used when a symbol is removed from its file.
func (c *Coordinator) closeOutgoingEdges(ctx context.Context, entityID string, at time.Time) error {
	list, err := c.rels.List(ctx, relationships.ListQuery{FromEntityID: entityID, ActiveOnly: true})
	if err != nil {
		return err
	}
	for _, r := range list {
		if err := c.rels.CloseEdge(ctx, r.ID, at); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) commitDeletion(ctx context.Context, path string, changeSetID string, stats *CommitStats) (*CommitStats, error) {
	fileID := astparse.FileID(path)

	c.mu.Lock()
	prior := c.snapshots[path]
	delete(c.snapshots, path)
	c.mu.Unlock()

	at := time.Now().UTC()
	if prior != nil {
		for symID := range prior.symbolIDs {
			if err := c.closeOutgoingEdges(ctx, symID, at); err != nil {
				stats.Errors = append(stats.Errors, err)
				continue
			}
			if err := c.entities.Delete(ctx, symID); err != nil {
				stats.Errors = append(stats.Errors, err)
				continue
			}
			stats.EntitiesDeleted++
		}
	}
	if err := c.closeOutgoingEdges(ctx, fileID, at); err != nil {
		stats.Errors = append(stats.Errors, err)
	}
	if err := c.entities.Delete(ctx, fileID); err != nil {
		stats.Errors = append(stats.Errors, err)
	} else {
		stats.EntitiesDeleted++
	}
	return stats, nil
}

func (c *Coordinator) parserFor(path string) astparse.LanguageParser {
	for ext, p := range c.parsers {
		if hasSuffix(path, ext) {
			return p
		}
	}
	return nil
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}

func contentHash(content []byte) string {
	h := sha256.Sum256(content)
	return hex.EncodeToString(h[:])
}

func (c *Coordinator) nextChangeSetID() string {
	c.mu.Lock()
	c.changeSetSeq++
	seq := c.changeSetSeq
	c.mu.Unlock()
	return fmt.Sprintf("changeset-%d-%d", time.Now().UTC().Unix(), seq)
}

func (c *Coordinator) onConflict(conflict Conflict, resolution Resolution) {
	c.events.Publish(pubsub.Event{Topic: "sync:conflict", Payload: map[string]interface{}{
		"kind":     conflict.Kind,
		"entityId": conflict.EntityID,
		"resolved": resolution.Resolved,
		"strategy": resolution.Strategy,
	}})
}

// QueueDepth reports the number of paths currently pending debounce.
func (c *Coordinator) QueueDepth() int { return c.queue.Len() }

// DroppedCount reports how many pending entries were dropped under
// backpressure.
func (c *Coordinator) DroppedCount() int { return c.queue.Dropped() }

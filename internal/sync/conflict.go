package sync

import (
	"github.com/Amicidal/sigmachad-sub002/internal/graphmodel"
)

// ConflictKind distinguishes why a commit-time conflict was detected.
type ConflictKind string

const (
	// ConflictStaleBaseline fires when the stored entity's lastModified
	// differs from the incoming baseline the diff was computed against.
	ConflictStaleBaseline ConflictKind = "stale-baseline"
	// ConflictResolutionDowngrade fires when an incoming relationship
	// carries a weaker resolution class than the one already stored.
	ConflictResolutionDowngrade ConflictKind = "resolution-downgrade"
)

// Conflict describes one detected commit-time conflict.
type Conflict struct {
	Kind     ConflictKind
	EntityID string
	Stored   *graphmodel.Entity
	Incoming *graphmodel.Entity
}

// Resolution is what a strategy decided to do with a conflict.
type Resolution struct {
	Resolved bool
	Merged   *graphmodel.Entity
	Strategy string
}

// Strategy resolves one conflict, or reports that it could not.
type Strategy interface {
	Name() string
	Resolve(c Conflict) (Resolution, bool)
}

// lastWriteWinsStrategy overwrites the stored entity with the incoming one.
type lastWriteWinsStrategy struct{}

func (lastWriteWinsStrategy) Name() string { return "last_write_wins" }

func (lastWriteWinsStrategy) Resolve(c Conflict) (Resolution, bool) {
	if c.Incoming == nil {
		return Resolution{}, false
	}
	return Resolution{Resolved: true, Merged: c.Incoming, Strategy: "last_write_wins"}, true
}

// propertyMergeStrategy unions metadata, keeps the max lastModified, and
// merges same-shape properties rather than blindly overwriting.
type propertyMergeStrategy struct{}

func (propertyMergeStrategy) Name() string { return "property_merge" }

func (propertyMergeStrategy) Resolve(c Conflict) (Resolution, bool) {
	if c.Stored == nil || c.Incoming == nil {
		return Resolution{}, false
	}
	merged := *c.Incoming
	if c.Stored.LastModified.After(merged.LastModified) {
		merged.LastModified = c.Stored.LastModified
	}
	merged.Metadata = mergeMetadata(c.Stored.Metadata, c.Incoming.Metadata)
	return Resolution{Resolved: true, Merged: &merged, Strategy: "property_merge"}, true
}

func mergeMetadata(stored, incoming graphmodel.Attributes) graphmodel.Attributes {
	if stored == nil {
		return incoming
	}
	out := graphmodel.Attributes{}
	for k, v := range stored {
		out[k] = v
	}
	for k, v := range incoming {
		if existing, ok := out[k]; ok {
			if es, eok := existing.([]interface{}); eok {
				if is, iok := v.([]interface{}); iok {
					out[k] = unionInterfaceSlices(es, is)
					continue
				}
			}
		}
		out[k] = v
	}
	return out
}

func unionInterfaceSlices(a, b []interface{}) []interface{} {
	seen := make(map[interface{}]bool, len(a))
	out := make([]interface{}, 0, len(a)+len(b))
	for _, v := range a {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	for _, v := range b {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

// skipDeletionsStrategy refuses to apply an incoming delete when
// dependents of the entity still exist, per spec semantics; hasDependents
// is supplied by the coordinator since it requires a graph lookup.
type skipDeletionsStrategy struct {
	hasDependents func(entityID string) bool
}

func (skipDeletionsStrategy) Name() string { return "skip_deletions" }

func (s skipDeletionsStrategy) Resolve(c Conflict) (Resolution, bool) {
	if c.Incoming != nil {
		return Resolution{}, false // not a deletion conflict
	}
	if s.hasDependents != nil && s.hasDependents(c.EntityID) {
		return Resolution{Resolved: true, Merged: c.Stored, Strategy: "skip_deletions"}, true
	}
	return Resolution{}, false
}

// Resolver applies a pluggable, priority-ordered list of strategies to a
// conflict, returning the first one that resolves it.
type Resolver struct {
	strategies []Strategy
	onConflict func(Conflict, Resolution)
}

// NewResolver builds the default resolver with strategies in priority
// order: last_write_wins, property_merge, skip_deletions.
func NewResolver(hasDependents func(entityID string) bool) *Resolver {
	return &Resolver{
		strategies: []Strategy{
			lastWriteWinsStrategy{},
			propertyMergeStrategy{},
			skipDeletionsStrategy{hasDependents: hasDependents},
		},
	}
}

// OnConflict registers a callback invoked whenever a conflict is
// resolved (or left unresolved), for emitting "sync:conflict" events.
func (r *Resolver) OnConflict(fn func(Conflict, Resolution)) { r.onConflict = fn }

// Resolve tries each strategy in priority order and returns the first
// resolution, or ok=false if none applied. In that case the OnConflict
// callback receives an empty Resolution; the conflict itself is not
// queued or retained anywhere.
func (r *Resolver) Resolve(c Conflict) (Resolution, bool) {
	for _, strat := range r.strategies {
		if res, ok := strat.Resolve(c); ok {
			if r.onConflict != nil {
				r.onConflict(c, res)
			}
			return res, true
		}
	}
	if r.onConflict != nil {
		r.onConflict(c, Resolution{})
	}
	return Resolution{}, false
}

// DetectConflict reports a Conflict when stored and incoming disagree in
// a way that needs resolution, or nil when there is nothing to resolve.
func DetectConflict(stored, incoming *graphmodel.Entity) *Conflict {
	if stored == nil || incoming == nil {
		return nil
	}
	if !stored.LastModified.Equal(incoming.LastModified) && !incoming.LastModified.IsZero() {
		return &Conflict{Kind: ConflictStaleBaseline, EntityID: stored.ID, Stored: stored, Incoming: incoming}
	}
	return nil
}

// DetectResolutionDowngrade reports whether applying incoming over
// stored would downgrade the relationship's resolution source,
// violating invariant I5.
func DetectResolutionDowngrade(stored, incoming *graphmodel.Relationship) bool {
	if stored == nil || incoming == nil {
		return false
	}
	return stored.Source.Stronger(incoming.Source)
}

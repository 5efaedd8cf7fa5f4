package sync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/Amicidal/sigmachad-sub002/internal/cypher"
	"github.com/Amicidal/sigmachad-sub002/internal/logging"
	"github.com/Amicidal/sigmachad-sub002/internal/pubsub"
)

// Checkpoint creates a Checkpoint node linked by INCLUDES to every
// entity modified since the last checkpoint, then resets the window.
// Checkpoints support later history traversals (C6).
func (c *Coordinator) Checkpoint(ctx context.Context) error {
	c.mu.Lock()
	ids := make([]string, 0, len(c.windowIDs))
	for id := range c.windowIDs {
		ids = append(ids, id)
	}
	c.windowIDs = make(map[string]bool)
	windowStart := c.lastCheckpoint
	c.lastCheckpoint = time.Now().UTC()
	c.mu.Unlock()

	if len(ids) == 0 || c.exec == nil {
		return nil
	}

	cpID := checkpointID(windowStart, c.lastCheckpoint)
	timer := logging.StartTimer(logging.CategorySync, "checkpoint")
	defer timer.Stop()

	_, err := c.exec.Execute(ctx, `
		MERGE (cp:Checkpoint {id: $id})
		ON CREATE SET cp.windowStart = $windowStart, cp.windowEnd = $windowEnd, cp.memberCount = $count
		WITH cp
		UNWIND $ids AS entityId
		MATCH (e {id: entityId})
		MERGE (cp)-[:INCLUDES]->(e)
	`, map[string]interface{}{
		"id":          cpID,
		"windowStart": windowStart.Format(time.RFC3339Nano),
		"windowEnd":   c.lastCheckpoint.Format(time.RFC3339Nano),
		"count":       len(ids),
		"ids":         ids,
	}, cypher.Options{AccessMode: cypher.AccessWrite, Retryable: true})
	if err != nil {
		logging.SyncError("coordinator: checkpoint write failed: %v", err)
		return err
	}

	logging.Sync("coordinator: checkpoint %s covers %d entities", cpID, len(ids))
	c.events.Publish(pubsub.Event{Topic: "sync:checkpoint", Payload: map[string]interface{}{
		"checkpointId": cpID,
		"memberCount":  len(ids),
	}})
	return nil
}

func checkpointID(start, end time.Time) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%d-%d", start.UnixNano(), end.UnixNano())))
	return "checkpoint:" + hex.EncodeToString(h[:8])
}

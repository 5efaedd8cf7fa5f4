// Package cypher wraps the neo4j-go-driver as a parameterized query and
// transaction runner: value coercion, retry-on-transient-error, and typed
// publish events, matching the Cypher Executor described for the graph
// service layer.
package cypher

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/db"

	"github.com/Amicidal/sigmachad-sub002/internal/graphmodel"
	"github.com/Amicidal/sigmachad-sub002/internal/logging"
	"github.com/Amicidal/sigmachad-sub002/internal/pubsub"
)

// AccessMode selects whether a query runs against a read or write replica.
type AccessMode string

const (
	AccessRead  AccessMode = "read"
	AccessWrite AccessMode = "write"
)

// Options configures a single execute/transaction/callProcedure call.
type Options struct {
	TimeoutMs  int
	Retryable  bool
	AccessMode AccessMode
	Database   string
}

func (o Options) timeout() time.Duration {
	if o.TimeoutMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(o.TimeoutMs) * time.Millisecond
}

func (o Options) neo4jAccessMode() neo4j.AccessMode {
	if o.AccessMode == AccessWrite {
		return neo4j.AccessModeWrite
	}
	return neo4j.AccessModeRead
}

// Row is one returned record, keyed by Cypher return alias. Composite
// values (maps, slices) come back already decoded; 64-bit graph-native
// integers are widened to Go's native int.
type Row map[string]interface{}

const maxRetryAttempts = 5

// Executor runs Cypher queries and transactions over a neo4j driver.
type Executor struct {
	driver   neo4j.DriverWithContext
	database string
	events   *pubsub.Broker
}

// New constructs an Executor against uri, authenticating with
// username/password (empty values mean no auth, e.g. local dev
// instances). It verifies connectivity before returning.
func New(ctx context.Context, uri, username, password, database string, events *pubsub.Broker) (*Executor, error) {
	var auth neo4j.AuthToken
	if username != "" {
		auth = neo4j.BasicAuth(username, password, "")
	} else {
		auth = neo4j.NoAuth()
	}

	driver, err := neo4j.NewDriverWithContext(uri, auth)
	if err != nil {
		return nil, graphmodel.NewError(graphmodel.KindFatal, "cypher.New", fmt.Errorf("create driver: %w", err))
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, graphmodel.NewError(graphmodel.KindTransient, "cypher.New", fmt.Errorf("verify connectivity: %w", err))
	}

	if events == nil {
		events = pubsub.New(32)
	}

	return &Executor{driver: driver, database: database, events: events}, nil
}

// Close shuts down the underlying driver and emits "closed".
func (e *Executor) Close(ctx context.Context) error {
	err := e.driver.Close(ctx)
	e.events.Publish(pubsub.Event{Topic: "closed"})
	return err
}

// Events exposes the executor's event broker for subscribers.
func (e *Executor) Events() *pubsub.Broker { return e.events }

func (e *Executor) database_(opts Options) string {
	if opts.Database != "" {
		return opts.Database
	}
	return e.database
}

// Execute runs a single auto-commit query and returns its rows.
func (e *Executor) Execute(ctx context.Context, query string, params map[string]interface{}, opts Options) ([]Row, error) {
	return e.run(ctx, query, params, opts, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		return collect(ctx, tx, query, params)
	})
}

// Transaction runs queries as one atomic batch against a single session
// transaction; a failure on any query rolls back the whole batch.
func (e *Executor) Transaction(ctx context.Context, queries []string, paramsList []map[string]interface{}, opts Options) ([][]Row, error) {
	if len(queries) != len(paramsList) {
		return nil, graphmodel.NewValidationError("cypher.Transaction", "paramsList", errors.New("paramsList length must match queries length"))
	}

	result, err := e.run(ctx, "", nil, opts, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		all := make([][]Row, 0, len(queries))
		for i, q := range queries {
			rows, err := collect(ctx, tx, q, paramsList[i])
			if err != nil {
				e.events.Publish(pubsub.Event{Topic: "transaction:error", Payload: err})
				return nil, err
			}
			all = append(all, rows)
		}
		return all, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([][]Row), nil
}

// CallProcedure invokes a stored/graph-algorithm procedure (e.g. a GDS or
// full-text search procedure) with named params.
func (e *Executor) CallProcedure(ctx context.Context, name string, params map[string]interface{}, opts Options) ([]Row, error) {
	query := fmt.Sprintf("CALL %s($params)", name)
	return e.Execute(ctx, query, map[string]interface{}{"params": params}, opts)
}

func (e *Executor) run(ctx context.Context, query string, params map[string]interface{}, opts Options, work func(neo4j.ManagedTransaction) (interface{}, error)) (interface{}, error) {
	timer := logging.StartTimer(logging.CategoryCypher, "execute")
	defer timer.Stop()

	ctx, cancel := context.WithTimeout(ctx, opts.timeout())
	defer cancel()

	session := e.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   opts.neo4jAccessMode(),
		DatabaseName: e.database_(opts),
	})
	defer session.Close(ctx)

	var lastErr error
	attempts := 1
	if opts.Retryable {
		attempts = maxRetryAttempts
	}

	for attempt := 0; attempt < attempts; attempt++ {
		var result interface{}
		var err error
		if opts.AccessMode == AccessWrite {
			result, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
				return work(tx)
			})
		} else {
			result, err = session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
				return work(tx)
			})
		}

		if err == nil {
			return result, nil
		}

		lastErr = err
		classified := classify(err, ctx.Err())
		e.events.Publish(pubsub.Event{Topic: "error", Payload: classified})

		if !opts.Retryable || !graphmodel.IsKind(classified, graphmodel.KindTransient) {
			return nil, classified
		}

		logging.CypherWarn("transient error on attempt %d/%d for %q: %v", attempt+1, attempts, query, err)
		backoff := backoffDelay(attempt)
		select {
		case <-ctx.Done():
			return nil, classify(ctx.Err(), ctx.Err())
		case <-time.After(backoff):
		}
	}

	return nil, classify(lastErr, ctx.Err())
}

func backoffDelay(attempt int) time.Duration {
	base := 50 * time.Millisecond
	d := time.Duration(math.Pow(2, float64(attempt))) * base
	if d > 2*time.Second {
		d = 2 * time.Second
	}
	return d
}

// classify maps a driver error to the engine's error taxonomy (§7):
// transient errors are retry-eligible, everything else propagates
// immediately.
func classify(err error, ctxErr error) error {
	if err == nil {
		return nil
	}
	if errors.Is(ctxErr, context.DeadlineExceeded) {
		return graphmodel.NewError(graphmodel.KindTimeout, "cypher", err)
	}
	if neo4j.IsRetryable(err) {
		return graphmodel.NewError(graphmodel.KindTransient, "cypher", err)
	}
	var neo4jErr *db.Neo4jError
	if errors.As(err, &neo4jErr) {
		if neo4jErr.Classification() == "ClientError" {
			return graphmodel.NewError(graphmodel.KindValidation, "cypher", err)
		}
	}
	return graphmodel.NewError(graphmodel.KindFatal, "cypher", err)
}

func collect(ctx context.Context, tx neo4j.ManagedTransaction, query string, params map[string]interface{}) ([]Row, error) {
	result, err := tx.Run(ctx, query, params)
	if err != nil {
		return nil, err
	}

	rows := make([]Row, 0)
	for result.Next(ctx) {
		record := result.Record()
		row := make(Row, len(record.Keys))
		for _, key := range record.Keys {
			v, _ := record.Get(key)
			row[key] = widen(v)
		}
		rows = append(rows, row)
	}
	return rows, result.Err()
}

// widen converts graph-native 64-bit integers to Go's native int where it
// doesn't lose precision, and recurses into composite values.
func widen(v interface{}) interface{} {
	switch val := v.(type) {
	case int64:
		return int(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = widen(item)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = widen(item)
		}
		return out
	default:
		return v
	}
}

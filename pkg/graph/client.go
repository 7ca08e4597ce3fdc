// Package graph projects orders into Memgraph/Neo4j over Bolt for provenance
// queries.
package graph

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Config locates the graph database. An empty Username connects without auth,
// which is how Memgraph runs by default.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	Database string
}

// URI returns the bolt URI.
func (c Config) URI() string {
	return fmt.Sprintf("bolt://%s:%d", c.Host, c.Port)
}

func (c Config) auth() neo4j.AuthToken {
	if c.Username == "" {
		return neo4j.NoAuth()
	}
	return neo4j.BasicAuth(c.Username, c.Password, "")
}

// Client runs write statements against the graph.
type Client struct {
	driver   neo4j.DriverWithContext
	database string
	logger   ectologger.Logger
}

// NewClient creates the driver. No connection is made until first use; call
// VerifyConnectivity to fail fast.
func NewClient(cfg Config, logger ectologger.Logger) (*Client, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI(), cfg.auth())
	if err != nil {
		return nil, fmt.Errorf("failed to create graph driver for %s: %w", cfg.URI(), err)
	}
	return &Client{driver: driver, database: cfg.Database, logger: logger}, nil
}

func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

func (c *Client) VerifyConnectivity(ctx context.Context) error {
	return c.driver.VerifyConnectivity(ctx)
}

// Write runs one statement in a managed write transaction, retried by the
// driver on transient errors, and returns its counters.
func (c *Client) Write(ctx context.Context, cypher string, params map[string]any) (neo4j.Counters, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.Client.Write")
	defer span.End()

	session := c.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: c.database,
	})
	defer session.Close(ctx)

	summary, err := neo4j.ExecuteWrite(ctx, session, func(tx neo4j.ManagedTransaction) (neo4j.ResultSummary, error) {
		result, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	})
	if err != nil {
		return nil, err
	}
	return summary.Counters(), nil
}

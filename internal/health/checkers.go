package health

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.temporal.io/sdk/client"

	"github.com/prosemill/orchestrator/internal/db"
)

// DBChecker pings the entity database. Critical: without it no run can commit.
type DBChecker struct {
	Client *db.Client
}

func (c *DBChecker) Name() string   { return "database" }
func (c *DBChecker) Critical() bool { return true }
func (c *DBChecker) Check(ctx context.Context) error {
	if c.Client == nil {
		return fmt.Errorf("no database client")
	}
	return c.Client.Ping(ctx)
}

// RedisChecker pings the knowledge-graph store. Not critical: the pipeline
// degrades gracefully without it.
type RedisChecker struct {
	Client *redis.Client
}

func (c *RedisChecker) Name() string   { return "graph-store" }
func (c *RedisChecker) Critical() bool { return false }
func (c *RedisChecker) Check(ctx context.Context) error {
	if c.Client == nil {
		return fmt.Errorf("no redis client")
	}
	return c.Client.Ping(ctx).Err()
}

// TemporalChecker verifies the workflow service connection.
type TemporalChecker struct {
	Client    client.Client
	Namespace string
}

func (c *TemporalChecker) Name() string   { return "temporal" }
func (c *TemporalChecker) Critical() bool { return true }
func (c *TemporalChecker) Check(ctx context.Context) error {
	if c.Client == nil {
		return fmt.Errorf("no temporal client")
	}
	_, err := c.Client.CheckHealth(ctx, &client.CheckHealthRequest{})
	return err
}

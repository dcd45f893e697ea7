package connection

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTimeout bounds a single request.
const DefaultTimeout = 30 * time.Second

// Client issues persistence commands over RESP.
type Client struct {
	addr string
	rdb  *redis.Client
}

// NewClient creates a client for addr. No connection is made until the
// first command.
func NewClient(addr string) *Client {
	return &Client{
		addr: addr,
		rdb: redis.NewClient(&redis.Options{
			Addr:            addr,
			Protocol:        2,
			DisableIdentity: true,
			MaxRetries:      -1,
			DialTimeout:     5 * time.Second,
			ReadTimeout:     DefaultTimeout,
			PoolSize:        1,
		}),
	}
}

// Addr returns the server address.
func (c *Client) Addr() string {
	return c.addr
}

// Ping checks the server answers.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping %s: %w", c.addr, err)
	}
	return nil
}

// Save runs a blocking SAVE. format and name may be empty.
func (c *Client) Save(ctx context.Context, format, name string) error {
	return c.rdb.Do(ctx, saveArgs("SAVE", format, name)...).Err()
}

// BackgroundSave runs BGSAVE and returns the server's status line.
func (c *Client) BackgroundSave(ctx context.Context, format, name string) (string, error) {
	return c.rdb.Do(ctx, saveArgs("BGSAVE", format, name)...).Text()
}

func saveArgs(cmd, format, name string) []any {
	args := []any{cmd}
	if format != "" {
		args = append(args, strings.ToUpper(format))
	}
	if name != "" {
		args = append(args, name)
	}
	return args
}

// Load replaces the server dataset with the named snapshot.
func (c *Client) Load(ctx context.Context, name string) error {
	return c.rdb.Do(ctx, "DEBUG", "LOAD", name).Err()
}

// Info returns the parsed INFO reply for the given sections.
func (c *Client) Info(ctx context.Context, sections ...string) (Info, error) {
	text, err := c.rdb.Info(ctx, sections...).Result()
	if err != nil {
		return nil, err
	}
	return ParseInfo(text), nil
}

// Persistence fetches the persistence section of INFO.
func (c *Client) Persistence(ctx context.Context) (*Persistence, error) {
	info, err := c.Info(ctx, "persistence")
	if err != nil {
		return nil, err
	}
	return info.Persistence(), nil
}

// WaitForSave polls INFO until no save is in flight. poll is called after
// every check.
func (c *Client) WaitForSave(ctx context.Context, interval time.Duration, poll func(*Persistence)) (*Persistence, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		p, err := c.Persistence(ctx)
		if err != nil {
			return nil, err
		}
		if poll != nil {
			poll(p)
		}
		if !p.Saving {
			return p, nil
		}
		select {
		case <-ctx.Done():
			return p, ctx.Err()
		case <-ticker.C:
		}
	}
}

// ConfigGet returns every parameter matching the patterns.
func (c *Client) ConfigGet(ctx context.Context, patterns ...string) (map[string]string, error) {
	args := []any{"CONFIG", "GET"}
	for _, p := range patterns {
		args = append(args, p)
	}
	vals, err := c.rdb.Do(ctx, args...).StringSlice()
	if err != nil {
		return nil, err
	}
	if len(vals)%2 != 0 {
		return nil, errors.New("CONFIG GET: odd number of reply elements")
	}
	out := make(map[string]string, len(vals)/2)
	for i := 0; i < len(vals); i += 2 {
		out[vals[i]] = vals[i+1]
	}
	return out, nil
}

// ConfigSet changes a runtime parameter.
func (c *Client) ConfigSet(ctx context.Context, param, value string) error {
	return c.rdb.Do(ctx, "CONFIG", "SET", param, value).Err()
}

// Close releases the connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

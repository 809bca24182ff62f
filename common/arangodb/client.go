package arangodb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/arangodb/go-driver/v2/arangodb"
	"github.com/arangodb/go-driver/v2/connection"
)

var ErrNotInitialized = errors.New("database not initialized, call EnsureDatabase first")

// Client is the slice of ArangoDB the categorizer needs: setup plus AQL execution.
type Client interface {
	EnsureDatabase(ctx context.Context) error
	EnsureCollection(ctx context.Context, name string) error
	EnsurePersistentIndex(ctx context.Context, collection string, fields ...string) error

	// Query runs an AQL query and decodes every result into a generic document.
	Query(ctx context.Context, query string, bindVars map[string]any) ([]map[string]any, error)
	// Exec runs an AQL statement and discards its results.
	Exec(ctx context.Context, query string, bindVars map[string]any) error

	Close() error
}

type Config struct {
	URL      string
	Username string
	Password string
	Database string
}

func (c Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("arangodb URL is required")
	}
	if c.Username == "" {
		return fmt.Errorf("arangodb username is required")
	}
	if c.Database == "" {
		return fmt.Errorf("arangodb database name is required")
	}
	return nil
}

type client struct {
	conn         connection.Connection
	arangoClient arangodb.Client
	db           arangodb.Database
	cfg          Config
}

func New(ctx context.Context, cfg Config) (Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("arangodb config: %w", err)
	}

	endpoint := connection.NewRoundRobinEndpoints([]string{cfg.URL})
	conn := connection.NewHttp2Connection(connection.DefaultHTTP2ConfigurationWrapper(endpoint, true))

	auth := connection.NewBasicAuth(cfg.Username, cfg.Password)
	if err := conn.SetAuthentication(auth); err != nil {
		return nil, fmt.Errorf("arangodb auth: %w", err)
	}

	return &client{
		conn:         conn,
		arangoClient: arangodb.NewClient(conn),
		cfg:          cfg,
	}, nil
}

func (c *client) Close() error {
	return nil
}

func (c *client) EnsureDatabase(ctx context.Context) error {
	start := time.Now()

	exists, err := c.arangoClient.DatabaseExists(ctx, c.cfg.Database)
	if err != nil {
		return fmt.Errorf("check database exists: %w", err)
	}

	if !exists {
		_, err = c.arangoClient.CreateDatabase(ctx, c.cfg.Database, nil)
		if err != nil {
			return fmt.Errorf("create database: %w", err)
		}
		slog.InfoContext(ctx, "arangodb database created",
			"database", c.cfg.Database,
			"duration_ms", time.Since(start).Milliseconds())
	}

	db, err := c.arangoClient.GetDatabase(ctx, c.cfg.Database, nil)
	if err != nil {
		return fmt.Errorf("get database: %w", err)
	}
	c.db = db

	return nil
}

func (c *client) EnsureCollection(ctx context.Context, name string) error {
	if c.db == nil {
		return ErrNotInitialized
	}

	exists, err := c.db.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("check collection %s exists: %w", name, err)
	}
	if exists {
		return nil
	}

	colType := arangodb.CollectionTypeDocument
	if _, err := c.db.CreateCollectionV2(ctx, name, &arangodb.CreateCollectionPropertiesV2{Type: &colType}); err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}
	slog.InfoContext(ctx, "arangodb collection created", "collection", name)

	return nil
}

func (c *client) EnsurePersistentIndex(ctx context.Context, collection string, fields ...string) error {
	if c.db == nil {
		return ErrNotInitialized
	}

	col, err := c.db.GetCollection(ctx, collection, nil)
	if err != nil {
		return fmt.Errorf("get collection %s: %w", collection, err)
	}

	_, created, err := col.EnsurePersistentIndex(ctx, fields, nil)
	if err != nil {
		return fmt.Errorf("ensure index on %s%v: %w", collection, fields, err)
	}
	if created {
		slog.InfoContext(ctx, "arangodb index created", "collection", collection, "fields", fields)
	}

	return nil
}

func (c *client) Query(ctx context.Context, query string, bindVars map[string]any) ([]map[string]any, error) {
	if c.db == nil {
		return nil, ErrNotInitialized
	}

	start := time.Now()

	cursor, err := c.db.Query(ctx, query, &arangodb.QueryOptions{BindVars: bindVars})
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer cursor.Close()

	var docs []map[string]any
	for cursor.HasMore() {
		var doc map[string]any
		if _, err := cursor.ReadDocument(ctx, &doc); err != nil {
			return nil, fmt.Errorf("read document: %w", err)
		}
		docs = append(docs, doc)
	}

	slog.DebugContext(ctx, "arangodb query completed",
		"results", len(docs),
		"duration_ms", time.Since(start).Milliseconds())

	return docs, nil
}

func (c *client) Exec(ctx context.Context, query string, bindVars map[string]any) error {
	if c.db == nil {
		return ErrNotInitialized
	}

	cursor, err := c.db.Query(ctx, query, &arangodb.QueryOptions{BindVars: bindVars})
	if err != nil {
		return fmt.Errorf("execute statement: %w", err)
	}
	return cursor.Close()
}

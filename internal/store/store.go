// Package store wraps the MongoDB document store holding the bot's
// durable state: promoted admins, banned identities, the runtime mode
// document, and persisted cron job records. All writes are
// single-document atomic upserts.
package store

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const queryTimeout = 30 * time.Second

// Collection names.
const (
	colAdmins   = "admins"
	colBans     = "bans"
	colSettings = "settings"
	colCronJobs = "cronjobs"
)

// JobRecord is the persisted form of a scheduled job. The handler is
// never persisted; the owning plugin re-registers it on load.
type JobRecord struct {
	ID         string            `bson:"_id"`
	Plugin     string            `bson:"plugin"`
	Expression string            `bson:"expression"`
	Timezone   string            `bson:"timezone"`
	Payload    map[string]string `bson:"payload,omitempty"`
	CreatedAt  time.Time         `bson:"createdAt"`
}

// Client is a connected handle to the document store.
type Client struct {
	client *mongo.Client
	db     *mongo.Database
	uri    string
	name   string
	logger *log.Logger
}

// Connect dials the store, pings it, and ensures indexes. The returned
// client is safe for concurrent use.
func Connect(ctx context.Context, uri, dbName string) (*Client, error) {
	c := &Client{
		uri:    uri,
		name:   dbName,
		logger: log.New(log.Writer(), "[STORE] ", log.LstdFlags),
	}
	if err := c.dial(ctx); err != nil {
		return nil, err
	}
	if err := c.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	c.logger.Printf("✅ Connected to document store (db=%s)", dbName)
	return c, nil
}

func (c *Client) dial(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().
		ApplyURI(c.uri).
		SetServerSelectionTimeout(queryTimeout))
	if err != nil {
		return fmt.Errorf("store connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return fmt.Errorf("store ping: %w", err)
	}
	c.client = client
	c.db = client.Database(c.name)
	return nil
}

func (c *Client) ensureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	unique := options.Index().SetUnique(true)
	for _, col := range []string{colAdmins, colBans} {
		_, err := c.db.Collection(col).Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys:    bson.D{{Key: "jid", Value: 1}},
			Options: unique,
		})
		if err != nil {
			return fmt.Errorf("index %s: %w", col, err)
		}
	}
	return nil
}

// Ping verifies the store is reachable.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	return c.client.Ping(ctx, nil)
}

// Reconnect tears down the current connection and dials again.
func (c *Client) Reconnect(ctx context.Context) error {
	if c.client != nil {
		_ = c.client.Disconnect(ctx)
	}
	c.logger.Printf("🔄 Reconnecting to document store")
	return c.dial(ctx)
}

// Close releases the connection.
func (c *Client) Close(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	return c.client.Disconnect(ctx)
}

// ============================================================================
// ADMINS
// ============================================================================

// AddAdmin promotes a canonical identity. Idempotent.
func (c *Client) AddAdmin(ctx context.Context, jid string) error {
	return c.upsertJID(ctx, colAdmins, jid)
}

// RemoveAdmin demotes a canonical identity.
func (c *Client) RemoveAdmin(ctx context.Context, jid string) error {
	return c.deleteJID(ctx, colAdmins, jid)
}

// IsAdmin reports whether the identity is store-promoted.
func (c *Client) IsAdmin(ctx context.Context, jid string) (bool, error) {
	return c.existsJID(ctx, colAdmins, jid)
}

// ListAdmins returns every store-promoted identity.
func (c *Client) ListAdmins(ctx context.Context) ([]string, error) {
	return c.listJIDs(ctx, colAdmins)
}

// ============================================================================
// BANS
// ============================================================================

// Ban blacklists a canonical identity. Idempotent.
func (c *Client) Ban(ctx context.Context, jid string) error {
	return c.upsertJID(ctx, colBans, jid)
}

// Unban removes a canonical identity from the blacklist.
func (c *Client) Unban(ctx context.Context, jid string) error {
	return c.deleteJID(ctx, colBans, jid)
}

// IsBanned reports whether the identity is blacklisted.
func (c *Client) IsBanned(ctx context.Context, jid string) (bool, error) {
	return c.existsJID(ctx, colBans, jid)
}

// ============================================================================
// MODE
// ============================================================================

// GetMode reads the runtime mode document. Returns "" when unset.
func (c *Client) GetMode(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var doc struct {
		Value string `bson:"value"`
	}
	err := c.db.Collection(colSettings).
		FindOne(ctx, bson.M{"_id": "mode"}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get mode: %w", err)
	}
	return doc.Value, nil
}

// SetMode writes the runtime mode document.
func (c *Client) SetMode(ctx context.Context, mode string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := c.db.Collection(colSettings).UpdateOne(ctx,
		bson.M{"_id": "mode"},
		bson.M{"$set": bson.M{"value": mode, "updatedAt": time.Now()}},
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("set mode: %w", err)
	}
	return nil
}

// ============================================================================
// CRON JOBS
// ============================================================================

// SaveJob upserts a job record keyed by its id.
func (c *Client) SaveJob(ctx context.Context, rec JobRecord) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := c.db.Collection(colCronJobs).ReplaceOne(ctx,
		bson.M{"_id": rec.ID}, rec, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save job %s: %w", rec.ID, err)
	}
	return nil
}

// DeleteJob removes a job record.
func (c *Client) DeleteJob(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := c.db.Collection(colCronJobs).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	return nil
}

// ListJobs returns every record owned by plugin, or all records when
// plugin is "".
func (c *Client) ListJobs(ctx context.Context, plugin string) ([]JobRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	filter := bson.M{}
	if plugin != "" {
		filter["plugin"] = plugin
	}
	cur, err := c.db.Collection(colCronJobs).Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer cur.Close(ctx)

	var out []JobRecord
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode jobs: %w", err)
	}
	return out, nil
}

// ============================================================================
// SHARED HELPERS
// ============================================================================

func (c *Client) upsertJID(ctx context.Context, col, jid string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := c.db.Collection(col).UpdateOne(ctx,
		bson.M{"jid": jid},
		bson.M{"$setOnInsert": bson.M{"jid": jid, "createdAt": time.Now()}},
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert %s/%s: %w", col, jid, err)
	}
	return nil
}

func (c *Client) deleteJID(ctx context.Context, col, jid string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := c.db.Collection(col).DeleteOne(ctx, bson.M{"jid": jid})
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", col, jid, err)
	}
	return nil
}

func (c *Client) existsJID(ctx context.Context, col, jid string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	n, err := c.db.Collection(col).CountDocuments(ctx,
		bson.M{"jid": jid}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("lookup %s/%s: %w", col, jid, err)
	}
	return n > 0, nil
}

func (c *Client) listJIDs(ctx context.Context, col string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	cur, err := c.db.Collection(col).Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", col, err)
	}
	defer cur.Close(ctx)

	var out []string
	for cur.Next(ctx) {
		var doc struct {
			JID string `bson:"jid"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode %s: %w", col, err)
		}
		out = append(out, doc.JID)
	}
	return out, cur.Err()
}

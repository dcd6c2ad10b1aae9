// Package coco is the client library entry point. A Client mirrors the
// Type graph and Item set of one coco server: it keeps a local schema
// registry in sync through the transport session's duplex channel and
// exposes the REST operations.
//
// Example:
//
//	client, err := coco.New(coco.Options{Config: types.Config{
//	    Host:     "https://coco.example.com",
//	    HasUsers: true,
//	    DataDir:  ".coco-db",
//	}})
//	if err != nil { ... }
//	defer client.Close()
//	if err := client.Sync(ctx); err != nil { ... }
//	if _, err := client.Resume(ctx); err != nil { ... }
package coco

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mesh-intelligence/coco/internal/properties"
	"github.com/mesh-intelligence/coco/internal/schema"
	"github.com/mesh-intelligence/coco/internal/store"
	"github.com/mesh-intelligence/coco/internal/transport"
	"github.com/mesh-intelligence/coco/pkg/types"
)

// Options configures a Client. Only Config is required.
type Options struct {
	Config types.Config
	// Credentials overrides the token store. By default tokens are kept
	// in a SQLite database under Config.DataDir, or in memory when
	// DataDir is empty.
	Credentials types.CredentialStore
	// PushTokens supplies the device push token sent with each login.
	PushTokens func(ctx context.Context) (string, error)
	HTTPClient *http.Client
	Logger     *slog.Logger
	// Metrics, when set, receives the transport collectors.
	Metrics prometheus.Registerer
}

// Client wires the property registry, schema registry, transport session,
// credential store and snapshot cache together.
type Client struct {
	cfg     types.Config
	logger  *slog.Logger
	props   *properties.Registry
	schema  *schema.Registry
	session *transport.Session
	creds   types.CredentialStore
	// db is set when the Client opened the credential database itself.
	db    *store.SQLite
	cache *store.Cache
	now   func() time.Time

	detach func()
}

// New validates opts.Config and builds a disconnected Client.
func New(opts Options) (*Client, error) {
	cfg := opts.Config.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		cfg:    cfg,
		logger: logger,
		props:  properties.NewRegistry(),
		creds:  opts.Credentials,
		now:    time.Now,
	}
	c.schema = schema.New(schema.Config{Properties: c.props, Logger: logger.With("component", "schema")})

	if c.creds == nil {
		if cfg.DataDir == "" {
			c.creds = store.NewMemory()
		} else {
			c.db = store.NewSQLite()
			if err := c.db.Attach(cfg.DataDir); err != nil {
				return nil, fmt.Errorf("attach credential store: %w", err)
			}
			c.creds = c.db
		}
	}
	if cfg.DataDir != "" {
		c.cache = store.NewCache(cfg.DataDir)
	}

	session, err := transport.New(transport.Config{
		BaseURL:        cfg.Host,
		WebSocketURL:   cfg.WebSocketURL,
		HasUsers:       cfg.HasUsers,
		ReconnectDelay: cfg.ReconnectDelay,
		HTTPClient:     opts.HTTPClient,
		Credentials:    c.creds,
		PushTokens:     opts.PushTokens,
		Logger:         logger,
		Metrics:        opts.Metrics,
	})
	if err != nil {
		c.closeStore()
		return nil, err
	}
	c.session = session
	c.detach = session.AddListener(c.schema)
	return c, nil
}

// Config returns the effective configuration.
func (c *Client) Config() types.Config { return c.cfg }

// Type returns the mirrored Type with the given name.
func (c *Client) Type(name string) (*types.Type, bool) { return c.schema.Type(name) }

// Item returns the mirrored Item with the given id.
func (c *Client) Item(id string) (*types.Item, bool) { return c.schema.Item(id) }

// Types returns every mirrored Type, sorted by name.
func (c *Client) Types() []*types.Type { return c.schema.Types() }

// Items returns every mirrored Item, sorted by id.
func (c *Client) Items() []*types.Item { return c.schema.Items() }

// Query returns the Items for which the boolean expression holds. The
// expression sees id, type, types, properties and value.
func (c *Client) Query(expression string) ([]*types.Item, error) {
	return c.schema.Query(expression)
}

// AddSchemaListener subscribes l to mirror changes.
func (c *Client) AddSchemaListener(l types.SchemaListener) (remove func()) {
	return c.schema.AddListener(l)
}

// AddConnectionListener subscribes l to transport events.
func (c *Client) AddConnectionListener(l types.ConnectionListener) (remove func()) {
	return c.session.AddListener(l)
}

// RegisterPropertyType adds a custom property kind. Types already in the
// mirror are not re-parsed; register kinds before the first Sync.
func (c *Client) RegisterPropertyType(pt types.PropertyType) error {
	if err := c.props.Register(pt); err != nil {
		return err
	}
	if types.IsBuiltinKind(pt.Name()) {
		c.logger.Warn("built-in property kind replaced", "kind", pt.Name())
	}
	return nil
}

// PropertyKinds returns the registered property kind names, sorted.
func (c *Client) PropertyKinds() []string { return c.props.Kinds() }

// State returns the channel state name: disconnected, connecting or
// connected.
func (c *Client) State() string { return c.session.State().String() }

// Connected reports whether the channel is established.
func (c *Client) Connected() bool { return c.session.State() == transport.Connected }

// ChannelID returns the id of the live channel, or "".
func (c *Client) ChannelID() string { return c.session.ChannelID() }

// Login authenticates, stores the token and opens the channel.
func (c *Client) Login(ctx context.Context, username, password string) error {
	_, err := c.session.Login(ctx, username, password)
	return err
}

// Register creates an account. When connect is set the Client logs in
// with the returned token.
func (c *Client) Register(ctx context.Context, username, password string, personalData json.RawMessage, connect bool) error {
	_, err := c.session.CreateUser(ctx, username, password, personalData, connect)
	return err
}

// Logout closes the channel and forgets the stored token.
func (c *Client) Logout() error {
	c.session.Disconnect()
	return c.creds.ClearToken()
}

// Resume opens the channel without prompting for credentials. In
// anonymous mode it always connects. Otherwise it uses the stored token
// unless there is none or it has expired, in which case it reports false
// and a Login is needed; an expired token is cleared.
func (c *Client) Resume(ctx context.Context) (bool, error) {
	if !c.cfg.HasUsers {
		return true, c.session.Connect(ctx, "")
	}
	token, err := c.creds.Token()
	if errors.Is(err, types.ErrNoToken) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read stored token: %w", err)
	}
	if store.TokenExpired(token, c.now()) {
		c.logger.Info("stored token expired")
		if err := c.creds.ClearToken(); err != nil {
			c.logger.Warn("clear expired token", "error", err)
		}
		return false, nil
	}
	if c.db != nil {
		if updated, err := c.db.UpdatedAt(); err == nil {
			c.logger.Info("resuming with stored token", "token_updated_at", updated.Format(time.RFC3339))
		}
	}
	return true, c.session.Connect(ctx, token)
}

// Disconnect closes the channel and suppresses reconnects until the next
// Resume or Login.
func (c *Client) Disconnect() { c.session.Disconnect() }

// Sync fetches the full Type and Item snapshot over REST, applies it to
// the mirror in one step and refreshes the local cache.
func (c *Client) Sync(ctx context.Context) error {
	typeRecords, err := c.session.FetchTypes(ctx)
	if err != nil {
		return err
	}
	itemRecords, err := c.session.FetchItems(ctx, nil)
	if err != nil {
		return err
	}
	if err := c.apply(typeRecords, itemRecords); err != nil {
		return err
	}
	if c.cache != nil {
		if err := c.cache.Save(typeRecords, itemRecords); err != nil {
			c.logger.Warn("cache snapshot", "error", err)
		}
	}
	typeCount, itemCount := c.schema.Len()
	c.logger.Info("snapshot synced", "types", typeCount, "items", itemCount)
	return nil
}

// FetchItems returns the server's raw Item records narrowed by filters,
// without touching the mirror.
func (c *Client) FetchItems(ctx context.Context, filters map[string]string) ([]json.RawMessage, error) {
	return c.session.FetchItems(ctx, filters)
}

// LoadCached rebuilds the mirror from the snapshot saved by the last Sync.
// It returns types.ErrNoSnapshot when there is none.
func (c *Client) LoadCached() error {
	if c.cache == nil {
		return fmt.Errorf("%w: no data directory configured", types.ErrNoSnapshot)
	}
	typeRecords, itemRecords, err := c.cache.Load()
	if err != nil {
		return err
	}
	return c.apply(typeRecords, itemRecords)
}

func (c *Client) apply(typeRecords, itemRecords []json.RawMessage) error {
	typeMsgs := make([]types.TypeMessage, 0, len(typeRecords))
	for i, raw := range typeRecords {
		var tm types.TypeMessage
		if err := json.Unmarshal(raw, &tm); err != nil {
			return fmt.Errorf("type record %d: %w: %v", i, types.ErrMalformedMessage, err)
		}
		typeMsgs = append(typeMsgs, tm)
	}
	itemMsgs := make([]types.ItemMessage, 0, len(itemRecords))
	for i, raw := range itemRecords {
		var im types.ItemMessage
		if err := json.Unmarshal(raw, &im); err != nil {
			return fmt.Errorf("item record %d: %w: %v", i, types.ErrMalformedMessage, err)
		}
		itemMsgs = append(itemMsgs, im)
	}
	return c.schema.ApplySnapshot(typeMsgs, itemMsgs)
}

// Publish checks payload against the Item's dynamic properties in the
// mirror and then pushes it to the server.
func (c *Client) Publish(ctx context.Context, itemID string, payload json.RawMessage) error {
	if err := c.schema.ValidateData(itemID, payload); err != nil {
		return err
	}
	return c.session.Publish(ctx, itemID, payload)
}

// RegisterPushToken associates a device push token with account id.
func (c *Client) RegisterPushToken(ctx context.Context, id, token string) error {
	return c.session.RegisterPushToken(ctx, id, token)
}

// Flush waits until queued connection events, and the mirror updates they
// trigger, have been delivered.
func (c *Client) Flush() { c.session.Flush() }

// Close disconnects and releases the credential store. The Client cannot
// be reused.
func (c *Client) Close() error {
	c.detach()
	err := c.session.Close()
	if storeErr := c.closeStore(); err == nil {
		err = storeErr
	}
	return err
}

func (c *Client) closeStore() error {
	if c.db == nil {
		return nil
	}
	return c.db.Detach()
}

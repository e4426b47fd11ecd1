// Package events provides real-time event capture and fan-out to
// WebSocket subscribers, with a short in-memory replay buffer.
package events

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/veridesk/veridesk/internal/models"
)

// Client represents a connected WebSocket subscriber.
type Client struct {
	id     uuid.UUID
	conn   *websocket.Conn
	send   chan *models.Event
	feed   *Feed
	filter *ClientFilter
	mu     sync.Mutex
}

// ClientFilter holds the filter preferences for a connected client.
type ClientFilter struct {
	Categories []models.EventCategory `json:"categories,omitempty"`
	Types      []models.EventType     `json:"types,omitempty"`
}

// Matches checks if an event matches the client's filter.
func (f *ClientFilter) Matches(event *models.Event) bool {
	if f == nil {
		return true
	}

	if len(f.Categories) > 0 {
		found := false
		for _, cat := range f.Categories {
			if cat == event.Category {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if t == event.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	return true
}

// Config holds configuration for the Feed.
type Config struct {
	// PingInterval is how often to send ping messages to clients.
	PingInterval time.Duration
	// WriteTimeout is the timeout for writing to a client.
	WriteTimeout time.Duration
	// ReadTimeout is the timeout for reading from a client.
	ReadTimeout time.Duration
	// MaxMessageSize is the maximum size of a message from a client.
	MaxMessageSize int64
	// SendBufferSize is the size of the send buffer per client.
	SendBufferSize int
	// ReplaySize is how many recent events are kept for catch-up reads.
	ReplaySize int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		PingInterval:   30 * time.Second,
		WriteTimeout:   10 * time.Second,
		ReadTimeout:    60 * time.Second,
		MaxMessageSize: 512,
		SendBufferSize: 256,
		ReplaySize:     200,
	}
}

// Feed manages event broadcasting to connected clients.
type Feed struct {
	config   Config
	logger   zerolog.Logger
	upgrader websocket.Upgrader

	clients   map[uuid.UUID]*Client
	clientsMu sync.RWMutex

	recent   []*models.Event
	recentMu sync.RWMutex

	broadcast  chan *models.Event
	register   chan *Client
	unregister chan *Client

	done chan struct{}
	wg   sync.WaitGroup
}

// NewFeed creates a new Feed with the given configuration.
func NewFeed(cfg Config, logger zerolog.Logger) *Feed {
	return &Feed{
		config: cfg,
		logger: logger.With().Str("component", "event_feed").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		clients:    make(map[uuid.UUID]*Client),
		broadcast:  make(chan *models.Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Start begins processing events and client management.
func (f *Feed) Start() {
	f.wg.Add(1)
	go f.run()
	f.logger.Info().Msg("event feed started")
}

// Stop stops the feed and closes all client connections.
func (f *Feed) Stop() {
	close(f.done)
	f.wg.Wait()
	f.logger.Info().Msg("event feed stopped")
}

// run is the main event loop.
func (f *Feed) run() {
	defer f.wg.Done()

	for {
		select {
		case <-f.done:
			f.closeAllClients()
			return

		case client := <-f.register:
			f.addClient(client)

		case client := <-f.unregister:
			f.removeClient(client)

		case event := <-f.broadcast:
			f.broadcastEvent(event)
		}
	}
}

func (f *Feed) addClient(client *Client) {
	f.clientsMu.Lock()
	defer f.clientsMu.Unlock()

	f.clients[client.id] = client

	f.logger.Debug().
		Str("client_id", client.id.String()).
		Msg("client connected")
}

func (f *Feed) removeClient(client *Client) {
	f.clientsMu.Lock()
	defer f.clientsMu.Unlock()

	if _, ok := f.clients[client.id]; !ok {
		return
	}

	delete(f.clients, client.id)
	close(client.send)

	f.logger.Debug().
		Str("client_id", client.id.String()).
		Msg("client disconnected")
}

func (f *Feed) closeAllClients() {
	f.clientsMu.Lock()
	defer f.clientsMu.Unlock()

	for _, client := range f.clients {
		close(client.send)
	}
	f.clients = make(map[uuid.UUID]*Client)
}

// broadcastEvent sends an event to all clients whose filter matches.
func (f *Feed) broadcastEvent(event *models.Event) {
	f.clientsMu.RLock()
	defer f.clientsMu.RUnlock()

	for _, client := range f.clients {
		client.mu.Lock()
		matches := client.filter.Matches(event)
		client.mu.Unlock()
		if !matches {
			continue
		}
		select {
		case client.send <- event:
		default:
			// Client's send buffer is full, skip
			f.logger.Warn().
				Str("client_id", client.id.String()).
				Msg("client send buffer full, dropping event")
		}
	}
}

// Publish records an event in the replay buffer and broadcasts it to
// connected clients. It never blocks the caller.
func (f *Feed) Publish(event *models.Event) {
	f.remember(event)

	select {
	case f.broadcast <- event:
	default:
		f.logger.Warn().Msg("broadcast buffer full, dropping event")
	}
}

func (f *Feed) remember(event *models.Event) {
	if f.config.ReplaySize <= 0 {
		return
	}
	f.recentMu.Lock()
	defer f.recentMu.Unlock()

	f.recent = append(f.recent, event)
	if excess := len(f.recent) - f.config.ReplaySize; excess > 0 {
		f.recent = f.recent[excess:]
	}
}

// Recent returns up to limit of the most recent events, newest first.
func (f *Feed) Recent(limit int) []*models.Event {
	f.recentMu.RLock()
	defer f.recentMu.RUnlock()

	n := len(f.recent)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]*models.Event, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, f.recent[i])
	}
	return out
}

// PublishLicenseCreated publishes a license created event.
func (f *Feed) PublishLicenseCreated(licenseID uuid.UUID, appID, dba string) {
	event := models.NewEvent(models.EventLicenseCreated, "License Created", "License created for "+displayName(appID, dba))
	event.SetLicense(licenseID)
	f.Publish(event)
}

// PublishLicenseUpdated publishes a license updated event.
func (f *Feed) PublishLicenseUpdated(licenseID uuid.UUID, appID, dba string) {
	event := models.NewEvent(models.EventLicenseUpdated, "License Updated", "License updated for "+displayName(appID, dba))
	event.SetLicense(licenseID)
	f.Publish(event)
}

// PublishLicenseDeleted publishes a license deleted event.
func (f *Feed) PublishLicenseDeleted(licenseID uuid.UUID, appID, dba string) {
	event := models.NewEvent(models.EventLicenseDeleted, "License Deleted", "License removed for "+displayName(appID, dba))
	event.SetLicense(licenseID)
	f.Publish(event)
}

// PublishSyncStarted publishes a sync started event.
func (f *Feed) PublishSyncStarted(trigger models.SyncTrigger, mode models.SyncMode) {
	event := models.NewEvent(models.EventSyncStarted, "Sync Started", "Catalog sync started")
	event.SetMetadata(map[string]any{
		"trigger": string(trigger),
		"mode":    string(mode),
	})
	f.Publish(event)
}

// PublishSyncCompleted publishes a sync completion event carrying the run
// tallies. A failed run is published as sync.failed.
func (f *Feed) PublishSyncCompleted(run *models.SyncRun) {
	eventType := models.EventSyncCompleted
	title := "Sync Completed"
	message := "Catalog sync completed"
	if !run.Success {
		eventType = models.EventSyncFailed
		title = "Sync Failed"
		message = "Catalog sync aborted"
	}

	event := models.NewEvent(eventType, title, message)
	event.SetMetadata(map[string]any{
		"total_fetched":           run.TotalFetched,
		"created":                 run.Created,
		"updated":                 run.Updated,
		"failed":                  run.Failed,
		"duplicates_consolidated": run.DuplicatesConsolidated,
		"duration":                run.Duration.String(),
	})
	f.Publish(event)
}

// PublishUserCreated publishes a user creation event.
func (f *Feed) PublishUserCreated(userID uuid.UUID, email string) {
	event := models.NewEvent(models.EventUserCreated, "User Created", email+" was added")
	event.SetUser(userID)
	f.Publish(event)
}

// PublishUserDeleted publishes a user removal event.
func (f *Feed) PublishUserDeleted(userID uuid.UUID, email string) {
	event := models.NewEvent(models.EventUserDeleted, "User Removed", email+" was removed")
	event.SetUser(userID)
	f.Publish(event)
}

func displayName(appID, dba string) string {
	if dba != "" {
		return dba
	}
	if appID != "" {
		return appID
	}
	return "unknown license"
}

// HandleWebSocket handles a WebSocket connection upgrade and client management.
func (f *Feed) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Error().Err(err).Msg("failed to upgrade websocket connection")
		return
	}

	client := &Client{
		id:     uuid.New(),
		conn:   conn,
		send:   make(chan *models.Event, f.config.SendBufferSize),
		feed:   f,
		filter: &ClientFilter{},
	}

	f.register <- client

	go client.writePump()
	go client.readPump()
}

// ClientCount returns the number of connected clients.
func (f *Feed) ClientCount() int {
	f.clientsMu.RLock()
	defer f.clientsMu.RUnlock()
	return len(f.clients)
}

// readPump reads messages from the client.
func (c *Client) readPump() {
	defer func() {
		c.feed.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.feed.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.feed.config.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.feed.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.feed.logger.Debug().Err(err).Msg("websocket read error")
			}
			break
		}

		// Parse filter update message
		var filterUpdate struct {
			Type   string       `json:"type"`
			Filter ClientFilter `json:"filter"`
		}
		if err := json.Unmarshal(message, &filterUpdate); err == nil && filterUpdate.Type == "filter" {
			c.mu.Lock()
			c.filter = &filterUpdate.Filter
			c.mu.Unlock()
		}
	}
}

// writePump writes messages to the client.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.feed.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.feed.config.WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}

			data, _ := json.Marshal(event)
			w.Write(data)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.feed.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

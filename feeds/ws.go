package feeds

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/web3guy0/tradesentry/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SNAPSHOT WEBSOCKET FEED
// ═══════════════════════════════════════════════════════════════════════════════
//
// Connects to the data-ingestion collaborator and pushes JSON snapshot
// frames into the cache. Also serves as a Source by answering fetches from
// the latest pushed frame, so the scheduler sees one consistent view.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	reconnectDelay = 5 * time.Second
	pingInterval   = 30 * time.Second
)

// WSFeed maintains the snapshot stream connection
type WSFeed struct {
	mu sync.RWMutex

	wsURL     string
	conn      *websocket.Conn
	connected bool
	running   bool
	stopCh    chan struct{}

	cache *SnapshotCache

	// Latest frame per symbol, for Source fetches between pushes
	latest map[string]*types.Snapshot
}

// NewWSFeed creates a feed that fills cache from wsURL
func NewWSFeed(wsURL string, cache *SnapshotCache) *WSFeed {
	return &WSFeed{
		wsURL:  wsURL,
		cache:  cache,
		stopCh: make(chan struct{}),
		latest: make(map[string]*types.Snapshot),
	}
}

// Start connects and begins processing
func (f *WSFeed) Start() {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return
	}
	f.running = true
	f.mu.Unlock()

	go f.connectionLoop()
	log.Info().Str("url", f.wsURL).Msg("📡 Snapshot feed started")
}

// Stop closes the connection
func (f *WSFeed) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.running {
		return
	}

	f.running = false
	close(f.stopCh)

	if f.conn != nil {
		f.conn.Close()
	}

	log.Info().Msg("Snapshot feed stopped")
}

// IsConnected reports stream health
func (f *WSFeed) IsConnected() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.connected
}

// FetchSnapshot implements Source from the latest pushed frame
func (f *WSFeed) FetchSnapshot(ctx context.Context, symbol string) (*types.Snapshot, error) {
	f.mu.RLock()
	snap, ok := f.latest[symbol]
	f.mu.RUnlock()

	if !ok {
		return nil, ErrNoSnapshot
	}
	return snap, nil
}

// connectionLoop maintains the WebSocket connection
func (f *WSFeed) connectionLoop() {
	for {
		select {
		case <-f.stopCh:
			return
		default:
		}

		if err := f.connect(); err != nil {
			log.Error().Err(err).Msg("Snapshot feed connect failed, retrying...")
			time.Sleep(reconnectDelay)
			continue
		}

		f.readLoop()

		f.mu.Lock()
		f.connected = false
		f.mu.Unlock()

		select {
		case <-f.stopCh:
			return
		default:
			time.Sleep(reconnectDelay)
		}
	}
}

func (f *WSFeed) connect() error {
	conn, _, err := websocket.DefaultDialer.Dial(f.wsURL, nil)
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.conn = conn
	f.connected = true
	f.mu.Unlock()

	log.Info().Msg("📡 Snapshot feed connected")

	go f.pingLoop(conn)
	return nil
}

func (f *WSFeed) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.stopCh:
			return
		case <-ticker.C:
			f.mu.Lock()
			if f.conn != conn {
				f.mu.Unlock()
				return
			}
			err := conn.WriteMessage(websocket.PingMessage, nil)
			f.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// readLoop consumes snapshot frames until the connection drops
func (f *WSFeed) readLoop() {
	f.mu.RLock()
	conn := f.conn
	f.mu.RUnlock()

	for {
		select {
		case <-f.stopCh:
			return
		default:
		}

		var snap types.Snapshot
		if err := conn.ReadJSON(&snap); err != nil {
			log.Warn().Err(err).Msg("Snapshot feed read error")
			conn.Close()
			return
		}

		if snap.Symbol == "" {
			continue
		}
		if snap.TakenAt.IsZero() {
			snap.TakenAt = time.Now()
		}

		f.mu.Lock()
		f.latest[snap.Symbol] = &snap
		f.mu.Unlock()

		f.cache.Put(&snap)

		log.Debug().
			Str("symbol", snap.Symbol).
			Str("price", snap.Price.String()).
			Msg("Snapshot received")
	}
}

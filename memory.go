/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Memorybox Game
//
// The server forms the player's uploaded images, topped up from the system
// catalog, into face-down pairs. The player flips two cards at a time; the
// pair stays visible for the resolve delay and is then either kept as a
// match or turned back over.
//
// Features:
// - WebSockets per game ID: /play/:gameid and /play/:gameid/ws
// - Every tab connected to a game sees and drives the same board
// - Uploads arrive as image data URLs and replace the previous upload
// - Face-down cards never carry their image to the client
// - Games auto-reaped after configurable idle timeout
// - Random 8-char game IDs via crypto/rand, with server-side collision check
// - In-browser QR button to share the current game, backed by go-qrcode

package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Seednode/memorybox/game"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

// Messages coming from clients
type ClientMessage struct {
	Type   string   `json:"type"`             // "upload", "clear_uploads", "start", "flip", "reset"
	Images []string `json:"images,omitempty"` // upload
	Index  *int     `json:"index,omitempty"`  // flip
}

// SessionInfoMessage is sent immediately on connect.
type SessionInfoMessage struct {
	Type         string `json:"type"` // "session_info"
	GameID       string `json:"game_id"`
	Back         string `json:"back"`           // card back image, or a glyph
	MaxPairs     int    `json:"max_pairs"`      // upload limit
	ResolveDelay int64  `json:"resolve_delay"`  // milliseconds
	CatalogSize  int    `json:"catalog_size"`   // system-provided images
}

// PoolMessage reports the images available for the next game.
type PoolMessage struct {
	Type     string `json:"type"` // "pool"
	Uploaded int    `json:"uploaded"`
	System   int    `json:"system"`
	CanStart bool   `json:"can_start"`
}

// CardView is the client-facing representation of a card. The image is only
// included while the card is face up or matched.
type CardView struct {
	Index   int    `json:"index"`
	ID      int    `json:"id"`
	Image   string `json:"image,omitempty"`
	FaceUp  bool   `json:"face_up"`
	Matched bool   `json:"matched"`
}

// BoardMessage is the full board, sent on connect, start and reset.
type BoardMessage struct {
	Type         string     `json:"type"` // "board"
	SessionID    string     `json:"session_id"`
	State        string     `json:"state"`
	Cards        []CardView `json:"cards"`
	Moves        int        `json:"moves"`
	Score        int        `json:"score"`
	Elapsed      int        `json:"elapsed"`
	Time         string     `json:"time"`
	MatchedPairs int        `json:"matched_pairs"`
	TotalPairs   int        `json:"total_pairs"`
}

type CardFlippedMessage struct {
	Type      string `json:"type"` // "card_flipped"
	SessionID string `json:"session_id"`
	Index     int    `json:"index"`
	Image     string `json:"image"`
	Moves     int    `json:"moves"`
}

type PairResolvedMessage struct {
	Type         string `json:"type"` // "pair_resolved"
	SessionID    string `json:"session_id"`
	Matched      bool   `json:"matched"`
	Indices      [2]int `json:"indices"`
	Moves        int    `json:"moves"`
	Score        int    `json:"score"`
	MatchedPairs int    `json:"matched_pairs"`
}

type TickMessage struct {
	Type      string `json:"type"` // "tick"
	SessionID string `json:"session_id"`
	Elapsed   int    `json:"elapsed"`
	Time      string `json:"time"`
}

type GameCompleteMessage struct {
	Type      string `json:"type"` // "game_complete"
	SessionID string `json:"session_id"`
	Score     int    `json:"score"`
	Moves     int    `json:"moves"`
	Elapsed   int    `json:"elapsed"`
	Time      string `json:"time"`
	TimeBonus int    `json:"time_bonus"`
	MoveBonus int    `json:"move_bonus"`
}

// SimpleMessage is for generic notifications ("error", "game_closed").
type SimpleMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type Client struct {
	conn     *websocket.Conn
	send     chan any
	playerID string
}

type clientRequest struct {
	client *Client
	msg    ClientMessage
}

type Hub struct {
	id      string
	cfg     *Config
	catalog *Catalog
	metrics *Metrics

	clients map[*Client]bool
	uploads []string

	register chan *Client
	unreg    chan *Client
	requests chan clientRequest
	calls    chan func()
	done     chan struct{}
	stopOnce sync.Once

	session *game.Session
	builder game.Builder

	mu sync.RWMutex

	createdAt  time.Time
	lastActive time.Time
}

func newHub(cfg *Config, gameID string, catalog *Catalog, metrics *Metrics) *Hub {
	now := time.Now()

	h := &Hub{
		id:         gameID,
		cfg:        cfg,
		catalog:    catalog,
		metrics:    metrics,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unreg:      make(chan *Client),
		requests:   make(chan clientRequest),
		calls:      make(chan func(), 16),
		done:       make(chan struct{}),
		builder:    game.Builder{MaxPairs: cfg.maxPairs},
		createdAt:  now,
		lastActive: now,
	}

	scheduler := game.NewLoopScheduler(h.post)

	h.session = game.NewSession(scheduler, game.Events{
		CardFlipped:  h.onCardFlipped,
		PairResolved: h.onPairResolved,
		GameComplete: h.onGameComplete,
		Tick:         h.onTick,
		Rejected: func(err error) {
			logf(cfg, "GAMES: Rejected in %s: %v", h.id, err)
		},
	}, game.WithResolveDelay(cfg.resolveDelay))

	return h
}

// post queues f on the hub's run loop. Timer callbacks arriving after the
// hub stopped are dropped.
func (h *Hub) post(f func()) {
	select {
	case h.calls <- f:
	case <-h.done:
	}
}

func (h *Hub) stop() {
	h.stopOnce.Do(func() {
		close(h.done)
	})
}

func (h *Hub) touch() {
	h.mu.Lock()
	h.lastActive = time.Now()
	h.mu.Unlock()
}

func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			h.shutdown()
			return

		case c := <-h.register:
			h.touch()

			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()

			h.send(c, SessionInfoMessage{
				Type:         "session_info",
				GameID:       h.id,
				Back:         h.catalog.Back(),
				MaxPairs:     h.cfg.maxPairs,
				ResolveDelay: h.cfg.resolveDelay.Milliseconds(),
				CatalogSize:  h.catalog.Len(),
			})
			h.send(c, h.poolMessage())
			h.send(c, h.boardMessage())

		case c := <-h.unreg:
			h.touch()

			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()

		case req := <-h.requests:
			h.touch()
			h.handleRequest(req)

		case f := <-h.calls:
			f()
		}
	}
}

func (h *Hub) shutdown() {
	h.session.Reset()

	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		select {
		case c.send <- SimpleMessage{Type: "game_closed", Message: "This game has ended due to inactivity."}:
		default:
		}
		close(c.send)
		delete(h.clients, c)
	}
}

func (h *Hub) handleRequest(req clientRequest) {
	c := req.client
	msg := req.msg

	switch msg.Type {
	case "upload":
		h.handleUpload(c, msg.Images)

	case "clear_uploads":
		h.uploads = nil
		h.broadcast(h.poolMessage())

	case "start":
		h.handleStart(c)

	case "flip":
		if msg.Index == nil {
			h.sendError(c, "missing card index")
			return
		}

		err := h.session.Flip(*msg.Index)
		h.metrics.flip(err)
		if err != nil {
			h.sendError(c, err.Error())
		}

	case "reset":
		previous := h.session.ID()
		h.session.Reset()
		logf(h.cfg, "GAMES: Reset %s (session %s)", h.id, previous)
		h.broadcast(h.boardMessage())
	}
}

func (h *Hub) handleUpload(c *Client, images []string) {
	seen := make(map[string]bool, len(images))
	accepted := make([]string, 0, h.cfg.maxPairs)
	var size int64

	for _, img := range images {
		if len(accepted) == h.cfg.maxPairs {
			break
		}
		if !strings.HasPrefix(img, "data:image/") || seen[img] {
			continue
		}

		seen[img] = true
		accepted = append(accepted, img)
		size += int64(len(img))
	}

	if len(images) > 0 && len(accepted) == 0 {
		h.sendError(c, "only image files can be uploaded")
		return
	}

	h.uploads = accepted
	h.metrics.Uploads.Add(float64(len(accepted)))

	logf(h.cfg, "GAMES: Received %d images (%s) for %s from %s",
		len(accepted), humanReadableSize(size), h.id, c.playerID)

	h.broadcast(h.poolMessage())
}

func (h *Hub) pool() game.Pool {
	user := make([]game.Item, len(h.uploads))
	for i, img := range h.uploads {
		user[i] = game.Single(img, game.SourceUser)
	}

	return game.Pool{
		User:   user,
		System: h.catalog.Sample(h.cfg.maxPairs),
	}
}

func (h *Hub) handleStart(c *Client) {
	cards, err := h.builder.Build(h.pool())
	if err != nil {
		h.sendError(c, "Please upload at least 2 images to start the game.")
		return
	}

	if err := h.session.Start(cards); err != nil {
		h.sendError(c, err.Error())
		return
	}

	h.metrics.GamesStarted.Inc()
	logf(h.cfg, "GAMES: Started %s (session %s) with %d cards", h.id, h.session.ID(), len(cards))

	h.broadcast(h.boardMessage())
}

func (h *Hub) onCardFlipped(index int) {
	sn := h.session.Snapshot()

	h.broadcast(CardFlippedMessage{
		Type:      "card_flipped",
		SessionID: sn.ID,
		Index:     index,
		Image:     sn.Cards[index].Image,
		Moves:     sn.Moves,
	})
}

func (h *Hub) onPairResolved(matched bool, indices [2]int) {
	h.metrics.resolved(matched)

	sn := h.session.Snapshot()

	h.broadcast(PairResolvedMessage{
		Type:         "pair_resolved",
		SessionID:    sn.ID,
		Matched:      matched,
		Indices:      indices,
		Moves:        sn.Moves,
		Score:        sn.Score,
		MatchedPairs: sn.MatchedPairs,
	})
}

func (h *Hub) onGameComplete(r game.Result) {
	h.metrics.GamesCompleted.Inc()
	h.metrics.FinalScores.Observe(float64(r.Score))

	logf(h.cfg, "GAMES: Completed %s (session %s) with %d points in %d moves (%s)",
		h.id, h.session.ID(), r.Score, r.Moves, game.FormatElapsed(r.Elapsed))

	h.broadcast(GameCompleteMessage{
		Type:      "game_complete",
		SessionID: h.session.ID(),
		Score:     r.Score,
		Moves:     r.Moves,
		Elapsed:   r.Elapsed,
		Time:      game.FormatElapsed(r.Elapsed),
		TimeBonus: r.TimeBonus,
		MoveBonus: r.MoveBonus,
	})
}

func (h *Hub) onTick(elapsed int) {
	h.broadcast(TickMessage{
		Type:      "tick",
		SessionID: h.session.ID(),
		Elapsed:   elapsed,
		Time:      game.FormatElapsed(elapsed),
	})
}

func (h *Hub) poolMessage() PoolMessage {
	_, err := h.builder.Build(h.pool())

	return PoolMessage{
		Type:     "pool",
		Uploaded: len(h.uploads),
		System:   h.catalog.Len(),
		CanStart: err == nil,
	}
}

func (h *Hub) boardMessage() BoardMessage {
	sn := h.session.Snapshot()

	cards := make([]CardView, len(sn.Cards))
	for i, card := range sn.Cards {
		cv := CardView{
			Index:   i,
			ID:      card.ID,
			FaceUp:  sn.FaceUp(i),
			Matched: card.Matched,
		}
		if cv.FaceUp {
			cv.Image = card.Image
		}
		cards[i] = cv
	}

	return BoardMessage{
		Type:         "board",
		SessionID:    sn.ID,
		State:        sn.State.String(),
		Cards:        cards,
		Moves:        sn.Moves,
		Score:        sn.Score,
		Elapsed:      sn.Elapsed,
		Time:         game.FormatElapsed(sn.Elapsed),
		MatchedPairs: sn.MatchedPairs,
		TotalPairs:   sn.TotalPairs,
	}
}

// send delivers msg to a single client, dropping the client if it cannot
// keep up.
func (h *Hub) send(c *Client, msg any) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.sendLocked(c, msg)
}

func (h *Hub) sendLocked(c *Client, msg any) {
	if !h.clients[c] {
		return
	}

	select {
	case c.send <- msg:
	default:
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) sendError(c *Client, text string) {
	h.send(c, SimpleMessage{
		Type:    "error",
		Message: text,
	})
}

func (h *Hub) broadcast(msg any) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		h.sendLocked(client, msg)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const playerCookieName = "memorybox_id"

func getOrSetPlayerID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(playerCookieName); err == nil && c.Value != "" {
		return c.Value
	}

	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		log.Println("rand.Read error:", err)
		return ""
	}
	id := hex.EncodeToString(buf)

	http.SetCookie(w, &http.Cookie{
		Name:     playerCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	return id
}

// GameManager holds a set of hubs keyed by game ID, so each /play/$gameid
// is its own isolated game.
type GameManager struct {
	mu          sync.Mutex
	hubs        map[string]*Hub
	cfg         *Config
	catalog     *Catalog
	metrics     *Metrics
	idleTimeout time.Duration
}

func newGameManager(ctx context.Context, cfg *Config, catalog *Catalog, metrics *Metrics) *GameManager {
	gm := &GameManager{
		hubs:        make(map[string]*Hub),
		cfg:         cfg,
		catalog:     catalog,
		metrics:     metrics,
		idleTimeout: cfg.sessionTimeout,
	}
	if gm.idleTimeout > 0 {
		go gm.reaperLoop(ctx)
	}
	return gm
}

func (gm *GameManager) getHub(gameID string) *Hub {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	if hub, ok := gm.hubs[gameID]; ok {
		return hub
	}

	hub := newHub(gm.cfg, gameID, gm.catalog, gm.metrics)
	gm.hubs[gameID] = hub
	gm.metrics.ActiveGames.Inc()
	go hub.run()
	return hub
}

// newGameID generates a crypto-random game ID and ensures it doesn't
// collide with existing games.
func (gm *GameManager) newGameID() string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	const maxByte = byte(255 - (256 % len(letters)))

	for {
		out := make([]byte, 0, 8)
		buf := make([]byte, 16)

		for len(out) < 8 {
			if _, err := rand.Read(buf); err != nil {
				panic("crypto/rand failure: " + err.Error())
			}
			for _, b := range buf {
				if b <= maxByte && len(out) < 8 {
					out = append(out, letters[int(b)%len(letters)])
				}
			}
		}
		id := string(out)

		gm.mu.Lock()
		_, exists := gm.hubs[id]
		gm.mu.Unlock()

		if !exists {
			return id
		}
	}
}

// reap stops hubs that have been idle since before cutoff.
func (gm *GameManager) reap(cutoff time.Time) int {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	reaped := 0
	for id, hub := range gm.hubs {
		hub.mu.RLock()
		last := hub.lastActive
		hub.mu.RUnlock()

		if last.Before(cutoff) {
			delete(gm.hubs, id)
			hub.stop()
			gm.metrics.ActiveGames.Dec()
			logf(gm.cfg, "GAMES: Reaped idle game %s", id)
			reaped++
		}
	}

	return reaped
}

// stopAll ends every game, for shutdown.
func (gm *GameManager) stopAll() {
	gm.reap(time.Now().Add(time.Hour))
}

// reaperLoop periodically removes hubs that have been idle longer than idleTimeout.
func (gm *GameManager) reaperLoop(ctx context.Context) {
	ticker := time.NewTicker(gm.idleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			gm.reap(time.Now().Add(-gm.idleTimeout))
		}
	}
}

// WebSocket handler that picks the hub based on :gameid
func serveWSForManager(gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		gameID := ps.ByName("gameid")
		if gameID == "" {
			http.Error(w, "missing game id", http.StatusBadRequest)
			return
		}

		playerID := getOrSetPlayerID(w, r)
		if playerID == "" {
			http.Error(w, "unable to assign player id", http.StatusInternalServerError)
			return
		}

		hub := gm.getHub(gameID)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}
		conn.SetReadLimit(gm.cfg.maxUploadSize)

		client := &Client{
			conn:     conn,
			send:     make(chan any, 32),
			playerID: playerID,
		}

		select {
		case hub.register <- client:
		case <-hub.done:
			_ = conn.Close()
			return
		}

		go client.writePump()
		client.readPump(hub)
	}
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		select {
		case h.unreg <- c:
		case <-h.done:
		}
		_ = c.conn.Close()
	}()

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "upload", "clear_uploads", "start", "flip", "reset":
			select {
			case h.requests <- clientRequest{client: c, msg: msg}:
			case <-h.done:
				return
			}
		default:
			// ignore unknown types
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(timeout))
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// QR handler: generates a PNG QR code for the current game URL using go-qrcode.
func qrHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	gameID := ps.ByName("gameid")
	if gameID == "" {
		http.Error(w, "missing game id", http.StatusBadRequest)
		return
	}

	// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	// We are at /.../:gameid/qr; strip trailing "/qr" to get the game URL.
	path := strings.TrimSuffix(r.URL.Path, "/qr")

	url := scheme + "://" + r.Host + path

	const qrSize = 320
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// redirectNewGame handles GET /play by generating a new random game ID
// and redirecting to /play/:gameid.
func redirectNewGame(cfg *Config, path string, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		gameID := gm.newGameID()
		logf(cfg, "GAMES: Created game %s/%s", path, gameID)
		http.Redirect(w, r, cfg.prefix+path+"/"+gameID, http.StatusTemporaryRedirect)
	}
}

// registerMemoryGame sets up routes so that:
//   - $path                  → redirects to new random game (8-char ID)
//   - $path/:gameid          → HTML client
//   - $path/:gameid/ws       → WebSocket for that game
//   - $path/:gameid/qr       → PNG QR code for that game URL
func registerMemoryGame(cfg *Config, path string, mux *httprouter.Router, gm *GameManager) {
	mux.GET(cfg.prefix+path, redirectNewGame(cfg, path, gm))

	mux.GET(cfg.prefix+path+"/:gameid", serveIndex(cfg))

	mux.GET(cfg.prefix+path+"/:gameid/ws", serveWSForManager(gm))

	mux.GET(cfg.prefix+path+"/:gameid/qr", qrHandler)
}

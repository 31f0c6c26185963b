/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

const (
	pngA = "data:image/png;base64,iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNk+M9QDwADhgGAWjR9awAAAABJRU5ErkJggg=="
	pngB = "data:image/png;base64,iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mP8z8DwHwAFBQIAX8jx0gAAAABJRU5ErkJggg=="
)

type testGame struct {
	srv  *httptest.Server
	gm   *GameManager
	errs chan error
}

func newTestGame(t *testing.T) *testGame {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())

	errs := make(chan error, 16)

	mux, gm, err := newRouter(ctx, testConfig(), errs)
	if err != nil {
		cancel()
		t.Fatalf("newRouter() error: %v", err)
	}

	srv := httptest.NewServer(mux)

	t.Cleanup(func() {
		gm.stopAll()
		srv.Close()
		cancel()
	})

	return &testGame{srv: srv, gm: gm, errs: errs}
}

func (g *testGame) dial(t *testing.T, gameID string) *websocket.Conn {
	t.Helper()

	u := "ws" + strings.TrimPrefix(g.srv.URL, "http") + "/play/" + gameID + "/ws"

	conn, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("Dial(%s) error: %v", u, err)
	}
	_ = resp.Body.Close()

	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

type message struct {
	Type string `json:"type"`
	raw  []byte
}

func (m message) decode(t *testing.T, v any) {
	t.Helper()

	if err := json.Unmarshal(m.raw, v); err != nil {
		t.Fatalf("Unmarshal(%s) error: %v", m.Type, err)
	}
}

// readUntil skips messages until one of type want arrives.
func readUntil(t *testing.T, conn *websocket.Conn, want string) message {
	t.Helper()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v", want, err)
		}

		m := message{raw: data}
		if err := json.Unmarshal(data, &m); err != nil {
			t.Fatalf("Unmarshal() error: %v", err)
		}

		if m.Type == want {
			return m
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, msg map[string]any) {
	t.Helper()

	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("WriteJSON(%v) error: %v", msg, err)
	}
}

func TestMemoryGame_Connect(t *testing.T) {
	g := newTestGame(t)
	conn := g.dial(t, "game1")

	var info SessionInfoMessage
	readUntil(t, conn, "session_info").decode(t, &info)

	if info.GameID != "game1" || info.Back != fallbackBack || info.MaxPairs != 8 || info.ResolveDelay != 10 {
		t.Errorf("session_info = %+v", info)
	}

	var pool PoolMessage
	readUntil(t, conn, "pool").decode(t, &pool)
	if pool.CanStart || pool.Uploaded != 0 {
		t.Errorf("pool = %+v, want nothing uploaded and unable to start", pool)
	}

	var board BoardMessage
	readUntil(t, conn, "board").decode(t, &board)
	if board.State != "not_started" || len(board.Cards) != 0 {
		t.Errorf("board = %+v, want an empty board", board)
	}
}

func TestMemoryGame_StartWithoutImages(t *testing.T) {
	g := newTestGame(t)
	conn := g.dial(t, "empty")
	readUntil(t, conn, "board")

	send(t, conn, map[string]any{"type": "start"})

	var msg SimpleMessage
	readUntil(t, conn, "error").decode(t, &msg)

	if !strings.Contains(msg.Message, "at least 2 images") {
		t.Errorf("error = %q, want an upload prompt", msg.Message)
	}
}

func TestMemoryGame_Upload(t *testing.T) {
	g := newTestGame(t)
	conn := g.dial(t, "upload")
	readUntil(t, conn, "board")

	send(t, conn, map[string]any{"type": "upload", "images": []string{"not an image"}})

	var errMsg SimpleMessage
	readUntil(t, conn, "error").decode(t, &errMsg)
	if errMsg.Message != "only image files can be uploaded" {
		t.Errorf("error = %q", errMsg.Message)
	}

	send(t, conn, map[string]any{"type": "upload", "images": []string{pngA, pngA, pngB}})

	var pool PoolMessage
	readUntil(t, conn, "pool").decode(t, &pool)
	if pool.Uploaded != 2 || !pool.CanStart {
		t.Errorf("pool = %+v, want 2 deduplicated uploads", pool)
	}

	send(t, conn, map[string]any{"type": "clear_uploads"})

	readUntil(t, conn, "pool").decode(t, &pool)
	if pool.Uploaded != 0 || pool.CanStart {
		t.Errorf("pool = %+v after clear, want nothing", pool)
	}
}

func TestMemoryGame_Play(t *testing.T) {
	g := newTestGame(t)
	conn := g.dial(t, "play")
	readUntil(t, conn, "board")

	send(t, conn, map[string]any{"type": "upload", "images": []string{pngA, pngB}})
	readUntil(t, conn, "pool")

	send(t, conn, map[string]any{"type": "start"})

	var board BoardMessage
	readUntil(t, conn, "board").decode(t, &board)

	if board.State != "running" || len(board.Cards) != 4 || board.TotalPairs != 2 {
		t.Fatalf("board = %+v, want a running game of 4 cards", board)
	}
	if board.SessionID == "" {
		t.Error("board has no session id")
	}
	sessionID := board.SessionID
	for _, c := range board.Cards {
		if c.Image != "" || c.FaceUp {
			t.Errorf("card %d = %+v, want face down without an image", c.Index, c)
		}
	}

	images := make([]string, 4)
	for i := range 2 {
		send(t, conn, map[string]any{"type": "flip", "index": i})

		var flipped CardFlippedMessage
		readUntil(t, conn, "card_flipped").decode(t, &flipped)
		if flipped.Index != i || flipped.Image == "" {
			t.Fatalf("card_flipped = %+v, want card %d with its image", flipped, i)
		}
		if flipped.Moves != i || flipped.SessionID != sessionID {
			t.Errorf("card_flipped = %+v, want moves %d in session %s", flipped, i, sessionID)
		}
		images[i] = flipped.Image
	}

	var resolved PairResolvedMessage
	readUntil(t, conn, "pair_resolved").decode(t, &resolved)

	if resolved.Indices != [2]int{0, 1} {
		t.Errorf("indices = %v, want [0 1]", resolved.Indices)
	}
	if resolved.Moves != 1 || resolved.SessionID != sessionID {
		t.Errorf("pair_resolved = %+v, want moves 1 in session %s", resolved, sessionID)
	}
	if resolved.Matched != (images[0] == images[1]) {
		t.Errorf("matched = %v for images %q and %q", resolved.Matched, images[0], images[1])
	}

	send(t, conn, map[string]any{"type": "reset"})

	readUntil(t, conn, "board").decode(t, &board)
	if board.State != "not_started" || len(board.Cards) != 0 || board.Moves != 0 || board.SessionID != "" {
		t.Errorf("board = %+v after reset, want a cleared board", board)
	}

	send(t, conn, map[string]any{"type": "flip", "index": 0})

	var errMsg SimpleMessage
	readUntil(t, conn, "error").decode(t, &errMsg)
	if !strings.Contains(errMsg.Message, "out of state") {
		t.Errorf("error = %q, want an out of state rejection", errMsg.Message)
	}
}

func TestMemoryGame_SharedBoard(t *testing.T) {
	g := newTestGame(t)
	first := g.dial(t, "shared")
	second := g.dial(t, "shared")
	readUntil(t, first, "board")
	readUntil(t, second, "board")

	send(t, first, map[string]any{"type": "upload", "images": []string{pngA, pngB}})
	send(t, first, map[string]any{"type": "start"})

	var board BoardMessage
	readUntil(t, second, "board").decode(t, &board)
	if board.State != "running" {
		t.Errorf("second tab board state = %q, want running", board.State)
	}
}

func TestMemoryGame_Closed(t *testing.T) {
	g := newTestGame(t)
	conn := g.dial(t, "closing")
	readUntil(t, conn, "board")

	g.gm.stopAll()

	var msg SimpleMessage
	readUntil(t, conn, "game_closed").decode(t, &msg)
	if msg.Message == "" {
		t.Error("game_closed message is empty")
	}
}

func TestGameManager_Reap(t *testing.T) {
	g := newTestGame(t)

	hub := g.gm.getHub("idle")
	if again := g.gm.getHub("idle"); again != hub {
		t.Error("getHub() returned a different hub for the same id")
	}

	if n := g.gm.reap(time.Now().Add(-time.Hour)); n != 0 {
		t.Errorf("reap(past) = %d, want 0", n)
	}

	if n := g.gm.reap(time.Now().Add(time.Minute)); n != 1 {
		t.Errorf("reap(future) = %d, want 1", n)
	}

	select {
	case <-hub.done:
	case <-time.After(time.Second):
		t.Error("reaped hub was not stopped")
	}

	if fresh := g.gm.getHub("idle"); fresh == hub {
		t.Error("getHub() returned a reaped hub")
	}
}

func TestGameManager_NewGameID(t *testing.T) {
	g := newTestGame(t)

	seen := make(map[string]bool)
	for range 100 {
		id := g.gm.newGameID()
		if len(id) != 8 {
			t.Fatalf("newGameID() = %q, want 8 characters", id)
		}
		if seen[id] {
			t.Fatalf("newGameID() repeated %q", id)
		}
		seen[id] = true
	}
}

func TestRedirectNewGame(t *testing.T) {
	g := newTestGame(t)

	client := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	resp, err := client.Get(g.srv.URL + "/play")
	if err != nil {
		t.Fatalf("Get(/play) error: %v", err)
	}
	_ = resp.Body.Close()

	if resp.StatusCode != http.StatusTemporaryRedirect {
		t.Errorf("status = %d, want 307", resp.StatusCode)
	}

	loc := resp.Header.Get("Location")
	if !strings.HasPrefix(loc, "/play/") || len(loc) != len("/play/")+8 {
		t.Errorf("Location = %q, want /play/<8 chars>", loc)
	}
}

func TestQRHandler(t *testing.T) {
	g := newTestGame(t)

	resp, err := http.Get(g.srv.URL + "/play/abc/qr")
	if err != nil {
		t.Fatalf("Get(qr) error: %v", err)
	}
	_ = resp.Body.Close()

	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "image/png" {
		t.Errorf("status = %d, Content-Type = %q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
}

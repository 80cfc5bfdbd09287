// Happy, Angry, Surprised
//
// Two players take a selfie at the same moment. Cloud Vision decides which
// emotion each face shows, and the emotions settle the game the way rock,
// paper and scissors would: happy beats angry, surprised beats happy and
// angry beats surprised.
//
// Features:
// - One websocket per browser at /ws carries the lobby and the game
// - Players identified by cookie (playerID) and a display name chosen on login
// - Open games appear in every other player's lobby as soon as they are created
// - Only one joiner wins a race for the same game
// - Unjoined games vanish when their creator disconnects
// - Games auto-reaped after configurable idle timeout
// - Finished games recorded in a sqlite ledger, served at /api/history
// - In-browser QR button to share an open game, backed by go-qrcode

package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Seednode/happyangrysurprised/blob"
	"github.com/Seednode/happyangrysurprised/game"
	"github.com/Seednode/happyangrysurprised/history"
	"github.com/Seednode/happyangrysurprised/session"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"
)

const (
	maxNameLength  = 32
	maxMessageSize = 8 << 20
	sendBuffer     = 256
)

var (
	errPhotoTimeout = errors.New("no photo arrived in time")
	errDisconnected = errors.New("player disconnected")
)

// Messages coming from clients
type ClientMessage struct {
	Type        string `json:"type"`                   // "login", "create", "join", "photo", "leave"
	DisplayName string `json:"display_name,omitempty"` // login
	GameID      string `json:"game_id,omitempty"`      // join
	Photo       string `json:"photo,omitempty"`        // photo, as base64 or a data URL
}

// SessionInfoMessage is sent on connect and after login so the client knows
// who it is and whether it is already in a game.
type SessionInfoMessage struct {
	Type        string `json:"type"` // "session_info"
	PlayerID    string `json:"player_id"`
	DisplayName string `json:"display_name,omitempty"`
	GameID      string `json:"game_id,omitempty"`
}

type GameSummary struct {
	ID        string    `json:"id"`
	Creator   string    `json:"creator"`
	CreatedAt time.Time `json:"created_at"`
}

// GameListMessage adds a game to or removes it from the lobby.
type GameListMessage struct {
	Type string      `json:"type"` // "game_added" or "game_removed"
	Game GameSummary `json:"game"`
}

// GameStateMessage carries the full record of the player's current game.
type GameStateMessage struct {
	Type string           `json:"type"` // "game_state"
	Role string           `json:"role"`
	Game *session.Session `json:"game"`
}

type TakePictureMessage struct {
	Type    string `json:"type"` // "take_picture"
	GameID  string `json:"game_id"`
	Timeout int    `json:"timeout_seconds"`
}

type ResultMessage struct {
	Type    string         `json:"type"` // "result"
	GameID  string         `json:"game_id"`
	Verdict game.Verdict   `json:"verdict"`
	Creator session.Player `json:"creator"`
	Joiner  session.Player `json:"joiner"`
}

// SimpleMessage is for notifications ("abandoned", "error", "validation").
type SimpleMessage struct {
	Type    string `json:"type"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func summarize(s *session.Session) GameSummary {
	return GameSummary{
		ID:        s.ID,
		Creator:   s.Creator.DisplayName,
		CreatedAt: s.CreatedAt,
	}
}

// Client is one browser connection. It is the camera and the screen of the
// game client it drives.
type Client struct {
	conn     *websocket.Conn
	send     chan any
	photos   chan []byte
	done     chan struct{}
	once     sync.Once
	playerID string

	lobby *Lobby
	game  *game.Client
}

func (c *Client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *Client) emit(msg any) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		c.lobby.cfg.log().Warn("dropping slow client", zap.String("player", c.playerID))
		c.close()
	}
}

func (c *Client) sessionInfo() SessionInfoMessage {
	return SessionInfoMessage{
		Type:        "session_info",
		PlayerID:    c.playerID,
		DisplayName: c.game.User().DisplayName,
		GameID:      c.game.GameID(),
	}
}

func (c *Client) validation(field, text string) {
	c.emit(SimpleMessage{
		Type:    "validation",
		Field:   field,
		Message: text,
	})
}

func (c *Client) fail(err error) {
	if isValidation(err) {
		c.validation("", playerMessage(err))
		return
	}

	c.emit(SimpleMessage{
		Type:    "error",
		Message: playerMessage(err),
	})
}

// Capture waits for the browser to send the photo requested by TakePicture.
func (c *Client) Capture(ctx context.Context, gameID string) ([]byte, error) {
	timer := time.NewTimer(c.lobby.cfg.photoTimeout)
	defer timer.Stop()

	select {
	case data := <-c.photos:
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, errDisconnected
	case <-timer.C:
		return nil, errPhotoTimeout
	}
}

func (c *Client) GameChanged(s *session.Session) {
	c.emit(GameStateMessage{
		Type: "game_state",
		Role: game.RoleOf(s, c.playerID).String(),
		Game: s,
	})
}

func (c *Client) TakePicture(gameID string) {
	// Photos sent before they were asked for do not count.
	select {
	case <-c.photos:
	default:
	}

	c.emit(TakePictureMessage{
		Type:    "take_picture",
		GameID:  gameID,
		Timeout: int(c.lobby.cfg.photoTimeout / time.Second),
	})
}

func (c *Client) Result(s *session.Session, v game.Verdict) {
	msg := ResultMessage{
		Type:    "result",
		GameID:  s.ID,
		Verdict: v,
		Creator: s.Creator,
	}
	if s.Joiner != nil {
		msg.Joiner = *s.Joiner
	}

	c.emit(msg)
}

func (c *Client) Abandoned(gameID string) {
	c.emit(SimpleMessage{
		Type:    "abandoned",
		Message: "The other player left the game.",
	})
}

func (c *Client) Notify(err error) {
	c.fail(err)
}

// decodePhoto accepts plain base64 or a data URL.
func decodePhoto(photo string) ([]byte, error) {
	if strings.HasPrefix(photo, "data:") {
		_, encoded, ok := strings.Cut(photo, ",")
		if !ok {
			return nil, errors.New("malformed data URL")
		}
		photo = encoded
	}
	if photo == "" {
		return nil, errors.New("empty photo")
	}

	return base64.StdEncoding.DecodeString(photo)
}

func (c *Client) handle(ctx context.Context, msg ClientMessage) {
	cfg := c.lobby.cfg

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch msg.Type {
	case "login":
		name := strings.TrimSpace(msg.DisplayName)
		switch {
		case name == "":
			c.validation("display_name", "Please choose a display name.")
			return
		case len([]rune(name)) > maxNameLength:
			c.validation("display_name", "That display name is too long.")
			return
		}

		if err := c.game.Login(game.User{UID: c.playerID, DisplayName: name}); err != nil {
			c.fail(err)
			return
		}

		logf(cfg, "GAMES: Player %s logged in as %q", c.playerID, name)

		c.emit(c.sessionInfo())

	case "create":
		id, err := c.game.Create(ctx)
		if err != nil {
			c.fail(err)
			return
		}

		logf(cfg, "GAMES: Player %s created game %s", c.playerID, id)

	case "join":
		if msg.GameID == "" {
			c.validation("game_id", playerMessage(game.ErrMissingGameID))
			return
		}

		if err := c.game.Join(ctx, msg.GameID); err != nil {
			c.fail(err)
			return
		}

		logf(cfg, "GAMES: Player %s joined game %s", c.playerID, msg.GameID)

	case "photo":
		data, err := decodePhoto(msg.Photo)
		if err != nil {
			c.validation("photo", "That photo could not be read.")
			return
		}

		select {
		case c.photos <- data:
			logf(cfg, "GAMES: Player %s sent a photo (%s)", c.playerID, humanReadableSize(int64(len(data))))
		default:
			c.validation("photo", "A photo is already waiting to be processed.")
		}

	case "leave":
		if err := c.game.Leave(ctx); err != nil {
			c.fail(err)
			return
		}

		c.emit(c.sessionInfo())

	default:
		// ignore unknown types
	}
}

func (c *Client) readPump(ctx context.Context) {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		c.handle(ctx, msg)
	}
}

func (c *Client) writePump() {
	defer c.close()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(timeout))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// Lobby holds every connected player and removes idle games.
type Lobby struct {
	cfg      *Config
	backends *backends

	mu      sync.Mutex
	clients map[*Client]struct{}
}

func newLobby(cfg *Config, b *backends) *Lobby {
	return &Lobby{
		cfg:      cfg,
		backends: b,
		clients:  make(map[*Client]struct{}),
	}
}

func (l *Lobby) add(c *Client) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.clients[c] = struct{}{}
}

func (l *Lobby) remove(c *Client) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.clients, c)
}

func (l *Lobby) connected() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.clients)
}

// closeAll disconnects every client (used on shutdown).
func (l *Lobby) closeAll(ctx context.Context) {
	l.mu.Lock()
	clients := make([]*Client, 0, len(l.clients))
	for c := range l.clients {
		clients = append(clients, c)
	}
	l.mu.Unlock()

	for _, c := range clients {
		c.close()
		if err := c.game.Close(ctx); err != nil {
			l.cfg.log().Warn("error while closing player", zap.String("player", c.playerID), zap.Error(err))
		}
	}
}

// recordResult is called by the creator's client once a game completes.
func (l *Lobby) recordResult(ctx context.Context, s *session.Session) {
	if l.backends.history == nil {
		return
	}

	recorded, err := l.backends.history.Record(context.WithoutCancel(ctx), s)
	if err != nil {
		l.cfg.log().Error("error while recording result", zap.String("game", s.ID), zap.Error(err))
		return
	}

	if recorded {
		logf(l.cfg, "GAMES: Recorded result of game %s", s.ID)
	}
}

// reapOnce deletes every game not updated since before.
func (l *Lobby) reapOnce(ctx context.Context, before time.Time) (int, error) {
	ids, err := l.backends.store.Stale(ctx, before)
	if err != nil {
		return 0, err
	}

	reaped := 0
	for _, id := range ids {
		err := l.backends.store.Delete(ctx, id)
		switch {
		case errors.Is(err, session.ErrNotFound):
		case err != nil:
			return reaped, err
		default:
			reaped++
		}
	}

	return reaped, nil
}

// reap periodically removes games that have been idle longer than the
// session timeout.
func (l *Lobby) reap(ctx context.Context) error {
	if l.cfg.sessionTimeout <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(l.cfg.sessionTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			reaped, err := l.reapOnce(ctx, now.Add(-l.cfg.sessionTimeout))
			if err != nil && ctx.Err() == nil {
				l.cfg.log().Warn("error while reaping idle games", zap.Error(err))
			}
			if reaped > 0 {
				logf(l.cfg, "GAMES: Reaped %d idle games", reaped)
			}
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const playerCookieName = "has_id"

const playerIDBytes = 16

// validPlayerID reports whether id looks like one issued by playerID. Ids end
// up in photo paths, so nothing else is accepted.
func validPlayerID(id string) bool {
	if len(id) != hex.EncodedLen(playerIDBytes) {
		return false
	}
	_, err := hex.DecodeString(id)
	return err == nil
}

// playerID returns the id stored in the request's cookie, or a new id and
// the cookie that stores it.
func playerID(r *http.Request) (string, *http.Cookie) {
	if c, err := r.Cookie(playerCookieName); err == nil && validPlayerID(c.Value) {
		return c.Value, nil
	}

	buf := make([]byte, playerIDBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", nil
	}
	id := hex.EncodeToString(buf)

	return id, &http.Cookie{
		Name:     playerCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

func getOrSetPlayerID(w http.ResponseWriter, r *http.Request) string {
	id, cookie := playerID(r)
	if cookie != nil {
		http.SetCookie(w, cookie)
	}
	return id
}

func serveWS(cfg *Config, l *Lobby) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		id, cookie := playerID(r)
		if id == "" {
			http.Error(w, "unable to assign player id", http.StatusInternalServerError)
			return
		}

		header := http.Header{}
		if cookie != nil {
			header.Add("Set-Cookie", cookie.String())
		}

		conn, err := upgrader.Upgrade(w, r, header)
		if err != nil {
			logf(cfg, "ERROR: Websocket upgrade for %s failed: %v", realIP(r), err)
			return
		}

		ctx, cancel := context.WithCancel(context.Background())

		client := &Client{
			conn:     conn,
			send:     make(chan any, sendBuffer),
			photos:   make(chan []byte, 1),
			done:     make(chan struct{}),
			playerID: id,
			lobby:    l,
		}
		client.game = game.New(game.Config{
			Store:      l.backends.store,
			Blobs:      l.backends.blobs,
			Detector:   l.backends.detector,
			Camera:     client,
			UI:         client,
			User:       game.User{UID: id},
			Countdown:  cfg.countdown,
			Logger:     cfg.log().With(zap.String("player", id)),
			OnComplete: l.recordResult,
		})

		l.add(client)

		logf(cfg, "GAMES: Player %s connected from %s", id, realIP(r))

		defer func() {
			cancel()
			l.remove(client)

			closeCtx, done := context.WithTimeout(context.Background(), timeout)
			defer done()

			if err := client.game.Close(closeCtx); err != nil {
				cfg.log().Warn("error while closing player", zap.String("player", id), zap.Error(err))
			}

			logf(cfg, "GAMES: Player %s disconnected", id)
		}()

		go client.writePump()

		client.emit(client.sessionInfo())

		if err := client.game.WatchOpen(ctx,
			func(s *session.Session) {
				client.emit(GameListMessage{Type: "game_added", Game: summarize(s)})
			},
			func(s *session.Session) {
				client.emit(GameListMessage{Type: "game_removed", Game: summarize(s)})
			}); err != nil {
			cfg.log().Error("error while listing open games", zap.Error(err))
			client.close()
			return
		}

		client.readPump(ctx)
	}
}

func writeJSON(cfg *Config, w http.ResponseWriter, v any, errs chan<- error) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "encoding failed", http.StatusInternalServerError)
		errs <- err

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	securityHeaders(cfg, w)

	_, err = w.Write(append(data, '\n'))
	if err != nil {
		errs <- err

		return
	}
}

func serveOpenGames(cfg *Config, l *Lobby, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		open, err := l.backends.store.ListOpen(r.Context())
		if err != nil {
			http.Error(w, "unable to list games", http.StatusInternalServerError)
			errs <- err

			return
		}

		games := make([]GameSummary, 0, len(open))
		for _, s := range open {
			games = append(games, summarize(s))
		}

		writeJSON(cfg, w, games, errs)
	}
}

type historyResponse struct {
	Standings []history.Standing `json:"standings" yaml:"standings"`
	Recent    []history.Result   `json:"recent" yaml:"recent"`
}

func serveHistory(cfg *Config, l *Lobby, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		resp := historyResponse{
			Standings: []history.Standing{},
			Recent:    []history.Result{},
		}

		if l.backends.history != nil {
			standings, err := l.backends.history.Standings(r.Context(), 10)
			if err != nil {
				http.Error(w, "unable to load standings", http.StatusInternalServerError)
				errs <- err

				return
			}

			recent, err := l.backends.history.Recent(r.Context(), 20)
			if err != nil {
				http.Error(w, "unable to load results", http.StatusInternalServerError)
				errs <- err

				return
			}

			resp.Standings, resp.Recent = standings, recent
		}

		writeJSON(cfg, w, resp, errs)
	}
}

func servePhoto(cfg *Config, local *blob.LocalStore, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		data, err := local.Read(r.Context(), strings.TrimPrefix(p.ByName("filepath"), "/"))
		if errors.Is(err, blob.ErrNotFound) {
			http.NotFound(w, r)

			return
		}
		if err != nil {
			http.Error(w, "unable to read photo", http.StatusInternalServerError)
			errs <- err

			return
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "private, max-age=3600")
		securityHeaders(cfg, w)

		_, err = w.Write(data)
		if err != nil {
			errs <- err

			return
		}
	}
}

// QR handler: generates a PNG QR code linking straight to joining a game.
func qrHandler(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
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

		link := scheme + "://" + r.Host + cfg.prefix + "/?join=" + url.QueryEscape(gameID)

		const qrSize = 320 // mobile-friendly size
		png, err := qrcode.Encode(link, qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		securityHeaders(cfg, w)
		_, _ = w.Write(png)
	}
}

// registerGame sets up routes so that:
//   - /ws                → websocket for lobby and game
//   - /api/games         → open games as JSON
//   - /api/history       → standings and recent results as JSON
//   - /games/:gameid/qr  → PNG QR code joining that game
//   - /photos/*filepath  → locally stored photos
func registerGame(cfg *Config, l *Lobby, mux *httprouter.Router, errs chan<- error) {
	mux.GET(cfg.prefix+"/ws", serveWS(cfg, l))

	mux.GET(cfg.prefix+"/api/games", serveOpenGames(cfg, l, errs))

	mux.GET(cfg.prefix+"/api/history", serveHistory(cfg, l, errs))

	mux.GET(cfg.prefix+"/games/:gameid/qr", qrHandler(cfg))

	if l.backends.local != nil {
		mux.GET(cfg.prefix+"/photos/*filepath", servePhoto(cfg, l.backends.local, errs))
	}
}

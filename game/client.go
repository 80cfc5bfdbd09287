/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package game

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Seednode/happyangrysurprised/blob"
	"github.com/Seednode/happyangrysurprised/emotion"
	"github.com/Seednode/happyangrysurprised/session"
	"go.uber.org/zap"
)

var (
	ErrNotLoggedIn   = errors.New("a display name is required to play")
	ErrInGame        = errors.New("already playing a game")
	ErrNoGame        = errors.New("not playing a game")
	ErrMissingGameID = errors.New("no game selected")
	ErrOwnGame       = errors.New("cannot join your own game")
	ErrAlreadyJoined = errors.New("someone else already joined that game")
	ErrJoinRejected  = errors.New("game is no longer accepting players")
)

type User struct {
	UID         string
	DisplayName string
}

// Camera produces the player's selfie for a game. Capture blocks until the
// photo arrives or ctx is done.
type Camera interface {
	Capture(ctx context.Context, gameID string) ([]byte, error)
}

// UI receives everything a player should see.
type UI interface {
	GameChanged(s *session.Session)
	TakePicture(gameID string)
	Result(s *session.Session, v Verdict)
	Abandoned(gameID string)
	Notify(err error)
}

type Config struct {
	Store    session.Store
	Blobs    blob.Store
	Detector emotion.Detector
	Camera   Camera
	UI       UI
	User     User

	// Countdown is how long the creator waits after a join before asking
	// both players for a photo.
	Countdown time.Duration

	Logger *zap.Logger

	// OnComplete is called once by the creator's client with the finished
	// record.
	OnComplete func(ctx context.Context, s *session.Session)
}

// Client plays games on behalf of one user. It may be in at most one game
// at a time.
type Client struct {
	cfg    Config
	logger *zap.Logger
	conn   *session.Connection

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	user User
	play *play
}

func New(cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Client{
		cfg:    cfg,
		logger: logger,
		conn:   session.NewConnection(cfg.Store),
		ctx:    ctx,
		cancel: cancel,
		user:   cfg.User,
	}
}

// Login sets the identity used for new games.
func (c *Client) Login(u User) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.play != nil {
		return ErrInGame
	}
	if u.UID == "" || u.DisplayName == "" {
		return ErrNotLoggedIn
	}
	c.user = u

	return nil
}

func (c *Client) User() User {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.user
}

func (c *Client) GameID() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.play == nil {
		return ""
	}
	return c.play.id
}

func (c *Client) readyLocked() error {
	if c.user.UID == "" || c.user.DisplayName == "" {
		return ErrNotLoggedIn
	}
	if c.play != nil {
		return ErrInGame
	}
	return nil
}

// Create opens a new game and waits for someone to join it. The game is
// removed again if this client closes before that happens.
func (c *Client) Create(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.readyLocked(); err != nil {
		return "", err
	}

	s := &session.Session{
		Creator: session.Player{
			UID:         c.user.UID,
			DisplayName: c.user.DisplayName,
		},
	}
	if err := advance(s, session.Open, c.user.UID); err != nil {
		return "", err
	}

	id, err := c.cfg.Store.Create(ctx, s)
	if err != nil {
		return "", fmt.Errorf("while creating game: %w", err)
	}

	if err := c.conn.RemoveOnDisconnect(id); err != nil {
		// Closed while the record was being created; nobody else will remove it.
		if derr := c.cfg.Store.Delete(context.WithoutCancel(ctx), id); derr != nil && !errors.Is(derr, session.ErrNotFound) {
			c.logger.Warn("error while removing orphaned game", zap.String("game", id), zap.Error(derr))
		}
		return "", fmt.Errorf("while creating game: %w", err)
	}

	if err := c.watchLocked(id); err != nil {
		return "", err
	}

	c.logger.Info("game created",
		zap.String("game", id),
		zap.String("creator", c.user.UID))

	return id, nil
}

// Join claims the open game id. Only one of several concurrent joiners wins;
// the others get ErrAlreadyJoined.
func (c *Client) Join(ctx context.Context, id string) error {
	if id == "" {
		return ErrMissingGameID
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.readyLocked(); err != nil {
		return err
	}

	me := c.user

	_, final, err := c.cfg.Store.Transaction(ctx, id, func(s *session.Session) error {
		if s.Creator.UID == me.UID {
			return ErrOwnGame
		}
		if s.Joiner != nil || s.State != session.Open {
			return session.ErrAbort
		}

		s.Joiner = &session.Player{
			UID:         me.UID,
			DisplayName: me.DisplayName,
		}

		return advance(s, session.Joined, me.UID)
	})
	switch {
	case errors.Is(err, ErrOwnGame):
		return ErrOwnGame
	case err != nil:
		return fmt.Errorf("while joining game %s: %w", id, err)
	case final == nil || final.Joiner == nil:
		return ErrJoinRejected
	case final.Joiner.UID != me.UID:
		return ErrAlreadyJoined
	}

	if err := c.watchLocked(id); err != nil {
		return err
	}

	c.logger.Info("game joined",
		zap.String("game", id),
		zap.String("joiner", me.UID))

	return nil
}

// WatchOpen reports games that are waiting for a joiner, other than this
// user's own, until ctx is done.
func (c *Client) WatchOpen(ctx context.Context, onAdded, onRemoved func(*session.Session)) error {
	others := func(deliver func(*session.Session)) func(*session.Session) {
		return func(s *session.Session) {
			if s.Creator.UID == c.User().UID {
				return
			}
			deliver(s)
		}
	}

	if err := c.cfg.Store.SubscribeOpen(ctx, others(onAdded), others(onRemoved)); err != nil {
		return fmt.Errorf("while subscribing to open games: %w", err)
	}

	return nil
}

// Leave abandons the current game. An unfinished game is deleted, which the
// other player sees as abandoned.
func (c *Client) Leave(ctx context.Context) error {
	c.mu.Lock()
	p := c.play
	c.play = nil
	c.mu.Unlock()

	if p == nil {
		return ErrNoGame
	}

	p.cancel()
	c.conn.Cancel(p.id)

	if p.completed.Load() {
		return nil
	}

	err := c.cfg.Store.Delete(ctx, p.id)
	if err != nil && !errors.Is(err, session.ErrNotFound) {
		return fmt.Errorf("while leaving game %s: %w", p.id, err)
	}

	c.logger.Info("game left", zap.String("game", p.id))

	return nil
}

// Close stops all subscriptions and removes any game that was still waiting
// for a joiner.
func (c *Client) Close(ctx context.Context) error {
	c.cancel()

	c.mu.Lock()
	c.play = nil
	c.mu.Unlock()

	return c.conn.Close(ctx)
}

func (c *Client) watchLocked(id string) error {
	ctx, cancel := context.WithCancel(c.ctx)

	p := &play{
		id:     id,
		uid:    c.user.UID,
		ctx:    ctx,
		cancel: cancel,
	}

	if err := c.cfg.Store.Watch(ctx, id, func(s *session.Session) {
		c.deliver(p, s)
	}); err != nil {
		cancel()
		return fmt.Errorf("while watching game %s: %w", id, err)
	}

	c.play = p

	return nil
}

func (c *Client) detach(p *play) {
	c.mu.Lock()
	if c.play == p {
		c.play = nil
	}
	c.mu.Unlock()

	p.cancel()
}

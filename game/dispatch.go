/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package game

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Seednode/happyangrysurprised/blob"
	"github.com/Seednode/happyangrysurprised/emotion"
	"github.com/Seednode/happyangrysurprised/session"
	"go.uber.org/zap"
)

// play is one game as seen by one client. All fields except completed are
// only touched from the watch delivery goroutine.
type play struct {
	id     string
	uid    string
	ctx    context.Context
	cancel context.CancelFunc

	last      session.State
	completed atomic.Bool
}

// deliver handles one record update. Each state's entry effect runs exactly
// once, in order, even when several states arrive in a single update.
func (c *Client) deliver(p *play, s *session.Session) {
	if p.ctx.Err() != nil {
		return
	}

	if s == nil {
		c.detach(p)

		if !p.completed.Load() {
			c.logger.Info("game abandoned", zap.String("game", p.id))
			c.cfg.UI.Abandoned(p.id)
		}

		return
	}

	c.cfg.UI.GameChanged(s)

	if s.State <= p.last {
		return
	}

	target := s.State
	for st := p.last + 1; st <= target; st++ {
		if p.ctx.Err() != nil {
			return
		}

		s = c.enter(p, st, s)
	}

	p.last = target
}

// enter runs the effect of reaching state st and returns the freshest record
// it knows of.
func (c *Client) enter(p *play, st session.State, s *session.Session) *session.Session {
	role := RoleOf(s, p.uid)

	switch st {
	case session.Joined:
		if role == Creator {
			return c.startRound(p, s)
		}
	case session.TakePicture:
		if role != Neither {
			return c.takePicture(p, s)
		}
	case session.UploadedPicture:
		if role != Neither {
			return c.detect(p, s)
		}
	case session.FaceDetected:
		if role == Creator {
			return c.decide(p, s)
		}
	case session.Complete:
		c.finish(p, s, role)
	}

	return s
}

func (c *Client) startRound(p *play, s *session.Session) *session.Session {
	// Someone joined, so the game is no longer removed with this connection.
	c.conn.Cancel(p.id)

	// The countdown runs off the delivery goroutine so a deletion during it
	// is still seen.
	timer := time.AfterFunc(c.cfg.Countdown, func() {
		c.commit(p, s, "while starting round", func(d *session.Session) error {
			if d.State != session.Joined {
				return session.ErrAbort
			}
			return advance(d, session.TakePicture, p.uid)
		})
	})
	context.AfterFunc(p.ctx, func() {
		timer.Stop()
	})

	return s
}

func (c *Client) takePicture(p *play, s *session.Session) *session.Session {
	me := s.Player(p.uid)
	if me == nil || me.ImagePath != "" {
		return s
	}

	c.cfg.UI.TakePicture(p.id)

	raw, err := c.cfg.Camera.Capture(p.ctx, p.id)
	if err != nil {
		c.fail(p, fmt.Errorf("while taking photo: %w", err))
		return s
	}

	data, err := blob.Normalize(raw)
	if err != nil {
		c.fail(p, err)
		return s
	}

	obj, err := c.cfg.Blobs.Write(p.ctx, blob.Key(p.id, p.uid), data)
	if err != nil {
		c.fail(p, fmt.Errorf("while uploading photo: %w", err))
		return s
	}

	c.logger.Debug("photo uploaded",
		zap.String("game", p.id),
		zap.String("player", p.uid),
		zap.String("path", obj.Path))

	return c.commit(p, s, "while saving photo", func(d *session.Session) error {
		mine := d.Player(p.uid)
		if mine == nil {
			return session.ErrAbort
		}

		mine.ImagePath = obj.Path
		mine.DownloadURL = obj.DownloadURL

		if d.State == session.TakePicture && d.BothUploaded() {
			return advance(d, session.UploadedPicture, p.uid)
		}
		return nil
	})
}

func (c *Client) detect(p *play, s *session.Session) *session.Session {
	me := s.Player(p.uid)
	if me == nil || me.ImagePath == "" || me.Emotion != "" {
		return s
	}

	img := emotion.Image{}
	if strings.HasPrefix(me.ImagePath, "gs://") {
		img.URI = me.ImagePath
	} else {
		data, err := c.cfg.Blobs.Read(p.ctx, me.ImagePath)
		if err != nil {
			c.fail(p, fmt.Errorf("while loading photo: %w", err))
			return s
		}
		img.Content = data
	}

	label, err := c.cfg.Detector.Detect(p.ctx, img)
	if err != nil {
		c.fail(p, fmt.Errorf("while detecting emotion: %w", err))
		return s
	}

	c.logger.Debug("emotion detected",
		zap.String("game", p.id),
		zap.String("player", p.uid),
		zap.String("emotion", string(label)))

	return c.commit(p, s, "while saving emotion", func(d *session.Session) error {
		mine := d.Player(p.uid)
		if mine == nil {
			return session.ErrAbort
		}

		mine.Emotion = label

		if d.State == session.UploadedPicture && d.BothDetected() {
			return advance(d, session.FaceDetected, p.uid)
		}
		return nil
	})
}

func (c *Client) decide(p *play, s *session.Session) *session.Session {
	return c.commit(p, s, "while deciding winner", func(d *session.Session) error {
		if d.State != session.FaceDetected || !d.BothDetected() {
			return session.ErrAbort
		}

		outcome := Evaluate(d.Creator.Emotion, d.Joiner.Emotion)
		creatorWins, joinerWins := outcome.CreatorWins, outcome.JoinerWins
		d.Creator.Wins = &creatorWins
		d.Joiner.Wins = &joinerWins

		return advance(d, session.Complete, p.uid)
	})
}

func (c *Client) finish(p *play, s *session.Session, role Role) {
	if p.completed.Swap(true) {
		return
	}

	verdict := OutcomeOf(s).Verdict(role)

	c.logger.Info("game complete",
		zap.String("game", p.id),
		zap.String("player", p.uid),
		zap.Stringer("verdict", verdict))

	c.cfg.UI.Result(s, verdict)

	if role == Creator && c.cfg.OnComplete != nil {
		c.cfg.OnComplete(p.ctx, s)
	}

	c.detach(p)
}

// commit runs mutate in a transaction and returns the resulting record, or
// s if nothing could be read back.
func (c *Client) commit(p *play, s *session.Session, action string, mutate session.Mutator) *session.Session {
	_, final, err := c.cfg.Store.Transaction(p.ctx, p.id, mutate)
	if err != nil {
		c.fail(p, fmt.Errorf("%s: %w", action, err))
		return s
	}
	if final == nil {
		return s
	}
	return final
}

// fail reports err to the player unless the game is already over for them.
func (c *Client) fail(p *play, err error) {
	switch {
	case p.ctx.Err() != nil, errors.Is(err, context.Canceled):
		c.logger.Debug("game step interrupted", zap.String("game", p.id), zap.Error(err))
	case errors.Is(err, session.ErrNotFound):
		// The deletion arrives through the watch.
		c.logger.Debug("game vanished", zap.String("game", p.id), zap.Error(err))
	default:
		c.logger.Warn("game step failed", zap.String("game", p.id), zap.Error(err))
		c.cfg.UI.Notify(err)
	}
}

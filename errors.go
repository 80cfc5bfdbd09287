/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Seednode/happyangrysurprised/blob"
	"github.com/Seednode/happyangrysurprised/game"
	"github.com/Seednode/happyangrysurprised/session"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func newLogger(cfg *Config) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	zc.EncoderConfig.TimeKey = "time"
	zc.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(logDate)
	if cfg.verbose {
		zc.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("while building logger: %w", err)
	}

	return logger, nil
}

func logf(cfg *Config, format string, args ...any) {
	if !cfg.verbose {
		return
	}

	cfg.log().Sugar().Infof(format, args...)
}

// playerMessage turns a game error into text suitable for showing to a
// player.
func playerMessage(err error) string {
	switch {
	case errors.Is(err, game.ErrNotLoggedIn):
		return "Please choose a display name first."
	case errors.Is(err, game.ErrInGame):
		return "You are already in a game."
	case errors.Is(err, game.ErrNoGame):
		return "You are not in a game."
	case errors.Is(err, game.ErrMissingGameID):
		return "Please pick a game to join."
	case errors.Is(err, game.ErrOwnGame):
		return "You cannot join your own game."
	case errors.Is(err, game.ErrAlreadyJoined):
		return "Someone else joined that game first."
	case errors.Is(err, game.ErrJoinRejected), errors.Is(err, session.ErrNotFound):
		return "That game is no longer available."
	case errors.Is(err, errPhotoTimeout):
		return "No photo arrived in time."
	case errors.Is(err, blob.ErrPhotoTooLarge):
		return "That photo is too large."
	default:
		return "Something went wrong. Please try again."
	}
}

// isValidation reports whether err is a problem with what the player
// entered rather than with the game.
func isValidation(err error) bool {
	return errors.Is(err, game.ErrNotLoggedIn) || errors.Is(err, game.ErrMissingGameID)
}

func newPage(title, body string) string {
	var htmlBody strings.Builder

	htmlBody.WriteString(`<!DOCTYPE html><html lang="en"><head>`)
	htmlBody.WriteString(getFavicon(""))
	htmlBody.WriteString(`<style>`)
	htmlBody.WriteString(`html,body,a{display:block;height:100%;width:100%;text-decoration:none;color:inherit;cursor:auto;}</style>`)
	htmlBody.WriteString(fmt.Sprintf("<title>%s</title></head>", title))
	htmlBody.WriteString(fmt.Sprintf("<body><a href=\"/\">%s</a></body></html>", body))

	return htmlBody.String()
}

/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package game drives a two player session through its states.
package game

import (
	"errors"
	"fmt"

	"github.com/Seednode/happyangrysurprised/session"
)

var ErrForbiddenTransition = errors.New("transition not permitted")

type Role int

const (
	Neither Role = iota
	Creator
	Joiner
)

func (r Role) String() string {
	switch r {
	case Creator:
		return "creator"
	case Joiner:
		return "joiner"
	default:
		return "neither"
	}
}

// RoleOf reports which side of s the user uid plays.
func RoleOf(s *session.Session, uid string) Role {
	switch {
	case s == nil || uid == "":
		return Neither
	case s.Creator.UID == uid:
		return Creator
	case s.Joiner != nil && s.Joiner.UID == uid:
		return Joiner
	default:
		return Neither
	}
}

// Actor is who may perform a transition.
type Actor int

const (
	ByCreator Actor = iota
	ByJoiner
	ByEither
)

func (a Actor) permits(r Role) bool {
	switch a {
	case ByCreator:
		return r == Creator
	case ByJoiner:
		return r == Joiner
	case ByEither:
		return r == Creator || r == Joiner
	}
	return false
}

type Transition struct {
	From  session.State
	To    session.State
	Actor Actor
}

// Transitions lists every state change a client may write. A From of zero
// is the creation of the record.
var Transitions = []Transition{
	{From: 0, To: session.Open, Actor: ByCreator},
	{From: session.Open, To: session.Joined, Actor: ByJoiner},
	{From: session.Joined, To: session.TakePicture, Actor: ByCreator},
	{From: session.TakePicture, To: session.UploadedPicture, Actor: ByEither},
	{From: session.UploadedPicture, To: session.FaceDetected, Actor: ByEither},
	{From: session.FaceDetected, To: session.Complete, Actor: ByCreator},
}

func CanTransition(from, to session.State, role Role) bool {
	for _, t := range Transitions {
		if t.From == from && t.To == to {
			return t.Actor.permits(role)
		}
	}
	return false
}

// advance moves s to the state to on behalf of uid. The role is taken from
// s itself, so a joiner must already be recorded on s when it joins.
func advance(s *session.Session, to session.State, uid string) error {
	role := RoleOf(s, uid)
	if !CanTransition(s.State, to, role) {
		return fmt.Errorf("%w: %s to %s by %s", ErrForbiddenTransition, s.State, to, role)
	}
	s.State = to
	return nil
}

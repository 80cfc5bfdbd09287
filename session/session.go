/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package session holds the shared game record and the realtime stores that
// fan changes to it out to every watching player.
package session

import (
	"encoding/json"
	"time"
)

type State int

const (
	Open State = iota + 1
	Joined
	TakePicture
	UploadedPicture
	FaceDetected
	Complete
)

var stateNames = map[State]string{
	Open:            "open",
	Joined:          "joined",
	TakePicture:     "take_picture",
	UploadedPicture: "uploaded_picture",
	FaceDetected:    "face_detected",
	Complete:        "complete",
}

var stateFromName = map[string]State{
	"open":             Open,
	"joined":           Joined,
	"take_picture":     TakePicture,
	"uploaded_picture": UploadedPicture,
	"face_detected":    FaceDetected,
	"complete":         Complete,
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

func (s State) Valid() bool {
	_, ok := stateNames[s]
	return ok
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *State) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	if v, ok := stateFromName[name]; ok {
		*s = v
	}
	return nil
}

// Emotion is the label assigned to a player's photo. The zero value means
// detection has not finished yet.
type Emotion string

const (
	Happy     Emotion = "happy"
	Angry     Emotion = "angry"
	Surprised Emotion = "surprised"
	Unknown   Emotion = "unknown"
)

type Player struct {
	UID         string  `json:"uid" firestore:"uid"`
	DisplayName string  `json:"displayName" firestore:"displayName"`
	ImagePath   string  `json:"gcsPath,omitempty" firestore:"gcsPath,omitempty"`
	DownloadURL string  `json:"downloadURL,omitempty" firestore:"downloadURL,omitempty"`
	Emotion     Emotion `json:"emotion,omitempty" firestore:"emotion,omitempty"`
	Wins        *bool   `json:"wins,omitempty" firestore:"wins,omitempty"`
}

func (p Player) clone() Player {
	if p.Wins != nil {
		w := *p.Wins
		p.Wins = &w
	}
	return p
}

type Session struct {
	ID        string    `json:"id" firestore:"-"`
	State     State     `json:"state" firestore:"state"`
	Creator   Player    `json:"creator" firestore:"creator"`
	Joiner    *Player   `json:"joiner,omitempty" firestore:"joiner,omitempty"`
	CreatedAt time.Time `json:"createdAt" firestore:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" firestore:"updatedAt"`
}

// Clone returns a deep copy of the Session, duplicating pointer fields so the
// copy can be mutated independently of the original.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Creator = s.Creator.clone()
	if s.Joiner != nil {
		j := s.Joiner.clone()
		c.Joiner = &j
	}
	return &c
}

// Player returns the sub-record owned by uid, or nil if uid plays neither side.
func (s *Session) Player(uid string) *Player {
	switch {
	case s.Creator.UID == uid:
		return &s.Creator
	case s.Joiner != nil && s.Joiner.UID == uid:
		return s.Joiner
	}
	return nil
}

func (s *Session) BothUploaded() bool {
	return s.Creator.ImagePath != "" && s.Joiner != nil && s.Joiner.ImagePath != ""
}

func (s *Session) BothDetected() bool {
	return s.Creator.Emotion != "" && s.Joiner != nil && s.Joiner.Emotion != ""
}

// PlayerPatch lists the fields a player may write on its own sub-record.
type PlayerPatch struct {
	ImagePath   *string
	DownloadURL *string
	Emotion     *Emotion
	Wins        *bool
}

func (p *PlayerPatch) apply(dst *Player) {
	if p.ImagePath != nil {
		dst.ImagePath = *p.ImagePath
	}
	if p.DownloadURL != nil {
		dst.DownloadURL = *p.DownloadURL
	}
	if p.Emotion != nil {
		dst.Emotion = *p.Emotion
	}
	if p.Wins != nil {
		w := *p.Wins
		dst.Wins = &w
	}
}

// Patch is a partial record merged by Store.Update.
type Patch struct {
	State   *State
	Creator *PlayerPatch
	Joiner  *PlayerPatch
}

// Apply merges p into s. Joiner fields are dropped when s has no joiner.
func (p Patch) Apply(s *Session) error {
	if p.State != nil {
		if *p.State < s.State {
			return ErrStateRegression
		}
		s.State = *p.State
	}
	if p.Creator != nil {
		p.Creator.apply(&s.Creator)
	}
	if p.Joiner != nil && s.Joiner != nil {
		p.Joiner.apply(s.Joiner)
	}
	return nil
}

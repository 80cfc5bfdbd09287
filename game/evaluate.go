/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package game

import "github.com/Seednode/happyangrysurprised/session"

// Outcome is the result of a finished game. Both flags are false on a draw.
type Outcome struct {
	CreatorWins bool
	JoinerWins  bool
}

// beats maps each emotion to the one it defeats.
var beats = map[session.Emotion]session.Emotion{
	session.Happy:     session.Angry,
	session.Surprised: session.Happy,
	session.Angry:     session.Surprised,
}

func normalize(e session.Emotion) session.Emotion {
	if _, ok := beats[e]; ok {
		return e
	}
	return session.Unknown
}

// Evaluate decides a game from the two detected emotions. A recognised
// emotion always beats Unknown.
func Evaluate(creator, joiner session.Emotion) Outcome {
	c, j := normalize(creator), normalize(joiner)

	switch {
	case c == j:
		return Outcome{}
	case j == session.Unknown, beats[c] == j:
		return Outcome{CreatorWins: true}
	default:
		return Outcome{JoinerWins: true}
	}
}

type Verdict int

const (
	Draw Verdict = iota
	Won
	Lost
)

var verdictNames = map[Verdict]string{
	Draw: "draw",
	Won:  "won",
	Lost: "lost",
}

func (v Verdict) String() string {
	return verdictNames[v]
}

func (v Verdict) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// Verdict reports the outcome from the point of view of one player.
// Spectators always see a draw.
func (o Outcome) Verdict(role Role) Verdict {
	var mine, theirs bool
	switch role {
	case Creator:
		mine, theirs = o.CreatorWins, o.JoinerWins
	case Joiner:
		mine, theirs = o.JoinerWins, o.CreatorWins
	}

	switch {
	case mine:
		return Won
	case theirs:
		return Lost
	default:
		return Draw
	}
}

// OutcomeOf reads the stored wins flags of a completed session.
func OutcomeOf(s *session.Session) Outcome {
	o := Outcome{}
	if s.Creator.Wins != nil {
		o.CreatorWins = *s.Creator.Wins
	}
	if s.Joiner != nil && s.Joiner.Wins != nil {
		o.JoinerWins = *s.Joiner.Wins
	}
	return o
}

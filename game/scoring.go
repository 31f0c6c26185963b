/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package game

import "fmt"

// Scoring holds the point values awarded during and at the end of a game.
type Scoring struct {
	MatchPoints   int // per matched pair, awarded immediately
	TimeAllowance int // seconds; the time bonus is what is left of it
	MovePoints    int // per card the player did not need a move for
}

// DefaultScoring returns the standard point values.
func DefaultScoring() Scoring {
	return Scoring{
		MatchPoints:   100,
		TimeAllowance: 300,
		MovePoints:    10,
	}
}

// Bonus computes the end-of-game time and move bonuses.
func (p Scoring) Bonus(elapsed, totalCards, moves int) (timeBonus, moveBonus int) {
	timeBonus = max(0, p.TimeAllowance-elapsed)
	moveBonus = max(0, (totalCards-moves)*p.MovePoints)

	return timeBonus, moveBonus
}

// Result is the final snapshot emitted when a game completes.
type Result struct {
	Score     int
	Moves     int
	Elapsed   int
	TimeBonus int
	MoveBonus int
}

// FormatElapsed renders whole seconds as mm:ss.
func FormatElapsed(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}

	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

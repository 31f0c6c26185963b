/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package game

import "errors"

var (
	// ErrInsufficientImages is returned when a pool or card list cannot form
	// at least two pairs.
	ErrInsufficientImages = errors.New("insufficient images")

	// ErrUnpairedCard is returned by Start when a pairing key does not appear
	// on exactly two cards.
	ErrUnpairedCard = errors.New("unpaired card")

	// ErrInvalidFlipTarget is returned when a flip targets a card that cannot
	// be turned over right now.
	ErrInvalidFlipTarget = errors.New("invalid flip target")

	// ErrOutOfState is returned for operations the current state does not accept.
	ErrOutOfState = errors.New("operation out of state")
)

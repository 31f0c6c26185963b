/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package game implements the memory game engine: building shuffled card
// pairs from an image pool, and a single-threaded session that evaluates
// flips, keeps score and detects completion.
package game

import (
	"fmt"
	"math/rand/v2"
	"strconv"
)

// DefaultMaxPairs fills a 4x4 grid.
const DefaultMaxPairs = 8

// Source tells where a pool item came from.
type Source int

const (
	SourceSystem Source = iota
	SourceUser
)

func (s Source) String() string {
	switch s {
	case SourceSystem:
		return "system"
	case SourceUser:
		return "user"
	default:
		return "unknown"
	}
}

// Card is a single card on the board. Cards match when their Keys are equal;
// the Image is an opaque reference and is never compared.
type Card struct {
	ID      int
	Image   string
	Key     string
	Matched bool
}

// Item is one entry of an image pool: either a single image that is
// duplicated into two cards, or two related images that form a pair.
type Item struct {
	Key    string
	Images []string
	Source Source
}

// Single returns a duplicate-mode item.
func Single(image string, src Source) Item {
	return Item{Images: []string{image}, Source: src}
}

// Pair returns a related-pair item whose two images share key.
func Pair(key, first, second string, src Source) Item {
	return Item{Key: key, Images: []string{first, second}, Source: src}
}

// Pool is the ordered collection of images available to the builder.
type Pool struct {
	User   []Item
	System []Item
}

// Items returns user uploads first, followed by the system catalog.
func (p Pool) Items() []Item {
	items := make([]Item, 0, len(p.User)+len(p.System))
	items = append(items, p.User...)
	items = append(items, p.System...)

	return items
}

// Len returns the number of items in the pool, usable or not.
func (p Pool) Len() int {
	return len(p.User) + len(p.System)
}

// Builder turns a pool into a shuffled list of cards.
type Builder struct {
	// MaxPairs caps the number of pairs taken from the pool; zero means
	// DefaultMaxPairs.
	MaxPairs int

	// Rand drives the shuffle; nil uses the global source.
	Rand *rand.Rand
}

// BuildCards builds cards with the default builder.
func BuildCards(pool Pool) ([]Card, error) {
	var b Builder

	return b.Build(pool)
}

// Build returns a shuffled card list in which every key appears exactly twice.
// Items with empty or already used images or keys are skipped. If fewer than
// two items are usable, ErrInsufficientImages is returned.
func (b *Builder) Build(pool Pool) ([]Card, error) {
	maxPairs := b.MaxPairs
	if maxPairs <= 0 {
		maxPairs = DefaultMaxPairs
	}

	seenImages := make(map[string]bool)
	seenKeys := make(map[string]bool)

	cards := make([]Card, 0, maxPairs*2)
	pairs := 0

	for i, item := range pool.Items() {
		if pairs == maxPairs {
			break
		}

		first, second, ok := item.faces()
		if !ok || seenImages[first] || seenImages[second] {
			continue
		}

		key := item.Key
		if key == "" {
			key = item.Source.String() + "-" + strconv.Itoa(i)
		}
		if seenKeys[key] {
			continue
		}

		seenImages[first] = true
		seenImages[second] = true
		seenKeys[key] = true

		cards = append(cards,
			Card{ID: len(cards), Image: first, Key: key},
			Card{ID: len(cards) + 1, Image: second, Key: key},
		)
		pairs++
	}

	if pairs < 2 {
		return nil, fmt.Errorf("%w: %d usable of %d needed", ErrInsufficientImages, pairs, 2)
	}

	b.shuffle(cards)

	return cards, nil
}

// faces returns the two images shown by an item's cards.
func (it Item) faces() (string, string, bool) {
	switch len(it.Images) {
	case 1:
		if it.Images[0] == "" {
			return "", "", false
		}
		return it.Images[0], it.Images[0], true
	case 2:
		if it.Images[0] == "" || it.Images[1] == "" {
			return "", "", false
		}
		return it.Images[0], it.Images[1], true
	default:
		return "", "", false
	}
}

func (b *Builder) shuffle(cards []Card) {
	swap := func(i, j int) {
		cards[i], cards[j] = cards[j], cards[i]
	}

	if b.Rand != nil {
		b.Rand.Shuffle(len(cards), swap)

		return
	}

	rand.Shuffle(len(cards), swap)
}

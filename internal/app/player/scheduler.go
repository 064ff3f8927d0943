package player

import (
	"math/rand"
	"strings"

	"github.com/cockroachdb/errors"
)

// RepeatMode governs what the scheduler selects after a track ends naturally.
type RepeatMode int

const (
	RepeatNone RepeatMode = iota // Stop at the end of the queue
	RepeatAll                    // Wrap around to the start
	RepeatOne                    // Replay the current item
)

// String returns the string representation of the mode.
func (m RepeatMode) String() string {
	switch m {
	case RepeatNone:
		return "none"
	case RepeatAll:
		return "all"
	case RepeatOne:
		return "one"
	default:
		return "unknown"
	}
}

// ParseRepeatMode parses a repeat mode name.
func ParseRepeatMode(s string) (RepeatMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "off", "":
		return RepeatNone, nil
	case "all":
		return RepeatAll, nil
	case "one":
		return RepeatOne, nil
	default:
		return RepeatNone, errors.Newf("unknown repeat mode %q", s)
	}
}

// shuffler holds the shuffle order: a uniform permutation of the queue IDs
// captured when shuffle was enabled, plus a cursor into it.
type shuffler struct {
	order  []int64
	cursor int // index of the current item, -1 if unset
}

// newShuffler permutes ids (Fisher-Yates) and positions the cursor at
// currentID if present, else -1.
func newShuffler(ids []int64, currentID int64) *shuffler {
	order := make([]int64, len(ids))
	copy(order, ids)
	rand.Shuffle(len(order), func(i, j int) {
		order[i], order[j] = order[j], order[i]
	})

	s := &shuffler{order: order, cursor: -1}
	for i, id := range order {
		if id == currentID {
			s.cursor = i
			break
		}
	}
	return s
}

// advance moves the cursor forward and returns the ID there. On overflow it
// wraps under RepeatAll, otherwise reports queue exhausted.
func (s *shuffler) advance(repeat RepeatMode) (int64, bool) {
	if len(s.order) == 0 {
		return 0, false
	}

	next := s.cursor + 1
	if next >= len(s.order) {
		if repeat != RepeatAll {
			return 0, false
		}
		next = 0
	}
	s.cursor = next
	return s.order[next], true
}

// retreat moves the cursor backward, wrapping only under RepeatAll.
func (s *shuffler) retreat(repeat RepeatMode) (int64, bool) {
	if len(s.order) == 0 {
		return 0, false
	}

	prev := s.cursor - 1
	if prev < 0 {
		if repeat != RepeatAll {
			return 0, false
		}
		prev = len(s.order) - 1
	}
	s.cursor = prev
	return s.order[prev], true
}

// seek positions the cursor at the given ID if present.
func (s *shuffler) seek(id int64) {
	for i, v := range s.order {
		if v == id {
			s.cursor = i
			return
		}
	}
}

// remove deletes an ID from the order in place. The cursor shifts down by
// one when the removed position was at or before it, so no entry is skipped
// or repeated on the next advance.
func (s *shuffler) remove(id int64) {
	for i, v := range s.order {
		if v != id {
			continue
		}
		s.order = append(s.order[:i], s.order[i+1:]...)
		if i <= s.cursor {
			s.cursor--
		}
		return
	}
}

// add appends a newly enqueued ID to the end of the order.
func (s *shuffler) add(id int64) {
	s.order = append(s.order, id)
}

// upcoming returns up to limit IDs after the cursor, without wrapping.
func (s *shuffler) upcoming(limit int) []int64 {
	start := s.cursor + 1
	if start < 0 {
		start = 0
	}
	end := start + limit
	if end > len(s.order) {
		end = len(s.order)
	}
	if start >= end {
		return nil
	}
	out := make([]int64, end-start)
	copy(out, s.order[start:end])
	return out
}

// nextSequentialID returns the smallest ID strictly greater than afterID,
// wrapping to the smallest ID under RepeatAll.
func nextSequentialID(ids []int64, afterID int64, repeat RepeatMode) (int64, bool) {
	var best, smallest int64
	foundNext, foundAny := false, false

	for _, id := range ids {
		if !foundAny || id < smallest {
			smallest = id
			foundAny = true
		}
		if id > afterID && (!foundNext || id < best) {
			best = id
			foundNext = true
		}
	}

	if foundNext {
		return best, true
	}
	if repeat == RepeatAll && foundAny {
		return smallest, true
	}
	return 0, false
}

// prevSequentialID returns the largest ID strictly less than beforeID,
// wrapping to the largest ID under RepeatAll.
func prevSequentialID(ids []int64, beforeID int64, repeat RepeatMode) (int64, bool) {
	var best, largest int64
	foundPrev, foundAny := false, false

	for _, id := range ids {
		if !foundAny || id > largest {
			largest = id
			foundAny = true
		}
		if id < beforeID && (!foundPrev || id > best) {
			best = id
			foundPrev = true
		}
	}

	if foundPrev {
		return best, true
	}
	if repeat == RepeatAll && foundAny {
		return largest, true
	}
	return 0, false
}

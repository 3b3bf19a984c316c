// Package ordering assigns and renumbers positions of items in an ordered
// container (a board's lists or a list's cards). It is pure logic: callers
// read the current sequence from storage, run it through the engine, and
// persist the result atomically.
package ordering

import "boardsync/domain"

// Element is any item carrying an identity and a settable position.
type Element interface {
	EntityID() string
	SetPosition(domain.Position)
}

// Reorder removes item from seq if present, inserts it at index, and
// renumbers every element to its integer index in the resulting order.
// Out-of-range indices saturate to the nearest valid bound.
func Reorder[E Element](seq []E, item E, index int) []E {
	out := remove(seq, item.EntityID())
	index = clamp(index, len(out))
	out = append(out, item)
	copy(out[index+1:], out[index:])
	out[index] = item
	Resequence(out)
	return out
}

// MoveAcross removes item from src, renumbers the remainder, inserts item
// into dst at index, and renumbers dst. Both returned sequences must be
// persisted together with the item's container reassignment as one atomic
// unit.
func MoveAcross[E Element](src, dst []E, item E, index int) (newSrc, newDst []E) {
	newSrc = remove(src, item.EntityID())
	Resequence(newSrc)
	newDst = Reorder(dst, item, index)
	return newSrc, newDst
}

// Append assigns item the position after the current tail of seq. A fresh
// container yields position 0.
func Append[E Element](seq []E, item E) {
	item.SetPosition(domain.Position(len(seq)))
}

// Resequence renumbers seq in place to the contiguous positions 0..n-1.
func Resequence[E Element](seq []E) {
	for i, e := range seq {
		e.SetPosition(domain.Position(i))
	}
}

func remove[E Element](seq []E, id string) []E {
	out := make([]E, 0, len(seq)+1)
	for _, e := range seq {
		if e.EntityID() != id {
			out = append(out, e)
		}
	}
	return out
}

func clamp(index, max int) int {
	if index < 0 {
		return 0
	}
	if index > max {
		return max
	}
	return index
}

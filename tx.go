package match

import (
	"fmt"

	"github.com/0x5487/manifest-engine/structure"
)

// txParticipant is an account that can take part in an all-or-nothing
// instruction. begin may nest; only the outermost commit or rollback acts.
type txParticipant interface {
	begin()
	commit()
	rollback()
}

// runAtomic applies fn to every participant as a single transaction. On error
// every participant is restored to its state before begin. A corrupted arena
// link surfaces as an error wrapping ErrInvalidIndex.
func runAtomic(parts []txParticipant, fn func() error) (err error) {
	for _, p := range parts {
		p.begin()
	}
	defer func() {
		if r := recover(); r != nil {
			ce, ok := r.(*structure.CorruptionError)
			if !ok {
				for _, p := range parts {
					p.rollback()
				}
				panic(r)
			}
			err = fmt.Errorf("%w", ce)
		}
		if err != nil {
			for _, p := range parts {
				p.rollback()
			}
			return
		}
		for _, p := range parts {
			p.commit()
		}
	}()
	return fn()
}

// txState tracks nesting for one account.
type txState struct {
	depth int
}

// enter reports whether this is the outermost begin.
func (s *txState) enter() bool {
	s.depth++
	return s.depth == 1
}

// leave reports whether this is the outermost commit.
func (s *txState) leave() bool {
	if s.depth == 0 {
		return false
	}
	s.depth--
	return s.depth == 0
}

// abort reports whether a transaction was open and resets nesting.
func (s *txState) abort() bool {
	if s.depth == 0 {
		return false
	}
	s.depth = 0
	return true
}

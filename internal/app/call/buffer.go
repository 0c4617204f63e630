package call

import "github.com/dkeye/tribecall/internal/protocol"

// CandidateBuffer holds remote candidates that arrive before the remote
// description. It is drained once, in arrival order, and never refilled.
// Owned by the machine loop; not safe for concurrent use.
type CandidateBuffer struct {
	items  []protocol.Candidate
	sealed bool
}

func NewCandidateBuffer() *CandidateBuffer { return &CandidateBuffer{} }

// Push appends c and reports true, or reports false once the buffer is
// sealed and the candidate should be applied directly.
func (b *CandidateBuffer) Push(c protocol.Candidate) bool {
	if b.sealed {
		return false
	}
	b.items = append(b.items, c)
	return true
}

func (b *CandidateBuffer) Len() int     { return len(b.items) }
func (b *CandidateBuffer) Sealed() bool { return b.sealed }

// Drain seals the buffer and applies every held candidate in order. A failed
// candidate does not stop the ones after it.
func (b *CandidateBuffer) Drain(apply func(protocol.Candidate) error) (applied int, failed []error) {
	items := b.items
	b.items = nil
	b.sealed = true
	for _, c := range items {
		if err := apply(c); err != nil {
			failed = append(failed, err)
			continue
		}
		applied++
	}
	return applied, failed
}

// Discard drops held candidates and seals the buffer.
func (b *CandidateBuffer) Discard() {
	b.items = nil
	b.sealed = true
}

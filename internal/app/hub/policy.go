package hub

import "github.com/dkeye/tribecall/internal/domain"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	Disconnect
)

// Policy decides what happens to a receiver whose send buffer is full.
// strikes counts consecutive full-buffer sends, including this one.
type Policy interface {
	OnBackpressure(to domain.Identity, strikes int) BackpressureAction
}

// StrikePolicy drops frames for a slow receiver and disconnects it after
// MaxStrikes consecutive drops. MaxStrikes <= 0 disconnects at once.
type StrikePolicy struct {
	MaxStrikes int
}

func (p StrikePolicy) OnBackpressure(_ domain.Identity, strikes int) BackpressureAction {
	if strikes >= p.MaxStrikes {
		return Disconnect
	}
	return DropFrame
}

package domain

import "errors"

// Call failure taxonomy. Adapters wrap these with fmt.Errorf so callers can
// classify with errors.Is.
var (
	ErrMediaAccessDenied        = errors.New("media access denied")
	ErrNegotiationFailed        = errors.New("negotiation failed")
	ErrTransportFailed          = errors.New("transport failed")
	ErrStaleMessage             = errors.New("stale message")
	ErrCandidateApply           = errors.New("candidate apply failed")
	ErrInvalidState             = errors.New("operation not valid in current call state")
	ErrBusy                     = errors.New("a call is already in progress")
	ErrDevicesBusy              = errors.New("capture devices held by another call")
	ErrAcquireCancelled         = errors.New("media acquisition cancelled")
	ErrCallCancelled            = errors.New("call cancelled")
	ErrScreenShareUnavailable   = errors.New("screen share unavailable")
	ErrScreenShareRequiresVideo = errors.New("screen share requires an audio_video call")
	ErrScreenShareInactive      = errors.New("screen share not active")
	ErrNoVideo                  = errors.New("call has no video")
	ErrSelfCall                 = errors.New("cannot call yourself")
	ErrInvalidMediaKind         = errors.New("invalid media kind")
)

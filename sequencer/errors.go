package sequencer

import "errors"

var (
	ErrInvalidTempo  = errors.New("tempo must be a positive number")
	ErrUnknownTuning = errors.New("unknown tuning")
	ErrUnknownSave   = errors.New("unknown save")
	ErrNotSignedIn   = errors.New("not signed in")
)

package jobs

import "errors"

var (
	ErrInvalidStoryboard  = errors.New("storyboard has no panels")
	ErrJobAlreadyTerminal = errors.New("job already finished")
	// ErrJobStore marks a persistence failure while advancing. The job keeps its
	// saved progress and stays processing so a redelivery can finish it.
	ErrJobStore = errors.New("job store failure")
)

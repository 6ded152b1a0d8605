package relay

import (
	"errors"
	"fmt"
)

var (
	// ErrResolution is returned when the ID lister is unavailable, fails, or
	// prints something that is not a playlist listing.
	ErrResolution = errors.New("playlist resolution failed")

	// ErrEmptyPlaylist is a resolution that succeeded but listed no items.
	// It is treated like any other resolution failure so a known list is kept.
	ErrEmptyPlaylist = fmt.Errorf("%w: no entries", ErrResolution)

	// ErrLaunch is returned when the extraction pipeline cannot be started.
	ErrLaunch = errors.New("pipeline launch failed")

	// ErrStreamRead is returned for I/O failures while draining a pipeline.
	ErrStreamRead = errors.New("pipeline read failed")

	// ErrPipelineExit is returned when a pipeline member exits abnormally.
	ErrPipelineExit = errors.New("pipeline exited abnormally")

	// ErrPersistence is returned when the playlist cache cannot be written.
	ErrPersistence = errors.New("playlist cache write failed")

	// ErrBufferClosed is returned by stream buffers after Close.
	ErrBufferClosed = errors.New("stream buffer closed")

	// ErrSlowListener is returned to a subscriber that was dropped because
	// it held back the producer for too long.
	ErrSlowListener = errors.New("listener fell too far behind")
)

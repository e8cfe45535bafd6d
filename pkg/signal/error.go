package signal

import (
	"github.com/pkg/errors"
)

// ErrEmptyTrackers is returned by a join when no tracker URL remains after
// trimming the configured or default list.
var ErrEmptyTrackers = errors.New("no tracker URLs to announce to")

// ErrAlreadyJoined is returned when the namespace is already occupied by a
// live join in this process.
var ErrAlreadyJoined = errors.New("namespace already joined")

package core

import (
	"errors"
)

// Structural errors. Fatal to the skeleton or animation being built.
var (
	ErrEmptyName         = errors.New("name must not be empty")
	ErrDuplicateBone     = errors.New("duplicate bone")
	ErrDuplicateChild    = errors.New("duplicate child id")
	ErrCyclicHierarchy   = errors.New("cyclic bone hierarchy")
	ErrDanglingReference = errors.New("dangling bone reference")
	ErrSkeletonFrozen    = errors.New("skeleton is frozen")
	ErrSkeletonNotFrozen = errors.New("skeleton is not frozen")
	ErrKeyframeOrder     = errors.New("keyframe times must not decrease")
	ErrNegativeTime      = errors.New("keyframe time must not be negative")
	ErrNegativeDuration  = errors.New("duration must not be negative")
	ErrDurationTooShort  = errors.New("duration is shorter than the last keyframe")
)

// Lookup and sampling errors.
var (
	ErrOutOfRange      = errors.New("id out of range")
	ErrInvalidTrack    = errors.New("invalid track")
	ErrUnknownInstance = errors.New("unknown animation instance")
	ErrUnknownAsset    = errors.New("unknown asset")
	ErrUnknown         = errors.New("unknown")
)

package models

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidObservation  = errors.New("invalid observation")
	ErrInsufficientData    = errors.New("insufficient data")
	ErrInsufficientMarkets = errors.New("insufficient markets")
	ErrModelUnavailable    = errors.New("model unavailable")
	ErrHorizonTooLong      = errors.New("horizon too long")
	ErrInvalidHorizon      = errors.New("invalid horizon")
	ErrComputationTimeout  = errors.New("computation timeout")
)

// InvalidObservationError reports the observations rejected from a batch.
// Valid records of the same batch are still ingested.
type InvalidObservationError struct {
	Rejected   int
	Rejections []Rejection
}

func (e *InvalidObservationError) Error() string {
	return fmt.Sprintf("%d observation(s) rejected: %v", e.Rejected, ErrInvalidObservation)
}

func (e *InvalidObservationError) Unwrap() error { return ErrInvalidObservation }

// InsufficientDataError carries how much history was available.
type InsufficientDataError struct {
	Key  SeriesKey
	Have int
	Need int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("%v for %s: have %d, need %d", ErrInsufficientData, e.Key, e.Have, e.Need)
}

func (e *InsufficientDataError) Unwrap() error { return ErrInsufficientData }

// InsufficientMarketsError carries the market count versus the cluster count requested.
type InsufficientMarketsError struct {
	Have int
	Need int
}

func (e *InsufficientMarketsError) Error() string {
	return fmt.Sprintf("%v: have %d, need %d", ErrInsufficientMarkets, e.Have, e.Need)
}

func (e *InsufficientMarketsError) Unwrap() error { return ErrInsufficientMarkets }

// TimeoutError wraps a context error raised by a bounded computation.
type TimeoutError struct {
	Op  string
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, ErrComputationTimeout, e.Err)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrComputationTimeout }

func (e *TimeoutError) Unwrap() error { return e.Err }

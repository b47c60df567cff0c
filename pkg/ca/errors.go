package ca

import "errors"

var (
	// ErrTrustAnchor is returned when a root CA cannot be generated or
	// signed. The proxy cannot start without one.
	ErrTrustAnchor = errors.New("root CA unavailable")

	// ErrCorruptMaterial is returned when persisted material exists but
	// cannot be decoded and the corrupt policy is CorruptFail.
	ErrCorruptMaterial = errors.New("persisted root CA material is corrupt")
)

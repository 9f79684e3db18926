// Package errs defines the typed error kinds the peer engine raises, and
// their propagation policy (spec §7): protocol violations and unsupported
// messages disconnect the offending peer only, while write/read failures
// during piece completion put the whole torrent into an error state.
package errs

import "github.com/pkg/errors"

// ProtocolViolation means the peer broke the wire protocol contract —
// malformed messages, out-of-bounds requests, unnegotiated extensions.
// Policy: disconnect the peer, leave the torrent alone.
type ProtocolViolation struct {
	Reason string
}

func (e *ProtocolViolation) Error() string { return "protocol violation: " + e.Reason }

func NewProtocolViolation(reason string) error {
	return &ProtocolViolation{Reason: reason}
}

// UnsupportedMessage means the dispatcher saw a message kind it does not
// recognize. Policy: disconnect the peer.
type UnsupportedMessage struct {
	Kind string
}

func (e *UnsupportedMessage) Error() string { return "unsupported message: " + e.Kind }

// UnknownInfoHash means a handshake named an infohash this engine doesn't
// track. Policy: disconnect the peer.
type UnknownInfoHash struct {
	Hash string
}

func (e *UnknownInfoHash) Error() string { return "unknown infohash: " + e.Hash }

// WriteFailure means the disk writer failed inside the piece-completion
// pipeline. Policy: the torrent moves to the Error mode state.
type WriteFailure struct {
	Cause error
}

func (e *WriteFailure) Error() string { return "write failure: " + e.Cause.Error() }
func (e *WriteFailure) Unwrap() error { return e.Cause }

// ReadFailure means the disk layer could not produce a piece hash after a
// piece finished writing. Policy: the torrent moves to the Error mode state.
type ReadFailure struct {
	Cause error
}

func (e *ReadFailure) Error() string { return "read failure: " + e.Cause.Error() }
func (e *ReadFailure) Unwrap() error { return e.Cause }

// Wrap adds context to err in the teacher's idiom, without changing its
// type for errors.As purposes.
func Wrap(err error, msg string) error {
	return errors.Wrap(err, msg)
}

func Wrapf(err error, format string, args ...any) error {
	return errors.Wrapf(err, format, args...)
}

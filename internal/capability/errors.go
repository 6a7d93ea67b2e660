// Package capability provides the registry of agent capabilities and
// the dispatcher that executes parsed calls against it.
//
// This file defines the sentinel errors of the dispatch taxonomy. All
// of them are recoverable at the session level: the dispatcher folds
// them into an error Result that is reported back to the model, never
// raised to the round loop.
package capability

import "errors"

// ErrDuplicateCapability is returned by Register when the name is
// already taken. Registration happens once at startup, so hitting this
// is a programming error.
var ErrDuplicateCapability = errors.New("capability already registered")

// ErrUnknownCapability is returned by Lookup for an unregistered name.
var ErrUnknownCapability = errors.New("unknown capability")

// ErrInvalidArguments wraps schema validation failures.
var ErrInvalidArguments = errors.New("invalid arguments")

// ErrPolicyViolation marks a safety policy rejection (sandbox escape,
// disallowed write extension, below-threshold launch match). Handlers
// wrap it so the dispatcher can label the result accordingly.
var ErrPolicyViolation = errors.New("safety policy violation")

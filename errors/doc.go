// Package errors provides standardized error handling for the simulation core.
//
// # Overview
//
// The errors package implements a three-class error classification system:
// Transient (temporary, retryable), Invalid (bad input or request, do not
// retry), and Fatal (unrecoverable, stop the operation that raised it).
//
// Classification lets callers decide between retrying, surfacing an error to
// the operator, and tearing a component down without matching error strings.
// It integrates with Go's standard error handling: errors.Is, errors.As and
// wrapping chains all work through ClassifiedError.
//
// # Quick Start
//
// Return sentinel errors for known conditions:
//
//	if _, ok := s.devices[name]; !ok {
//	    return errors.ErrUnknownDevice
//	}
//
// Wrap errors with component context:
//
//	if err := eng.Update(dt); err != nil {
//	    return errors.Wrap(err, "Device", "runCycle", "physics update")
//	}
//
// Check classification at a recovery boundary:
//
//	if errors.IsFatal(err) {
//	    return err // configuration is broken, no point continuing
//	}
package errors

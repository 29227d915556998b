// Package errors provides the error handling conventions used across the
// connectivity gateway.
//
// # Error Classification
//
// Every error falls into one of three classes that decide how the caller
// reacts:
//
//   - transient: broker unreachable, socket reset, journal unavailable.
//     Retried with bounded backoff by the client state machine.
//   - invalid: malformed signal, mapping failure, enforcement mismatch.
//     Scoped to the single message; reported back to the requester.
//   - fatal: invalid connection configuration, blocked hostname.
//     Surfaced immediately to the caller and never retried.
//
// # Wrapping
//
// Errors are wrapped with component context following the pattern
// "component.method: action failed: %w":
//
//	if err := session.Publish(ctx, msg); err != nil {
//	    return errors.WrapTransient(err, "amqpClient", "Publish", "publish to target")
//	}
//
// # Coded Errors
//
// User-visible failures are expressed as CodedError values carrying a stable
// string error code ("connectivity:connection.failed"), an HTTP-like status,
// a message, a description and an optional correlation id. Use the New*
// constructors and AsCoded to normalize arbitrary errors at the API boundary.
package errors

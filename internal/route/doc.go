// Package route maps a literal request line to a response policy.
//
// Matching is exact and case sensitive: the line must equal one of the
// table's entries byte for byte. Anything else falls through to the
// not-found route. A route may carry a delay that the handler sleeps
// before loading the body.
package route

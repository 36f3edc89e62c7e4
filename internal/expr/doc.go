// Package expr evaluates guard and condition expressions against an
// execution context.
//
// Expressions are parsed into a small tree and interpreted. They cannot call
// functions or reach anything outside the context map. Supported forms:
//
//	status == "approved"
//	steps.review.score >= 0.8 && !blocked
//	priority == "high" or (retries < 3 and not failed)
//
// Identifiers are dotted paths into nested maps; a missing path yields null.
package expr

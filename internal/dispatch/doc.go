// Package dispatch fans a confirmed mailing out to its recipients.
//
// Delivery is best-effort and strictly sequential: recipients are attempted
// in input order, one at a time, through a single session scoped to the whole
// run. A failed recipient is recorded and the run continues; only a failure
// to open the session aborts the run, before any recipient is attempted.
package dispatch

// Package flow implements the operator conversation: a per-chat finite state
// machine that collects a recipient list and a message body, asks for
// confirmation, and hands the result to the dispatcher.
//
// The machine itself (Machine.Step) is a pure function of the stored record
// and the inbound text. The engine around it owns the read-modify-write-flush
// cycle against the store and guarantees that events for one conversation are
// processed strictly sequentially.
package flow

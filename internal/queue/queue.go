// Package queue implements the execution backend (§6): an
// at-least-once job queue named "execution_queue" with acks_late
// semantics. A job stays visible to the rest of the system (i.e. is
// not durably removed) until Ack is called, so a worker crash between
// Consume and Ack leaves the job recoverable.
package queue

// Name is the execution backend's queue name per spec §6.
const Name = "execution_queue"

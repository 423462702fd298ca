// Package assistant drives a hosted assistant thread from a submitted user
// message to the final reply.
//
// A turn moves through the phases CREATED, SUBMITTED, POLLING and, whenever
// the backend asks for tool output, REQUIRES_ACTION before returning to
// POLLING. It ends in COMPLETED, FAILED or TIMED_OUT. Tool calls of one
// polling step are executed by a Dispatcher and submitted together.
package assistant

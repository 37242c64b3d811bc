// Package session coordinates streamed generation runs. The Manager sends
// the generation request, drives the SSE event stream through the reducer and
// owns the per-item lifecycle state machine
// (QUEUED -> GENERATING -> ABORTED | ERROR | COMPLETED).
//
// One session is active per thread item at a time: submitting again for the
// same item cancels the previous run. Once a caller holds the thread item
// returned by Submit, every subsequent failure is reported through the item's
// own status and error fields rather than through returned errors, so
// consumers observe exactly one consistent surface.
package session

// Package core provides the foundational domain types and interfaces used by
// ThreadStream. It defines the core abstractions for:
//
//   - ThreadItems (one conversational turn's accumulated state)
//   - StreamEvents (named events decoded from the generation stream, with a
//     closed set of typed payload variants)
//   - Pluggable collaborators for thread-item persistence and credit lookup
//
// The package intentionally keeps implementation concerns (transports, stream
// decoding, session orchestration) out of scope, exposing small interfaces to
// enable custom backends and extensions.
package core

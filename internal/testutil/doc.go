// Package testutil contains helper builders and utilities used across tests
// to reduce boilerplate when constructing SSE frames, stream payloads and
// thread items, and when simulating chunked transports. These helpers are
// intentionally minimal and avoid adding third-party dependencies. They are
// not intended for production usage.
package testutil

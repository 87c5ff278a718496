// Package domain holds the shared value types and error taxonomy of
// toolbus: server descriptors, workflow definitions, executor results,
// and the sentinel/wrapper errors every layer agrees on.
//
// The package has no dependencies on the runtime layers; it is safe to
// import from anywhere, including external executors.
package domain

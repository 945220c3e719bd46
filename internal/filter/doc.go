// Package filter defines the closed, ordered registry of story filters and
// sorts shared by the interface and the worker.
//
// Predicates and comparators never cross the worker link. Both sides build
// the registry from the same configuration, in the same order, and messages
// refer to entries by index. Index 0 of each list is the empty selection.
// Digest summarizes the registry so a worker can refuse to serve an
// interface whose registry differs from its own.
package filter

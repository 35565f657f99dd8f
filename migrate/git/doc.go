// Package git maintains the local bare mirror of the
// source repository.
//
// Mirror wraps a bare repository with the operations the
// migration pipeline needs: EnsureRepository creates it,
// FetchAsMirror pulls the remote through a fixed refmap,
// Commit probes reachability of a SHA, and
// ExpireContentCache invalidates local state after a
// failed fetch. All git invocations go through the exec
// package.
package git

// Package importer migrates a Bitbucket Server
// repository's pull requests into local change requests
// on a destination store. It syncs a git mirror,
// enumerates every pull request, restores branches the
// server has made unreachable, and re-creates each pull
// request with its discussion, isolating failures at
// the level of a single pull request or comment.
//
// The main entry point is Run, which accepts a Config
// struct with all collaborators and parameters for the
// migration. Only mirror transport failures abort the
// run; everything else is aggregated into a JSON error
// report persisted through the store.
package importer

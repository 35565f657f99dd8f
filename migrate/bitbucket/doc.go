// Package bitbucket is a read-mostly client for the
// Bitbucket Server REST API 1.0.
//
// It enumerates a repository's pull requests and their
// activity streams, decoding each payload into a small
// local model: PullRequest, and Activity as a closed
// tagged variant (merge event or comment). The only
// write operation is CreateBranch, used to make
// otherwise-unreachable commits fetchable.
//
// GET requests are retried with capped exponential
// backoff; list endpoints are walked page by page and
// eagerly materialized.
package bitbucket

package git

// Exported aliases for testing unexported helpers from
// the git_test package.

// RedactURLForTest exposes redactURL.
var RedactURLForTest = redactURL

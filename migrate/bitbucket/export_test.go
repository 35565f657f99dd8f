package bitbucket

// Exported aliases for testing unexported wire types
// and conversions from the bitbucket_test package.

// WireActivity is an alias for wireActivity.
type WireActivity = wireActivity

// WireComment is an alias for wireComment.
type WireComment = wireComment

// WireAnchor is an alias for wireAnchor.
type WireAnchor = wireAnchor

// WireUser is an alias for wireUser.
type WireUser = wireUser

// ToActivityForTest exposes toActivity.
var ToActivityForTest = toActivity

// ToAnchorForTest exposes toAnchor.
var ToAnchorForTest = toAnchor

// EpochMillisForTest exposes epochMillis.
var EpochMillisForTest = epochMillis

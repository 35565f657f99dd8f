package gitlab

// Exported aliases for testing unexported helpers from
// the gitlab_test package.

// PositionOptionsForTest exposes positionOptions.
var PositionOptionsForTest = positionOptions

// MigrationLabelForTest exposes migrationLabel.
var MigrationLabelForTest = migrationLabel

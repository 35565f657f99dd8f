package importer

// Exported aliases for testing internal types and
// functions from the importer_test package.

// BranchSpec is an alias for branchSpec.
type BranchSpec = branchSpec

// BatchesForTest exposes batches.
var BatchesForTest = batches

// TempBranchesForTest exposes tempBranches.
var TempBranchesForTest = tempBranches

// TempBranchNameForTest exposes tempBranchName.
var TempBranchNameForTest = tempBranchName

// BuildPositionForTest exposes buildPosition.
var BuildPositionForTest = buildPosition

// TranslateStateForTest exposes translateState.
var TranslateStateForTest = translateState

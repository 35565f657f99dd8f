package importer

import (
	"context"
	"errors"
	"log/slog"

	json "github.com/goccy/go-json"

	"github.com/byte4ever/bbmigrate/migrate/bitbucket"
)

// Error record origin tags.
const (
	errorTypePullRequest = "pull_request"
	errorTypeComment     = "comment"
)

// reportMessage heads the persisted error report.
const reportMessage = "The remote data could not be fully imported."

// ErrorRecord is one captured per-item failure,
// appended during processing and flushed once as part
// of the aggregated report.
type ErrorRecord struct {
	// Type tags the origin item: pull_request or
	// comment.
	Type string `json:"type"`
	// IID is the pull request number, for
	// pull_request records.
	IID int64 `json:"iid,omitempty"`
	// ID is the comment identifier, for comment
	// records.
	ID int64 `json:"id,omitempty"`
	// Errors is the human-readable message.
	Errors string `json:"errors"`
	// Raw is the raw remote payload, when the failure
	// carried one.
	Raw string `json:"raw,omitempty"`
}

// importReport is the persisted aggregate of all error
// records of one run.
type importReport struct {
	Message string        `json:"message"`
	Errors  []ErrorRecord `json:"errors"`
}

// pullRequestError builds a record for a failure
// processing one pull request.
func pullRequestError(
	iid int64,
	err error,
) ErrorRecord {
	return ErrorRecord{
		Type:   errorTypePullRequest,
		IID:    iid,
		Errors: err.Error(),
		Raw:    rawPayload(err),
	}
}

// commentError builds a record for a failure processing
// one comment.
func commentError(id int64, err error) ErrorRecord {
	return ErrorRecord{
		Type:   errorTypeComment,
		ID:     id,
		Errors: err.Error(),
		Raw:    rawPayload(err),
	}
}

// rawPayload extracts the remote response body when the
// error chain carries one.
func rawPayload(err error) string {
	var statusErr *bitbucket.StatusError

	if errors.As(err, &statusErr) {
		return statusErr.Body
	}

	return ""
}

// flushErrors serializes the accumulated records as a
// single report and persists it against the project.
// Nothing is flushed for a clean run, and a flush
// failure does not fail the run: the operator inspects
// the log instead.
func (r *run) flushErrors(
	ctx context.Context,
	records []ErrorRecord,
) {
	if len(records) == 0 {
		return
	}

	slog.Warn(
		"import finished with errors",
		"count", len(records),
	)

	report := importReport{
		Message: reportMessage,
		Errors:  records,
	}

	payload, err := json.Marshal(&report)
	if err != nil {
		slog.Error(
			"failed to serialize import report",
			"error", err,
		)

		return
	}

	if err := r.cfg.Store.SaveImportReport(
		ctx, payload,
	); err != nil {
		slog.Error(
			"failed to persist import report",
			"error", err,
		)
	}
}

package reconcile

// SyncResult is the structured outcome of one sync attempt. It is persisted
// as the "last result" in the durable flat store, so the shape is stable and
// JSON-tagged.
type SyncResult struct {
	// OK is true only when the full procedure ran to completion.
	OK bool `json:"ok"`

	// AppliedRemote counts remote rows applied locally (upserts and deletes).
	AppliedRemote int `json:"appliedRemote"`

	// PushedLocal counts rows included in the push batch, live and deleted.
	PushedLocal int `json:"pushedLocal"`

	// SkippedTombstoneShadowed counts remote live rows ignored because a
	// local tombstone shadows them.
	SkippedTombstoneShadowed int `json:"skippedTombstoneShadowed"`

	// SkippedLocalNewer counts remote rows ignored because the local copy
	// is at least as recent.
	SkippedLocalNewer int `json:"skippedLocalNewer"`

	// SkippedMalformed counts remote rows dropped for failing validation.
	// They never abort the batch.
	SkippedMalformed int `json:"skippedMalformed"`

	// Failure classifies the error when OK is false.
	Failure FailureCode `json:"failure,omitempty"`

	// Message carries the underlying error text when OK is false.
	Message string `json:"message,omitempty"`

	// At is when the attempt started, unix milliseconds.
	At int64 `json:"at"`

	// RetryCount is how many retries preceded this result.
	RetryCount int `json:"retryCount"`
}

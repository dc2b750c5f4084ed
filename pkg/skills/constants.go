package skills

import "time"

const (
	operationIncrement    = "increment"
	operationTrack        = "track"
	operationLevelUp      = "level_up"
	operationBeginSession = "begin_session"
	operationEndSession   = "end_session"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	errorOperationService = "service"
	errorSubjectSession   = "session"
	errorSubjectTracker   = "tracker"
	errorCodeLoad         = "load"
	errorCodePersist      = "persist"

	// DefaultFlushInterval is how often pending deltas are written to storage.
	DefaultFlushInterval = 30 * time.Second

	// DefaultTrackRetryAttempts bounds retries of the tracked-category write.
	DefaultTrackRetryAttempts = 3

	flushTickerTag = "flusher"
)

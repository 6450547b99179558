package archidex

import "errors"

var (
	// ErrArtifactNotFound reports a dataset artifact that does not exist at the
	// source (HTTP 404 or a missing file). Absence is deterministic, so callers
	// may memoize the empty result.
	ErrArtifactNotFound = errors.New("archidex: artifact not found")

	// ErrTransientFetch reports a fetch that failed for reasons that may clear
	// on retry (network error, 5xx, cancelled context).
	ErrTransientFetch = errors.New("archidex: transient fetch failure")

	// ErrMalformedArtifact reports an artifact that was fetched but could not
	// be decoded into its expected shape.
	ErrMalformedArtifact = errors.New("archidex: malformed artifact")

	// ErrCacheBackendUnavailable reports that the durable cache tier could not
	// be opened. The cache keeps working volatile-only.
	ErrCacheBackendUnavailable = errors.New("archidex: cache backend unavailable")
)

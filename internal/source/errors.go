package source

import (
	"fmt"
	"io/fs"
)

// MissingFileError reports a local dataset that has not been downloaded.
// It matches fs.ErrNotExist with errors.Is.
type MissingFileError struct {
	Path        string
	DownloadURL string
	// Hint is an optional extra step, e.g. a format conversion.
	Hint string
}

func (e *MissingFileError) Error() string {
	msg := fmt.Sprintf("missing file %s: download it from %s and place it in %s", e.Path, e.DownloadURL, dirOf(e.Path))
	if e.Hint != "" {
		msg += " (" + e.Hint + ")"
	}
	return msg
}

func (e *MissingFileError) Unwrap() error { return fs.ErrNotExist }

// MissingDependencyError reports an optional integration that is not
// available in this build or configuration.
type MissingDependencyError struct {
	Name string
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("optional integration %q is not available", e.Name)
}

// RemoteAPIError is a non-2xx HTTP response from a remote source.
type RemoteAPIError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *RemoteAPIError) Error() string {
	return fmt.Sprintf("API error %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

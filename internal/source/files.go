// Package source loads the nutrition datasets into tables.
//
// Mandatory sources (Ciqual, Fineli) read local files. Optional sources
// (the Open Food Facts dump and search, the Swedish food API) depend on
// integrations probed once with ProbeCapabilities. Every loader returns a
// *table.Table with the dataset's native column names; renaming happens in
// the unifier.
package source

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

func dirOf(path string) string {
	return filepath.Dir(path)
}

// requireFile returns a *MissingFileError when path does not exist, and
// other stat errors wrapped.
func requireFile(path, downloadURL string) error {
	st, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &MissingFileError{Path: path, DownloadURL: downloadURL}
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if st.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	return nil
}

package storage

import (
	"fmt"
	"os"
	"strings"
)

// Format is the on-disk database format found in a data directory.
type Format string

const (
	FormatEmpty  Format = "empty"
	FormatBadger Format = "badger"
	FormatPebble Format = "pebble"
	// FormatUnknown is a non-empty directory that holds neither a badger nor a pebble database.
	FormatUnknown Format = "unknown"
)

// DetectFormat inspects the files in dir. A directory that does not exist is reported as empty,
// both backends create it on open.
func DetectFormat(dir string) (Format, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return FormatEmpty, nil
	}
	if err != nil {
		return FormatUnknown, err
	}
	if !info.IsDir() {
		return FormatUnknown, fmt.Errorf("%s is not a directory", dir)
	}

	files, err := os.ReadDir(dir)
	if err != nil {
		return FormatUnknown, err
	}
	if len(files) == 0 {
		return FormatEmpty, nil
	}

	var pebbleManifest, badgerManifest, keyRegistry, current, log, vlog bool
	for _, file := range files {
		name := file.Name()
		switch {
		case strings.HasPrefix(name, "MANIFEST-"):
			pebbleManifest = true
		case name == "MANIFEST":
			badgerManifest = true
		case name == "CURRENT":
			current = true
		case name == "KEYREGISTRY":
			keyRegistry = true
		case strings.HasSuffix(name, ".log"):
			log = true
		case strings.HasSuffix(name, ".vlog"):
			vlog = true
		}
	}

	switch {
	case pebbleManifest && current && log:
		return FormatPebble, nil
	case badgerManifest && keyRegistry && vlog:
		return FormatBadger, nil
	default:
		return FormatUnknown, nil
	}
}

// CheckFormat returns an error if dir already holds a database of a format other than want.
func CheckFormat(dir string, want Format) error {
	found, err := DetectFormat(dir)
	if err != nil {
		return fmt.Errorf("could not inspect data directory: %w", err)
	}
	if found == FormatEmpty || found == want {
		return nil
	}
	return fmt.Errorf("data directory %s holds a %s database, refusing to open it as %s", dir, found, want)
}

package folder

import (
	"fmt"
	"path/filepath"
	"strings"
)

// minPrefix is the shortest id prefix Resolve accepts.
const minPrefix = 4

// Resolve finds a folder by exact id, unique id prefix, or path.
func Resolve(reg Registry, arg string) (WatchedFolder, error) {
	if arg == "" {
		return WatchedFolder{}, fmt.Errorf("folder id or path is required")
	}

	folders, err := reg.List()
	if err != nil {
		return WatchedFolder{}, err
	}

	for _, f := range folders {
		if f.ID == arg {
			return f, nil
		}
	}

	if abs, err := filepath.Abs(arg); err == nil {
		abs = filepath.Clean(abs)
		for _, f := range folders {
			if f.Path == abs {
				return f, nil
			}
		}
	}

	if len(arg) >= minPrefix {
		var matches []WatchedFolder
		for _, f := range folders {
			if strings.HasPrefix(f.ID, arg) {
				matches = append(matches, f)
			}
		}
		switch len(matches) {
		case 1:
			return matches[0], nil
		case 0:
		default:
			return WatchedFolder{}, fmt.Errorf("id prefix %q is ambiguous (%d folders)", arg, len(matches))
		}
	}

	return WatchedFolder{}, fmt.Errorf("%w: %s", ErrNotFound, arg)
}

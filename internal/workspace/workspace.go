// Package workspace maps absolute file paths onto the workspace folders
// open in the editor.
package workspace

import (
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Folder is a workspace root and its stable identifier.
type Folder struct {
	Root string `mapstructure:"root"`
	ID   string `mapstructure:"id"`
}

// Set is the collection of open workspace folders.
type Set struct {
	folders []Folder
}

// NewSet cleans each root and fills in a missing ID with one derived
// from the root path, so the same folder always reports the same id.
func NewSet(folders ...Folder) *Set {
	s := &Set{}
	for _, f := range folders {
		s.Add(f)
	}
	return s
}

// Add registers a folder. Relative roots are made absolute.
func (s *Set) Add(f Folder) {
	root, err := filepath.Abs(f.Root)
	if err != nil {
		root = filepath.Clean(f.Root)
	}
	f.Root = root
	if f.ID == "" {
		f.ID = DeriveID(root)
	}
	s.folders = append(s.folders, f)
}

// Folders returns the registered folders.
func (s *Set) Folders() []Folder {
	out := make([]Folder, len(s.folders))
	copy(out, s.folders)
	return out
}

// Resolve returns the path of file relative to its containing workspace
// root, with a leading "/" and forward slashes, plus the workspace id.
// The innermost matching root wins. ok is false for files outside every
// workspace.
func (s *Set) Resolve(file string) (relPath, id string, ok bool) {
	abs, err := filepath.Abs(file)
	if err != nil {
		return "", "", false
	}

	best := -1
	for i, f := range s.folders {
		if !within(f.Root, abs) {
			continue
		}
		if best < 0 || len(f.Root) > len(s.folders[best].Root) {
			best = i
		}
	}
	if best < 0 {
		return "", "", false
	}

	f := s.folders[best]
	rel, err := filepath.Rel(f.Root, abs)
	if err != nil {
		return "", "", false
	}
	if rel == "." {
		rel = ""
	}
	return "/" + filepath.ToSlash(rel), f.ID, true
}

// DeriveID returns a name-based UUID for a workspace root.
func DeriveID(root string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("file://"+filepath.ToSlash(root))).String()
}

func within(root, path string) bool {
	if path == root {
		return true
	}
	prefix := root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(path, prefix)
}

package presence

import (
	"fmt"
	"sort"
)

// Tracker maps a file path to the set of remote users active on it.
// It is not safe for concurrent use; the controller only touches it from
// the loop goroutine.
type Tracker struct {
	files map[string]map[string]struct{}
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		files: make(map[string]map[string]struct{}),
	}
}

// Add records userID as active on path and returns the number of
// distinct users now tracked for it.
func (t *Tracker) Add(path, userID string) int {
	users := t.files[path]
	if users == nil {
		users = make(map[string]struct{})
		t.files[path] = users
	}
	users[userID] = struct{}{}
	return len(users)
}

// Remove drops the entry for path. It reports whether one existed.
func (t *Tracker) Remove(path string) bool {
	if _, ok := t.files[path]; !ok {
		return false
	}
	delete(t.files, path)
	return true
}

// Count returns the number of users tracked for path.
func (t *Tracker) Count(path string) int {
	return len(t.files[path])
}

// Users returns the sorted user ids tracked for path.
func (t *Tracker) Users(path string) []string {
	users := t.files[path]
	if len(users) == 0 {
		return nil
	}
	result := make([]string, 0, len(users))
	for id := range users {
		result = append(result, id)
	}
	sort.Strings(result)
	return result
}

// Paths returns the sorted tracked paths.
func (t *Tracker) Paths() []string {
	result := make([]string, 0, len(t.files))
	for p := range t.files {
		result = append(result, p)
	}
	sort.Strings(result)
	return result
}

// Len returns the number of tracked paths.
func (t *Tracker) Len() int {
	return len(t.files)
}

// Reset drops every entry.
func (t *Tracker) Reset() {
	t.files = make(map[string]map[string]struct{})
}

// Label is the decoration text for count users on path, e.g.
// "1 user editing /a.ts" or "2 users editing /a.ts".
func Label(count int, path string) string {
	noun := "users"
	if count == 1 {
		noun = "user"
	}
	return fmt.Sprintf("%d %s editing %s", count, noun, path)
}

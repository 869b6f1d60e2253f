// Package watch turns filesystem changes into server notifications.
package watch

// Watcher defines the common lifecycle interface for all watchers.
type Watcher interface {
	Start() error
	Stop()
}

var _ Watcher = (*HistoryWatcher)(nil)

package service

import (
	"sync"

	"github.com/google/uuid"
)

// ProjectLocks serializes escrow operations per project within a single
// processor instance. Kafka keys requests by project id so one partition
// owns a project, but the worker pool may still pull two requests for the
// same project concurrently; the lock closes that window. Cross-instance
// exclusion is done by the database row lock.
type ProjectLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*projectLock
}

type projectLock struct {
	mu   sync.Mutex
	refs int
}

// NewProjectLocks creates an empty lock registry
func NewProjectLocks() *ProjectLocks {
	return &ProjectLocks{
		locks: make(map[uuid.UUID]*projectLock),
	}
}

// Lock acquires the mutex for a project and returns its release function.
// Entries are reference counted so the registry does not grow with the
// number of projects ever seen.
func (l *ProjectLocks) Lock(projectID uuid.UUID) func() {
	l.mu.Lock()
	entry, ok := l.locks[projectID]
	if !ok {
		entry = &projectLock{}
		l.locks[projectID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, projectID)
		}
		l.mu.Unlock()
	}
}

package syncer

import "sync"

// FolderLocks serializes syncs of the same (mailbox, folder) within one
// process. The zero value is ready to use; a nil *FolderLocks locks nothing.
type FolderLocks struct {
	m sync.Map // map[string]*sync.Mutex
}

// Lock blocks until the folder is free and returns its unlock func.
func (l *FolderLocks) Lock(mailbox, folder string) func() {
	if l == nil {
		return func() {}
	}
	v, _ := l.m.LoadOrStore(mailbox+"\x00"+folder, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

package syncer

// EventType enumerates emitted sync events.
type EventType string

const (
	EventFolderStart    EventType = "folder_start"
	EventFolderProgress EventType = "folder_progress"
	EventFolderDone     EventType = "folder_done"
	EventFolderError    EventType = "folder_error"
)

// Event carries progress about a folder.
type Event struct {
	Type    EventType
	Mailbox string
	Folder  string
	Total   int
	Done    int
	Err     error
}

package imaputil

import "fmt"

// CommandError is a NO or BAD tagged completion.
type CommandError struct {
	Command string
	Status  string
	Info    string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %s %s", e.Command, e.Status, e.Info)
}

// AuthError means the server rejected the credentials.
type AuthError struct {
	User string
	Info string
}

func (e *AuthError) Error() string {
	if e.Info == "" {
		return fmt.Sprintf("login %s: rejected", e.User)
	}
	return fmt.Sprintf("login %s: rejected: %s", e.User, e.Info)
}

// FolderStateError means SELECT failed or did not report UIDVALIDITY and
// UIDNEXT.
type FolderStateError struct {
	Folder string
	Err    error
}

func (e *FolderStateError) Error() string {
	return fmt.Sprintf("select %s: %v", e.Folder, e.Err)
}

func (e *FolderStateError) Unwrap() error { return e.Err }

// FetchParseError means a FETCH reply could not be turned into a message.
type FetchParseError struct {
	UID    uint32
	Reason string
}

func (e *FetchParseError) Error() string {
	return fmt.Sprintf("fetch uid %d: %s", e.UID, e.Reason)
}

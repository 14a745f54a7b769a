// Package imaputil formats IMAP commands, parses their replies and wraps
// the handful of round trips the sync engine needs.
package imaputil

import (
	"context"
	"fmt"
	"strings"

	"github.com/emersion/go-imap"
)

// Commander sends one tagged command line and returns the raw reply.
// *imapwire.Conn implements it.
type Commander interface {
	NextTag() string
	Send(ctx context.Context, tag, line string) (string, error)
}

// exec runs one command and turns a NO/BAD completion into a CommandError.
func exec(ctx context.Context, c Commander, name string, format func(tag string) string) (string, error) {
	tag := c.NextTag()
	resp, err := c.Send(ctx, tag, format(tag))
	if err != nil {
		return resp, fmt.Errorf("%s: %w", strings.ToLower(name), err)
	}
	status, info, ok := ParseStatus(tag, resp)
	if !ok {
		return resp, &CommandError{Command: name, Status: "MISSING", Info: "no tagged completion"}
	}
	if status != "OK" {
		return resp, &CommandError{Command: name, Status: status, Info: info}
	}
	return resp, nil
}

var unsafeChars = strings.NewReplacer("\r", "", "\n", "", "\x00", "")

// Login authenticates with LOGIN.
func Login(ctx context.Context, c Commander, user, pass string) error {
	for _, v := range []string{user, pass} {
		if err := CheckQuotable(v); err != nil {
			return &AuthError{User: unsafeChars.Replace(user), Info: err.Error()}
		}
	}
	tag := c.NextTag()
	resp, err := c.Send(ctx, tag, FormatLogin(tag, user, pass))
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if !ParseLoginResult(tag, resp) {
		_, info, _ := ParseStatus(tag, resp)
		return &AuthError{User: user, Info: info}
	}
	return nil
}

// ListMailboxes returns all selectable mailbox names.
func ListMailboxes(ctx context.Context, c Commander) ([]string, error) {
	resp, err := exec(ctx, c, "LIST", FormatList)
	if err != nil {
		return nil, err
	}
	mailboxes := ParseFolderList(resp)
	hasInbox := false
	for _, m := range mailboxes {
		if strings.EqualFold(m, imap.InboxName) {
			hasInbox = true
		}
	}
	if !hasInbox {
		mailboxes = append(mailboxes, imap.InboxName)
	}
	return mailboxes, nil
}

// SelectMailbox selects name and returns its UID state.
func SelectMailbox(ctx context.Context, c Commander, name string) (FolderState, error) {
	if err := CheckQuotable(name); err != nil {
		return FolderState{}, &FolderStateError{Folder: name, Err: err}
	}
	resp, err := exec(ctx, c, "SELECT", func(tag string) string { return FormatSelect(tag, name) })
	if err != nil {
		return FolderState{}, &FolderStateError{Folder: name, Err: err}
	}
	st, ok := ParseFolderState(resp)
	if !ok {
		return FolderState{}, &FolderStateError{Folder: name, Err: fmt.Errorf("no UIDVALIDITY/UIDNEXT in reply")}
	}
	return st, nil
}

// SearchUIDs runs UID SEARCH with criteria in the selected mailbox.
func SearchUIDs(ctx context.Context, c Commander, criteria string) ([]uint32, error) {
	resp, err := exec(ctx, c, "UID SEARCH", func(tag string) string { return FormatUIDSearch(tag, criteria) })
	if err != nil {
		return nil, err
	}
	return ParseUIDList(resp), nil
}

// FetchMessage returns the raw UID FETCH reply for uid with DefaultFetchItems.
func FetchMessage(ctx context.Context, c Commander, uid uint32) (string, error) {
	resp, err := exec(ctx, c, "UID FETCH", func(tag string) string { return FormatUIDFetch(tag, uid, DefaultFetchItems) })
	return resp, err
}

// Logout ends the session. The server's BYE is expected and ignored.
func Logout(ctx context.Context, c Commander) error {
	_, err := exec(ctx, c, "LOGOUT", FormatLogout)
	return err
}

package imaputil

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cannedConn answers each command with the next canned body; "%s" in a
// body is replaced with the command's tag.
type cannedConn struct {
	n       int
	replies []string
	sent    []string
	err     error
}

func (c *cannedConn) NextTag() string {
	c.n++
	return fmt.Sprintf("A%03d", c.n)
}

func (c *cannedConn) Send(ctx context.Context, tag, line string) (string, error) {
	c.sent = append(c.sent, line)
	if c.err != nil {
		return "", c.err
	}
	if len(c.replies) == 0 {
		return tag + " BAD unexpected\r\n", nil
	}
	r := c.replies[0]
	c.replies = c.replies[1:]
	return strings.ReplaceAll(r, "%s", tag), nil
}

func TestLogin(t *testing.T) {
	c := &cannedConn{replies: []string{"%s OK LOGIN completed\r\n"}}
	require.NoError(t, Login(context.Background(), c, "u", "p"))
	assert.Equal(t, []string{`A001 LOGIN "u" "p"`}, c.sent)

	c = &cannedConn{replies: []string{"%s NO [AUTHENTICATIONFAILED] bad password\r\n"}}
	err := Login(context.Background(), c, "u", "p")
	var ae *AuthError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "[AUTHENTICATIONFAILED] bad password", ae.Info)
}

func TestLoginTransportError(t *testing.T) {
	boom := errors.New("boom")
	c := &cannedConn{err: boom}
	err := Login(context.Background(), c, "u", "p")
	require.ErrorIs(t, err, boom)
	var ae *AuthError
	assert.False(t, errors.As(err, &ae))
}

func TestSelectMailbox(t *testing.T) {
	c := &cannedConn{replies: []string{"* OK [UIDVALIDITY 7]\r\n* OK [UIDNEXT 9]\r\n%s OK SELECT completed\r\n"}}
	st, err := SelectMailbox(context.Background(), c, "INBOX")
	require.NoError(t, err)
	assert.Equal(t, uint32(7), st.UIDValidity)
	assert.Equal(t, uint32(9), st.UIDNext)

	c = &cannedConn{replies: []string{"%s NO Mailbox doesn't exist\r\n"}}
	_, err = SelectMailbox(context.Background(), c, "Sent")
	var fse *FolderStateError
	require.ErrorAs(t, err, &fse)
	assert.Equal(t, "Sent", fse.Folder)
	var ce *CommandError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "NO", ce.Status)

	c = &cannedConn{replies: []string{"* 1 EXISTS\r\n%s OK SELECT completed\r\n"}}
	_, err = SelectMailbox(context.Background(), c, "INBOX")
	require.ErrorAs(t, err, &fse)
}

func TestListMailboxesAddsInbox(t *testing.T) {
	c := &cannedConn{replies: []string{"* LIST () \"/\" Archive\r\n%s OK LIST completed\r\n"}}
	boxes, err := ListMailboxes(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, []string{"Archive", "INBOX"}, boxes)
}

func TestSearchAndFetch(t *testing.T) {
	c := &cannedConn{replies: []string{
		"* SEARCH 4 5\r\n%s OK SEARCH completed\r\n",
		"%s BAD parse error\r\n",
	}}
	uids, err := SearchUIDs(context.Background(), c, SearchFromUID(4))
	require.NoError(t, err)
	assert.Equal(t, []uint32{4, 5}, uids)
	assert.Equal(t, "A001 UID SEARCH UID 4:*", c.sent[0])

	_, err = FetchMessage(context.Background(), c, 4)
	var ce *CommandError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "BAD", ce.Status)
	assert.Equal(t, "A002 UID FETCH 4 "+DefaultFetchItems, c.sent[1])
}

func TestControlCharactersNeverReachTheWire(t *testing.T) {
	c := &cannedConn{replies: []string{"%s OK LOGIN completed\r\n"}}
	err := Login(context.Background(), c, "u", "p\r\nA999 DELETE INBOX")
	var ae *AuthError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "u", ae.User)

	err = Login(context.Background(), c, "u\x00", "p")
	require.ErrorAs(t, err, &ae)

	_, err = SelectMailbox(context.Background(), c, "INBOX\r\nA998 DELETE Trash")
	var fse *FolderStateError
	require.ErrorAs(t, err, &fse)
	require.ErrorIs(t, err, ErrUnsafeString)

	assert.Empty(t, c.sent)
}

package syncer

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/pepperpark/mailcache/internal/imapwire"
)

type fakeMessage struct {
	Subject string
	From    string
	Flags   string
	// Reject answers UID FETCH for this message with NO.
	Reject bool
}

type fakeFolder struct {
	Validity uint32
	Msgs     map[uint32]fakeMessage
	// UIDNext overrides the reported UIDNEXT when set.
	UIDNext uint32
}

func (f *fakeFolder) next() uint32 {
	if f.UIDNext != 0 {
		return f.UIDNext
	}
	var max uint32
	for uid := range f.Msgs {
		if uid > max {
			max = uid
		}
	}
	return max + 1
}

func (f *fakeFolder) uids() []uint32 {
	out := make([]uint32, 0, len(f.Msgs))
	for uid := range f.Msgs {
		out = append(out, uid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// fakeServer answers the command subset the syncer issues, the way a
// real server lays out its replies.
type fakeServer struct {
	mu       sync.Mutex
	pass     string
	folders  map[string]*fakeFolder
	noSelect map[string]bool // listed but not selectable
	// breakOn makes any command containing it fail with an IOError.
	breakOn string
}

func newFakeServer() *fakeServer {
	return &fakeServer{pass: "secret", folders: map[string]*fakeFolder{}, noSelect: map[string]bool{}}
}

func (s *fakeServer) folder(name string, validity uint32, msgs map[uint32]fakeMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msgs == nil {
		msgs = map[uint32]fakeMessage{}
	}
	s.folders[name] = &fakeFolder{Validity: validity, Msgs: msgs}
}

func (s *fakeServer) deliver(folder string, uid uint32, m fakeMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.folders[folder].Msgs[uid] = m
}

type fakeConn struct {
	srv      *fakeServer
	tags     imapwire.TagGenerator
	selected *fakeFolder
	sent     []string
	closed   int
}

func (s *fakeServer) dialer(conns *[]*fakeConn) DialFunc {
	return func(ctx context.Context, ep imapwire.Endpoint) (Conn, error) {
		if ep.Host == "" {
			return nil, &imapwire.ConnectError{Addr: ep.Addr(), Err: fmt.Errorf("missing host")}
		}
		c := &fakeConn{srv: s}
		*conns = append(*conns, c)
		return c, nil
	}
}

func (c *fakeConn) NextTag() string { return c.tags.Next() }

func (c *fakeConn) Close() error {
	c.closed++
	return nil
}

func (c *fakeConn) Send(ctx context.Context, tag, line string) (string, error) {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	c.sent = append(c.sent, line)
	if c.srv.breakOn != "" && strings.Contains(line, c.srv.breakOn) {
		return "", &imapwire.IOError{Op: "read", Err: fmt.Errorf("connection reset by peer")}
	}

	args := strings.Fields(strings.TrimPrefix(line, tag+" "))
	ok := func(untagged ...string) (string, error) {
		var b strings.Builder
		for _, u := range untagged {
			b.WriteString(u + "\r\n")
		}
		b.WriteString(tag + " OK " + args[0] + " completed\r\n")
		return b.String(), nil
	}
	no := func(text string) (string, error) {
		return tag + " NO " + text + "\r\n", nil
	}

	switch strings.ToUpper(args[0]) {
	case "LOGIN":
		if len(args) < 3 || args[2] != strconv.Quote(c.srv.pass) {
			return no("[AUTHENTICATIONFAILED] Invalid credentials")
		}
		return ok()
	case "LIST":
		var out []string
		names := make([]string, 0, len(c.srv.folders))
		for n := range c.srv.folders {
			names = append(names, n)
		}
		for n := range c.srv.noSelect {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			attrs := ""
			if c.srv.noSelect[n] {
				attrs = `\Noselect`
			}
			out = append(out, fmt.Sprintf(`* LIST (%s) "/" %s`, attrs, strconv.Quote(n)))
		}
		return ok(out...)
	case "SELECT":
		name, err := strconv.Unquote(strings.TrimPrefix(line, tag+" SELECT "))
		if err != nil {
			return tag + " BAD bad mailbox name\r\n", nil
		}
		f, found := c.srv.folders[name]
		if !found {
			return no("Mailbox doesn't exist: " + name)
		}
		c.selected = f
		return ok(
			fmt.Sprintf("* %d EXISTS", len(f.Msgs)),
			"* 0 RECENT",
			fmt.Sprintf("* OK [UIDVALIDITY %d] UIDs valid", f.Validity),
			fmt.Sprintf("* OK [UIDNEXT %d] Predicted next UID", f.next()),
		)
	case "UID":
		if c.selected == nil {
			return tag + " BAD no mailbox selected\r\n", nil
		}
		switch strings.ToUpper(args[1]) {
		case "SEARCH":
			return ok("* SEARCH" + c.search(args[2:]))
		case "FETCH":
			uid, _ := strconv.ParseUint(args[2], 10, 32)
			m, found := c.selected.Msgs[uint32(uid)]
			if !found {
				return ok()
			}
			if m.Reject {
				return no("message is unavailable")
			}
			hdr := fmt.Sprintf("Subject: %s\r\nFrom: %s\r\nDate: Mon, 2 Mar 2026 10:00:00 +0000\r\n\r\n", m.Subject, m.From)
			seq := 1
			for i, u := range c.selected.uids() {
				if u == uint32(uid) {
					seq = i + 1
				}
			}
			return ok(fmt.Sprintf("* %d FETCH (UID %d FLAGS (%s) BODY[HEADER.FIELDS (SUBJECT FROM TO DATE)] {%d}\r\n%s)",
				seq, uid, m.Flags, len(hdr), hdr))
		}
	case "LOGOUT":
		return ok("* BYE logging out")
	}
	return tag + " BAD unknown command\r\n", nil
}

// search supports ALL and "UID n:*". Like real servers, n:* always
// includes the highest UID even when it is below n.
func (c *fakeConn) search(criteria []string) string {
	all := c.selected.uids()
	var out []uint32
	switch {
	case len(criteria) == 1 && strings.EqualFold(criteria[0], "ALL"):
		out = all
	case len(criteria) == 2 && strings.EqualFold(criteria[0], "UID") && strings.HasSuffix(criteria[1], ":*"):
		from, _ := strconv.ParseUint(strings.TrimSuffix(criteria[1], ":*"), 10, 32)
		for _, u := range all {
			if u >= uint32(from) {
				out = append(out, u)
			}
		}
		if len(out) == 0 && len(all) > 0 {
			out = all[len(all)-1:]
		}
	}
	var b strings.Builder
	for _, u := range out {
		fmt.Fprintf(&b, " %d", u)
	}
	return b.String()
}

package imapwire

import "fmt"

// ConnectError reports a failure to open the socket, complete the TLS
// handshake or read an acceptable greeting.
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// IOError reports a read or write failure on an established connection.
type IOError struct {
	Op  string // read, write
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("imap %s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// ProtocolError means the server sent something the session cannot be
// continued after, such as a tagged reply for a command we did not send.
type ProtocolError struct {
	Tag    string
	Line   string
	Reason string
}

func (e *ProtocolError) Error() string {
	if e.Line == "" {
		return fmt.Sprintf("imap protocol error (tag %s): %s", e.Tag, e.Reason)
	}
	return fmt.Sprintf("imap protocol error (tag %s): %s: %q", e.Tag, e.Reason, e.Line)
}

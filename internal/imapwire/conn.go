// Package imapwire is a minimal line-oriented IMAP transport: it dials,
// writes tagged command lines and reads back everything the server says
// up to and including the matching tagged status line.
package imapwire

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	DefaultPort             = 993
	DefaultConnectTimeout   = 45 * time.Second
	DefaultCommandTimeout   = 60 * time.Second
	DefaultMaxResponseBytes = 16 << 20

	readBufferSize = 4096
)

// Endpoint names an IMAP server.
type Endpoint struct {
	Host   string
	Port   int
	UseTLS bool
}

func (e Endpoint) port() int {
	if e.Port <= 0 {
		return DefaultPort
	}
	return e.Port
}

// Addr returns host:port, substituting the default port for zero.
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.port()))
}

// ImplicitTLS reports whether the session starts with a TLS handshake.
// IMAPS (993) and POP3S (995) always do.
func (e Endpoint) ImplicitTLS() bool {
	p := e.port()
	return e.UseTLS || p == 993 || p == 995
}

// Options tune a connection. The zero value is usable.
type Options struct {
	TLSConfig        *tls.Config
	ConnectTimeout   time.Duration
	CommandTimeout   time.Duration
	MaxResponseBytes int
	// Debug, if set, receives the wire trace with LOGIN arguments redacted.
	Debug io.Writer
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = DefaultCommandTimeout
	}
	if o.MaxResponseBytes <= 0 {
		o.MaxResponseBytes = DefaultMaxResponseBytes
	}
	return o
}

// Conn is one IMAP session. Commands are strictly sequential; a Conn must
// not be shared between goroutines.
type Conn struct {
	nc   net.Conn
	br   *bufio.Reader
	tags TagGenerator
	opts Options

	Greeting string

	closeOnce sync.Once
	closeErr  error
}

// Dial connects to ep and consumes the server greeting.
func Dial(ctx context.Context, ep Endpoint, opts Options) (*Conn, error) {
	opts = opts.withDefaults()
	addr := ep.Addr()
	if ep.Host == "" {
		return nil, &ConnectError{Addr: addr, Err: errors.New("missing host")}
	}

	dialer := &net.Dialer{Timeout: opts.ConnectTimeout}
	var nc net.Conn
	var err error
	if ep.ImplicitTLS() {
		cfg := opts.TLSConfig.Clone()
		if cfg == nil {
			cfg = &tls.Config{}
		}
		if cfg.ServerName == "" {
			cfg.ServerName = ep.Host
		}
		td := &tls.Dialer{NetDialer: dialer, Config: cfg}
		nc, err = td.DialContext(ctx, "tcp", addr)
	} else {
		nc, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, &ConnectError{Addr: addr, Err: err}
	}

	c := newConn(nc, opts)
	if err := c.readGreeting(ctx); err != nil {
		_ = nc.Close()
		return nil, &ConnectError{Addr: addr, Err: err}
	}
	return c, nil
}

func newConn(nc net.Conn, opts Options) *Conn {
	return &Conn{
		nc:   nc,
		br:   bufio.NewReaderSize(nc, readBufferSize),
		opts: opts.withDefaults(),
	}
}

func (c *Conn) readGreeting(ctx context.Context) error {
	stop, err := c.armDeadline(ctx, c.opts.ConnectTimeout)
	if err != nil {
		return err
	}
	defer stop()

	line, err := c.readLine(0)
	if err != nil {
		return fmt.Errorf("read greeting: %w", err)
	}
	c.trace("S: ", line)
	c.Greeting = strings.TrimRight(line, "\r\n")
	upper := strings.ToUpper(c.Greeting)
	switch {
	case strings.HasPrefix(upper, "* OK"), strings.HasPrefix(upper, "* PREAUTH"):
		return nil
	case strings.HasPrefix(upper, "* BYE"):
		return fmt.Errorf("server refused connection: %s", c.Greeting)
	default:
		return fmt.Errorf("unexpected greeting: %q", c.Greeting)
	}
}

// NextTag returns the next command tag for this connection.
func (c *Conn) NextTag() string { return c.tags.Next() }

// Send writes line followed by CRLF and returns the raw response text,
// untagged lines and literals included, through the status line tagged
// with tag. line must already start with tag.
func (c *Conn) Send(ctx context.Context, tag, line string) (string, error) {
	start := time.Now()
	resp, err := c.roundTrip(ctx, tag, line)
	observeCommand(commandName(line), tag, start, resp, err)
	return resp, err
}

func (c *Conn) roundTrip(ctx context.Context, tag, line string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	stop, err := c.armDeadline(ctx, c.opts.CommandTimeout)
	if err != nil {
		return "", &IOError{Op: "write", Err: err}
	}
	defer stop()

	c.trace("C: ", line+"\r\n")
	if _, err := io.WriteString(c.nc, line+"\r\n"); err != nil {
		return "", c.ioError(ctx, "write", err)
	}

	var sb strings.Builder
	continuation := false
	for {
		l, err := c.readLine(sb.Len())
		sb.WriteString(l)
		if errors.Is(err, errTooLarge) {
			return sb.String(), &ProtocolError{Tag: tag, Reason: "response exceeds size limit"}
		}
		if err != nil {
			return sb.String(), c.ioError(ctx, "read", err)
		}
		c.trace("S: ", l)

		if n, ok := literalSize(l); ok {
			if sb.Len()+n > c.opts.MaxResponseBytes {
				return sb.String(), &ProtocolError{Tag: tag, Reason: "literal exceeds size limit"}
			}
			buf := make([]byte, n)
			if _, err := io.ReadFull(c.br, buf); err != nil {
				return sb.String(), c.ioError(ctx, "read", err)
			}
			sb.Write(buf)
			continuation = true
			continue
		}
		if continuation {
			// Remainder of a line that carried a literal.
			continuation = false
			continue
		}
		if strings.HasPrefix(l, tag+" ") {
			return sb.String(), nil
		}
		if isTagged(l) {
			return sb.String(), &ProtocolError{Tag: tag, Line: strings.TrimRight(l, "\r\n"), Reason: "unexpected tagged response"}
		}
	}
}

var errTooLarge = errors.New("response exceeds size limit")

// readLine reads up to and including the next LF, one buffer at a time.
// It stops with errTooLarge as soon as used plus the bytes read so far pass
// MaxResponseBytes.
func (c *Conn) readLine(used int) (string, error) {
	var line []byte
	for {
		chunk, err := c.br.ReadSlice('\n')
		line = append(line, chunk...)
		if used+len(line) > c.opts.MaxResponseBytes {
			return string(line), errTooLarge
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return string(line), err
	}
}

// armDeadline bounds the next I/O by timeout and by ctx. The returned
// func must be called once the I/O is finished.
func (c *Conn) armDeadline(ctx context.Context, timeout time.Duration) (func(), error) {
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.nc.SetDeadline(deadline); err != nil {
		return nil, err
	}
	stopAfter := context.AfterFunc(ctx, func() {
		_ = c.nc.SetDeadline(time.Unix(1, 0))
	})
	return func() { stopAfter() }, nil
}

func (c *Conn) ioError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("imap %s: %w", op, ctxErr)
	}
	return &IOError{Op: op, Err: err}
}

// Close closes the underlying socket. Repeated calls return the first result.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.nc.Close()
	})
	return c.closeErr
}

var literalRe = regexp.MustCompile(`\{(\d+)\+?\}\r?\n$`)

func literalSize(line string) (int, bool) {
	m := literalRe.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

func isTagged(line string) bool {
	return line != "" && !strings.HasPrefix(line, "* ") && !strings.HasPrefix(line, "+")
}

func (c *Conn) trace(dir, data string) {
	if c.opts.Debug == nil {
		return
	}
	if fields := strings.Fields(data); dir == "C: " && len(fields) >= 2 && strings.EqualFold(fields[1], "LOGIN") {
		data = fields[0] + " LOGIN [redacted]\r\n"
	}
	_, _ = io.WriteString(c.opts.Debug, dir+data)
}

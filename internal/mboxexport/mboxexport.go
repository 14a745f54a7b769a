// Package mboxexport writes cached envelopes to an mbox file so they can
// be browsed with ordinary mail tools. Only headers and the snippet are
// available; bodies are never cached.
package mboxexport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/emersion/go-mbox"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"

	"github.com/pepperpark/mailcache/internal/state"
)

const unknownSender = "MAILER-DAEMON"

// Export writes msgs to w as one mbox stream and returns how many were
// written.
func Export(w io.Writer, msgs []state.Message) (int, error) {
	mw := mbox.NewWriter(w)
	n := 0
	for _, m := range msgs {
		part, err := mw.CreateMessage(envelopeSender(m.From), m.Date)
		if err != nil {
			return n, fmt.Errorf("uid %d: %w", m.UID, err)
		}
		if err := writeMessage(part, m); err != nil {
			return n, fmt.Errorf("uid %d: %w", m.UID, err)
		}
		n++
	}
	if err := mw.Close(); err != nil {
		return n, err
	}
	return n, nil
}

// ExportFolder writes every cached message of one folder.
func ExportFolder(ctx context.Context, st state.Store, mailbox, folder string, w io.Writer) (int, error) {
	msgs, err := st.ListMessages(ctx, mailbox, folder)
	if err != nil {
		return 0, fmt.Errorf("list %s: %w", folder, err)
	}
	return Export(w, msgs)
}

func writeMessage(w io.Writer, m state.Message) error {
	var h mail.Header
	h.SetDate(m.Date)
	h.SetSubject(m.Subject)
	h.Set("From", m.From)
	h.Set("To", m.To)
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("X-Mailcache-Folder", m.Folder)
	h.Set("X-Mailcache-Uid", strconv.FormatUint(uint64(m.UID), 10))
	if len(m.Flags) > 0 {
		h.Set("X-Mailcache-Flags", strings.Join(m.Flags, " "))
	}
	if m.HasAttachments {
		h.Set("X-Mailcache-Attachments", "yes")
	}

	bw := bufio.NewWriter(w)
	if err := textproto.WriteHeader(bw, h.Header.Header); err != nil {
		return err
	}
	if m.Snippet != "" {
		if _, err := bw.WriteString(m.Snippet + "\r\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// envelopeSender picks the bare address for the mbox "From " line.
func envelopeSender(from string) string {
	if from == "" {
		return unknownSender
	}
	if addrs, err := mail.ParseAddressList(from); err == nil && len(addrs) > 0 && addrs[0].Address != "" {
		return addrs[0].Address
	}
	if f := strings.Fields(from); len(f) == 1 && strings.Contains(f[0], "@") {
		return f[0]
	}
	return unknownSender
}

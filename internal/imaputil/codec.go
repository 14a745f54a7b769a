package imaputil

import (
	"bufio"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/pepperpark/mailcache/internal/state"
)

const (
	// SearchAll matches every message in the selected folder.
	SearchAll = "ALL"

	// DefaultFetchItems asks for everything ParseEnvelope understands.
	DefaultFetchItems = "(UID FLAGS ENVELOPE BODYSTRUCTURE BODY.PEEK[HEADER.FIELDS (SUBJECT FROM TO DATE)])"

	NoSubject     = "(No subject)"
	UnknownSender = "Unknown"

	snippetLength = 150
)

// FolderState is what SELECT tells us about a folder.
type FolderState struct {
	UIDValidity uint32
	UIDNext     uint32
	Exists      uint32
}

// ErrUnsafeString means a value cannot be sent as a quoted string because
// it contains CR, LF or NUL.
var ErrUnsafeString = errors.New("value contains CR, LF or NUL")

// CheckQuotable reports ErrUnsafeString for values Quote must not carry.
func CheckQuotable(s string) error {
	if strings.ContainsAny(s, "\r\n\x00") {
		return ErrUnsafeString
	}
	return nil
}

// Quote renders s as an IMAP quoted string. Callers check s with
// CheckQuotable first.
func Quote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}

// FormatLogin builds LOGIN with both arguments quoted.
func FormatLogin(tag, user, pass string) string {
	return fmt.Sprintf("%s LOGIN %s %s", tag, Quote(user), Quote(pass))
}

// FormatSelect builds SELECT for folder, quoted.
func FormatSelect(tag, folder string) string {
	return fmt.Sprintf("%s SELECT %s", tag, Quote(folder))
}

// FormatUIDSearch builds UID SEARCH; criteria is passed through as is.
func FormatUIDSearch(tag, criteria string) string {
	return fmt.Sprintf("%s UID SEARCH %s", tag, criteria)
}

// FormatUIDFetch builds UID FETCH for a single uid.
func FormatUIDFetch(tag string, uid uint32, items string) string {
	return fmt.Sprintf("%s UID FETCH %d %s", tag, uid, items)
}

// FormatList lists every folder below the root.
func FormatList(tag string) string {
	return fmt.Sprintf(`%s LIST "" "*"`, tag)
}

// FormatLogout builds LOGOUT.
func FormatLogout(tag string) string {
	return tag + " LOGOUT"
}

// SearchFromUID returns the criterion for UIDs from uid upward.
func SearchFromUID(uid uint32) string {
	if uid == 0 {
		return SearchAll
	}
	set := new(imap.SeqSet)
	set.AddRange(uid, 0)
	return "UID " + set.String()
}

// ParseStatus finds the status line tagged with tag.
func ParseStatus(tag, resp string) (status, info string, ok bool) {
	for _, line := range lines(resp) {
		if !strings.HasPrefix(line, tag+" ") {
			continue
		}
		rest := strings.TrimPrefix(line, tag+" ")
		status, info, _ = strings.Cut(rest, " ")
		return strings.ToUpper(status), info, true
	}
	return "", "", false
}

// ParseLoginResult reports whether a LOGIN reply means success.
func ParseLoginResult(tag, resp string) bool {
	return strings.Contains(resp, tag+" OK") || strings.Contains(resp, "LOGIN completed")
}

var (
	uidValidityRe = regexp.MustCompile(`(?i)UIDVALIDITY (\d+)`)
	uidNextRe     = regexp.MustCompile(`(?i)UIDNEXT (\d+)`)
	existsRe      = regexp.MustCompile(`(?im)^\* (\d+) EXISTS`)
)

// ParseFolderState extracts UIDVALIDITY and UIDNEXT; both are required.
func ParseFolderState(resp string) (FolderState, bool) {
	validity, ok := matchUint32(uidValidityRe, resp)
	if !ok {
		return FolderState{}, false
	}
	next, ok := matchUint32(uidNextRe, resp)
	if !ok {
		return FolderState{}, false
	}
	exists, _ := matchUint32(existsRe, resp)
	return FolderState{UIDValidity: validity, UIDNext: next, Exists: exists}, true
}

func matchUint32(re *regexp.Regexp, s string) (uint32, bool) {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	n, err := strconv.ParseUint(m[1], 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

// ParseUIDList returns the numbers of the untagged SEARCH reply, in order.
func ParseUIDList(resp string) []uint32 {
	var uids []uint32
	for _, line := range lines(resp) {
		upper := strings.ToUpper(line)
		if upper != "* SEARCH" && !strings.HasPrefix(upper, "* SEARCH ") {
			continue
		}
		for _, f := range strings.Fields(line)[2:] {
			n, err := strconv.ParseUint(f, 10, 32)
			if err != nil {
				continue
			}
			uids = append(uids, uint32(n))
		}
	}
	return uids
}

var (
	fetchLineRe  = regexp.MustCompile(`(?im)^\* \d+ FETCH `)
	flagsRe      = regexp.MustCompile(`(?i)FLAGS \(([^)]*)\)`)
	headerLineRe = regexp.MustCompile(`(?i)^(Subject|From|To|Date):[ \t]*(.*)$`)
)

// ParseEnvelope turns a UID FETCH reply into a cache row. Headers are
// taken line by line, first occurrence wins.
func ParseEnvelope(resp string, uid uint32, folder, mailbox string, now time.Time) (state.Message, error) {
	if !fetchLineRe.MatchString(resp) {
		return state.Message{}, &FetchParseError{UID: uid, Reason: "no FETCH data in response"}
	}

	var flags []string
	if m := flagsRe.FindStringSubmatch(resp); m != nil {
		for _, f := range strings.Fields(m[1]) {
			flags = append(flags, imap.CanonicalFlag(f))
		}
	}

	headers := map[string]string{}
	var current string
	for _, line := range lines(resp) {
		if current != "" && (strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t")) {
			headers[current] += " " + strings.TrimSpace(line)
			continue
		}
		current = ""
		m := headerLineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		name := strings.ToLower(m[1])
		if _, seen := headers[name]; seen {
			continue
		}
		headers[name] = strings.TrimSpace(m[2])
		current = name
	}

	var h mail.Header
	for k, v := range headers {
		h.Set(k, v)
	}

	msg := state.Message{
		Mailbox:        mailbox,
		Folder:         folder,
		UID:            uid,
		Flags:          flags,
		Subject:        decodeHeader(&h, "subject", NoSubject),
		From:           decodeHeader(&h, "from", UnknownSender),
		To:             decodeHeader(&h, "to", mailbox),
		Date:           now,
		HasAttachments: strings.Contains(strings.ToLower(resp), "attachment"),
		SyncedAt:       now,
	}
	if h.Get("Date") != "" {
		if t, err := h.Date(); err == nil {
			msg.Date = t
		}
	}
	msg.Snippet = truncate(msg.Subject, snippetLength)
	return msg, nil
}

func decodeHeader(h *mail.Header, key, fallback string) string {
	raw := h.Get(key)
	if raw == "" {
		return fallback
	}
	v, err := h.Text(key)
	if err != nil || v == "" {
		return raw
	}
	return v
}

var listRe = regexp.MustCompile(`(?i)^\* LIST \(([^)]*)\) (?:"(?:[^"\\]|\\.)*"|NIL) (.+)$`)

// ParseFolderList returns the selectable folder names of untagged LIST
// replies. Quoted and atom names are both accepted.
func ParseFolderList(resp string) []string {
	var names []string
	for _, line := range lines(resp) {
		m := listRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if strings.Contains(strings.ToLower(m[1]), `\noselect`) {
			continue
		}
		name := strings.TrimSpace(m[2])
		if len(name) >= 2 && strings.HasPrefix(name, `"`) && strings.HasSuffix(name, `"`) {
			name = strings.NewReplacer(`\"`, `"`, `\\`, `\`).Replace(name[1 : len(name)-1])
		}
		names = append(names, name)
	}
	return names
}

func lines(s string) []string {
	var out []string
	sc := bufio.NewScanner(strings.NewReader(s))
	sc.Buffer(make([]byte, 0, 64*1024), len(s)+1)
	for sc.Scan() {
		out = append(out, strings.TrimRight(sc.Text(), "\r"))
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

package syncer

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pepperpark/mailcache/internal/imapwire"
)

// DefaultFolders are synced when a request names none.
var DefaultFolders = []string{"INBOX", "Sent", "Drafts", "Trash"}

// FolderSelection is an explicit folder list, every folder on the
// server, or (zero value) the defaults.
type FolderSelection struct {
	All   bool
	Names []string
}

func AllFolders() FolderSelection { return FolderSelection{All: true} }

func Folders(names ...string) FolderSelection { return FolderSelection{Names: names} }

// UnmarshalJSON accepts ["INBOX", ...], "all" or null.
func (f *FolderSelection) UnmarshalJSON(b []byte) error {
	*f = FolderSelection{}
	if string(b) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		if strings.EqualFold(s, "all") {
			f.All = true
		} else if s != "" {
			f.Names = []string{s}
		}
		return nil
	}
	var names []string
	if err := json.Unmarshal(b, &names); err != nil {
		return fmt.Errorf("sync_folders: want \"all\" or a list of names")
	}
	f.Names = names
	return nil
}

func (f FolderSelection) MarshalJSON() ([]byte, error) {
	if f.All {
		return json.Marshal("all")
	}
	return json.Marshal(f.Names)
}

// Request describes one sync session.
type Request struct {
	Endpoint imapwire.Endpoint
	User     string
	Pass     string
	// Mailbox partitions the cache, usually the account's address.
	Mailbox string
	Folders FolderSelection
}

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// FolderResult is the outcome for one folder.
type FolderResult struct {
	Folder string `json:"folder"`
	Synced int    `json:"synced"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Report summarizes a run whose connect and login succeeded.
type Report struct {
	RunID       string         `json:"run_id"`
	Mailbox     string         `json:"user_email"`
	TotalSynced int            `json:"total_synced"`
	Folders     []FolderResult `json:"folders"`
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  time.Time      `json:"finished_at"`
}

// Failed returns the folders that ended in error.
func (r *Report) Failed() []FolderResult {
	var out []FolderResult
	for _, f := range r.Folders {
		if f.Status != StatusSuccess {
			out = append(out, f)
		}
	}
	return out
}

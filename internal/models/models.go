// Package models provides the core domain types of the Zonemaster test
// request broker: Test, ResultEntry, Batch, and User.
package models

import "time"

// Severity is the ordered result-entry level. The engine also emits three
// lower DEBUG levels (DEBUG1..DEBUG3 in the source catalog); those are
// rejected at the store boundary and never represented here.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityNotice
	SeverityWarning
	SeverityError
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityNotice:
		return "NOTICE"
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// ParseSeverity accepts only the five levels the broker stores. The three
// engine DEBUG levels are intentionally not accepted here: spec.md's open
// question on this is resolved as "yes, filter uniformly at the boundary".
func ParseSeverity(s string) (Severity, bool) {
	switch s {
	case "INFO":
		return SeverityInfo, true
	case "NOTICE":
		return SeverityNotice, true
	case "WARNING":
		return SeverityWarning, true
	case "ERROR":
		return SeverityError, true
	case "CRITICAL":
		return SeverityCritical, true
	default:
		return 0, false
	}
}

// OverallResult maps a maximum severity to the four-value bucket get_test_history reports.
func (s Severity) OverallResult() string {
	switch {
	case s >= SeverityCritical:
		return "critical"
	case s >= SeverityError:
		return "error"
	case s >= SeverityWarning:
		return "warning"
	default:
		return "ok"
	}
}

// NameServer is a {ns, ip?} pair supplied in test params.
type NameServer struct {
	NS string `json:"ns"`
	IP string `json:"ip,omitempty"`
}

// DSInfo is a single delegation-signer record supplied in test params.
type DSInfo struct {
	Digest    string `json:"digest"`
	Algorithm uint8  `json:"algorithm"`
	DigType   uint8  `json:"digtype"`
	KeyTag    uint16 `json:"keytag"`
}

// Params is the normalized test parameter object persisted with every Test.
// Normalization (lowercasing, IDNA encoding, sorted nameservers/ds_info) is
// performed once by internal/validate + internal/fingerprint before a Test
// is ever created; the Store always sees already-normalized Params.
type Params struct {
	Domain         string       `json:"domain"`
	IPv4           *bool        `json:"ipv4,omitempty"`
	IPv6           *bool        `json:"ipv6,omitempty"`
	Profile        string       `json:"profile"`
	NameServers    []NameServer `json:"nameservers,omitempty"`
	DSInfo         []DSInfo     `json:"ds_info,omitempty"`
	ClientID       string       `json:"client_id,omitempty"`
	ClientVersion  string       `json:"client_version,omitempty"`
	Language       string       `json:"language,omitempty"`
}

// ResultEntry is one row of a Test's finished result document.
type ResultEntry struct {
	Module    string            `json:"module"`
	Tag       string            `json:"tag"`
	Args      map[string]string `json:"args,omitempty"`
	Level     Severity          `json:"level"`
	Timestamp float64           `json:"timestamp"`
	NS        string            `json:"ns,omitempty"`
}

// Test is the unit of work: one DNS health-check invocation against one domain.
//
// Lifecycle: Waiting (StartTime nil) -> Running (StartTime set by the first
// successful ClaimNext) -> Finished (Progress == 100, EndTime set). No
// resurrection: a Test whose StartTime is set is never re-dispatched
// (invariant 7), and Progress never decreases or moves once it reaches 100
// (invariant 3).
type Test struct {
	SeqID       int64
	ID          string // 16-char lowercase hex test id ("hash_id")
	Fingerprint uint64
	Domain      string
	BatchID     *int64
	Params      Params
	Priority    int
	Queue       int
	Undelegated bool
	CreatedAt   time.Time
	StartTime   *time.Time
	EndTime     *time.Time
	Progress    int
	Results     []ResultEntry
}

// Finished reports whether the Test has reached progress 100.
func (t Test) Finished() bool {
	return t.Progress >= 100
}

// Running reports whether the Test has been claimed but not finished.
func (t Test) Running() bool {
	return t.StartTime != nil && !t.Finished()
}

// Batch groups Tests submitted together by one User.
type Batch struct {
	ID        int64
	Username  string
	CreatedAt time.Time
}

// User is a batch-submission identity: a shared username/api-key pair.
// The api key is stored as submitted (see DESIGN.md "Open Question
// decisions" #2) — this is a documented, not accidental, property.
type User struct {
	ID       int64
	Username string
	APIKey   string
}

// BatchStatus summarizes the completion state of a Batch (spec §4.3.2).
type BatchStatus struct {
	NbRunning       int
	NbFinished      int
	FinishedTestIDs []string
}

// HistoryFilter selects which Tests History returns, by undelegated flag.
type HistoryFilter string

const (
	HistoryAll         HistoryFilter = "all"
	HistoryDelegated   HistoryFilter = "delegated"
	HistoryUndelegated HistoryFilter = "undelegated"
)

// HistoryEntry is one row returned by get_test_history.
type HistoryEntry struct {
	ID            string
	CreatedAt     time.Time
	OverallResult string
	Undelegated   bool
}

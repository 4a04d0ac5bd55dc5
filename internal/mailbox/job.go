package mailbox

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrNotSupported = errors.New("not supported")
)

// Kind tags a Job record. Kinds not listed here may still appear in the
// mailbox; they belong to the peer process and are passed through untouched.
type Kind string

const (
	KindJoined         Kind = "joined"
	KindRelay          Kind = "relay"
	KindSubChange      Kind = "subchg"
	KindDM             Kind = "dm"
	KindDashRefresh    Kind = "dash_refresh"
	KindUnlockRegister Kind = "unlock_register"
	KindUnlockDeliver  Kind = "unlock_deliver"
	KindProxyAlert     Kind = "proxy_alert"
	KindDigestDaily    Kind = "digest_daily"
	KindDigestWeekly   Kind = "digest_weekly"
)

type MediaKind string

const (
	MediaImage     MediaKind = "image"
	MediaAnimation MediaKind = "animation"
	MediaVideo     MediaKind = "video"
	MediaDocument  MediaKind = "document"
)

// MediaRef points at a piece of media already held by the chat transport.
type MediaRef struct {
	Kind MediaKind `json:"kind,omitempty"`
	Ref  string    `json:"ref"`
}

// TeaserLocation addresses the teaser message a paid post was announced with.
type TeaserLocation struct {
	SessionID string `json:"session_id"`
	MessageID string `json:"message_id"`
}

// Job is one tagged record in the shared mailbox. A Job is addressed when
// SubjectID is set; dispatch only acts on addressed jobs whose identity
// resolution succeeds. Jobs are never mutated in place: a handler either
// keeps the record as-is, drops it, or replaces it with derived jobs.
type Job struct {
	ID         string `json:"id,omitempty"`
	Kind       Kind   `json:"kind"`
	SubjectID  string `json:"subject_id,omitempty"`
	Creator    string `json:"creator,omitempty"`
	EnqueuedAt string `json:"enqueued_at,omitempty"`

	Title       string `json:"title,omitempty"`
	Message     string `json:"message,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	OldPrice    string `json:"old_price,omitempty"`
	NewPrice    string `json:"new_price,omitempty"`

	ContentID string          `json:"content_id,omitempty"`
	Media     *MediaRef       `json:"media_ref,omitempty"`
	Items     []MediaRef      `json:"items,omitempty"`
	Content   string          `json:"content,omitempty"`
	Teaser    *TeaserLocation `json:"teaser_location,omitempty"`

	Source          string          `json:"source,omitempty"`
	Reason          string          `json:"reason,omitempty"`
	OriginalPayload json.RawMessage `json:"original_payload,omitempty"`
	Error           string          `json:"error,omitempty"`

	ProxyChatID   string `json:"proxy_chat_id,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`

	// raw holds the exact bytes the record was decoded from. A job that is
	// retained through a dispatch cycle is re-encoded from raw, so untouched
	// records survive byte-for-byte.
	raw       json.RawMessage
	malformed bool
}

// New returns a Job of the given kind with a fresh id and enqueue timestamp.
func New(kind Kind) Job {
	return Job{
		ID:         uuid.NewString(),
		Kind:       kind,
		EnqueuedAt: time.Now().UTC().Format(time.RFC3339),
	}
}

func (j Job) Addressed() bool {
	return j.SubjectID != ""
}

// Malformed reports whether the record failed decoding or schema validation.
// Malformed records are carried through cycles unchanged, never handled.
func (j Job) Malformed() bool {
	return j.malformed
}

func decodeRecord(raw json.RawMessage) Job {
	var j Job
	if err := json.Unmarshal(raw, &j); err != nil || j.Kind == "" {
		return Job{raw: append(json.RawMessage(nil), raw...), malformed: true}
	}
	j.raw = append(json.RawMessage(nil), raw...)
	if err := ValidateRecord(raw); err != nil {
		j.malformed = true
	}
	return j
}

func encodeRecord(j Job) (json.RawMessage, error) {
	if len(j.raw) > 0 {
		return j.raw, nil
	}
	data, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func decodeSnapshot(data []byte) ([]Job, error) {
	var records []json.RawMessage
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	jobs := make([]Job, 0, len(records))
	for _, raw := range records {
		jobs = append(jobs, decodeRecord(raw))
	}
	return jobs, nil
}

func encodeSnapshot(jobs []Job) ([]byte, error) {
	records := make([]json.RawMessage, 0, len(jobs))
	for _, j := range jobs {
		raw, err := encodeRecord(j)
		if err != nil {
			return nil, err
		}
		records = append(records, raw)
	}
	return json.Marshal(records)
}

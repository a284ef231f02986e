package api

import "encoding/json"

// Session modes and server-reported statuses. The server is the authority on
// status; clients only ever compare against these values.
const (
	ModeConversation = "conversation"
	ModeReview       = "review"

	StatusActive     = "active"
	StatusReviewing  = "reviewing"
	StatusCompleting = "completing"
	StatusCompleted  = "completed"
	StatusEnded      = "ended"
)

type CreateSessionRequest struct {
	UserID  string  `json:"user_id"`
	TopicID *string `json:"topic_id"`
	Mode    string  `json:"mode"`
}

type CreateSessionResponse struct {
	SessionID string `json:"session_id"`
	CreatedAt string `json:"created_at"`
}

// EndConversationResponse reports the authoritative mode the server used for
// the session, which may differ from what the client requested.
type EndConversationResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	Mode      string `json:"mode"`
}

type FinalizeResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

// Segment is one user utterance plus the AI's reply, the atom of the review
// screen. Immutable server-side except for the growing corrections list.
type Segment struct {
	ID          int64        `json:"id"`
	TurnIndex   int          `json:"turn_index"`
	UserText    string       `json:"user_text"`
	AIText      string       `json:"ai_text"`
	AIMarks     []AIMark     `json:"ai_marks"`
	Corrections []Correction `json:"corrections"`
}

// AIMark is one flagged issue on a segment.
type AIMark struct {
	ID          int64    `json:"id"`
	IssueTypes  []string `json:"issue_types"`
	Original    string   `json:"original"`
	Suggestion  string   `json:"suggestion"`
	Explanation string   `json:"explanation"`
}

// Correction is a learner follow-up question about a segment and its answer.
type Correction struct {
	ID          int64  `json:"id"`
	SegmentID   int64  `json:"segment_id,omitempty"`
	UserMessage string `json:"user_message"`
	Correction  string `json:"correction"`
	Explanation string `json:"explanation"`
	CreatedAt   string `json:"created_at"`
}

type CorrectionRequest struct {
	SegmentID   int64  `json:"segment_id"`
	UserMessage string `json:"user_message"`
}

// Summary is the final per-session assessment. A weakness dimension mapped to
// nil means the server explicitly found no issue in that dimension.
type Summary struct {
	Strengths  []string           `json:"strengths"`
	Weaknesses map[string]*string `json:"weaknesses"`
	Overall    string             `json:"overall"`
}

type Review struct {
	SessionID string    `json:"session_id"`
	Status    string    `json:"status"`
	Segments  []Segment `json:"segments"`
	Summary   *Summary  `json:"summary"`
}

// Profile is the server-owned learning aggregate. The client only reads it;
// ProfileData stays opaque because mutation happens entirely server-side.
type Profile struct {
	UserID      string          `json:"user_id"`
	Level       *string         `json:"level"`
	ProfileData json.RawMessage `json:"profile_data"`
	UpdatedAt   string          `json:"updated_at"`
	NeedsReview *bool           `json:"needs_review"`
}

type Topic struct {
	ID         string `json:"id"`
	LabelEN    string `json:"label_en"`
	LabelZH    string `json:"label_zh"`
	PromptHint string `json:"prompt_hint"`
}

// Stream event names emitted by the greeting and chat endpoints.
const (
	EventTranscript = "transcript"
	EventResponse   = "response"
	EventAudio      = "audio"
	EventTiming     = "timing"
	EventDone       = "done"
)

// Event is one server-sent event: a name and its raw JSON payload.
type Event struct {
	Name string
	Data []byte
}

type textPayload struct {
	Text string `json:"text"`
}

type audioPayload struct {
	Audio string `json:"audio"`
}

// TimingInfo is the payload of a timing event.
type TimingInfo struct {
	Step      string  `json:"step"`
	DurationS float64 `json:"duration_s"`
}

// Text decodes the text field of a transcript or response event.
func (e Event) Text() (string, error) {
	var p textPayload
	if err := json.Unmarshal(e.Data, &p); err != nil {
		return "", &DecodeError{Err: err}
	}
	return p.Text, nil
}

// AudioB64 decodes the base64 audio field of an audio event.
func (e Event) AudioB64() (string, error) {
	var p audioPayload
	if err := json.Unmarshal(e.Data, &p); err != nil {
		return "", &DecodeError{Err: err}
	}
	return p.Audio, nil
}

// Timing decodes the payload of a timing event.
func (e Event) Timing() (TimingInfo, error) {
	var p TimingInfo
	if err := json.Unmarshal(e.Data, &p); err != nil {
		return TimingInfo{}, &DecodeError{Err: err}
	}
	return p, nil
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
)

func TestCreateSessionWireFormat(t *testing.T) {
	var gotPath, gotMethod string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		data, _ := io.ReadAll(r.Body)
		json.Unmarshal(data, &gotBody)
		json.NewEncoder(w).Encode(map[string]string{
			"session_id": "sess-42",
			"created_at": "2026-08-24T10:00:00Z",
		})
	}))
	defer srv.Close()

	topic := "travel"
	resp, err := New(srv.URL).CreateSession(context.Background(), CreateSessionRequest{
		UserID:  "u1",
		TopicID: &topic,
		Mode:    ModeConversation,
	})
	if err != nil {
		t.Fatalf("creating session: %v", err)
	}

	if gotMethod != http.MethodPost || gotPath != "/sessions" {
		t.Errorf("request = %s %s, want POST /sessions", gotMethod, gotPath)
	}
	if gotBody["user_id"] != "u1" || gotBody["topic_id"] != "travel" || gotBody["mode"] != "conversation" {
		t.Errorf("request body = %v", gotBody)
	}
	if resp.SessionID != "sess-42" {
		t.Errorf("session_id = %q", resp.SessionID)
	}
}

func TestCreateSessionNullTopic(t *testing.T) {
	var raw map[string]json.RawMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		json.Unmarshal(data, &raw)
		json.NewEncoder(w).Encode(map[string]string{"session_id": "s", "created_at": ""})
	}))
	defer srv.Close()

	_, err := New(srv.URL).CreateSession(context.Background(), CreateSessionRequest{
		UserID: "u1",
		Mode:   ModeReview,
	})
	if err != nil {
		t.Fatalf("creating session: %v", err)
	}
	// topic_id must be present and explicitly null, not omitted
	val, ok := raw["topic_id"]
	if !ok {
		t.Fatal("topic_id missing from request body")
	}
	if string(val) != "null" {
		t.Errorf("topic_id = %s, want null", val)
	}
}

func TestEndConversationUsesDelete(t *testing.T) {
	var gotMethod, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		json.NewEncoder(w).Encode(map[string]string{
			"session_id": "s1", "status": StatusReviewing, "mode": ModeConversation,
		})
	}))
	defer srv.Close()

	resp, err := New(srv.URL).EndConversation(context.Background(), "s1")
	if err != nil {
		t.Fatalf("ending conversation: %v", err)
	}
	if gotMethod != http.MethodDelete || gotPath != "/sessions/s1" {
		t.Errorf("request = %s %s, want DELETE /sessions/s1", gotMethod, gotPath)
	}
	if resp.Mode != ModeConversation || resp.Status != StatusReviewing {
		t.Errorf("response = %+v", resp)
	}
}

func TestStatusErrorCarriesCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "session not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := New(srv.URL).FetchReview(context.Background(), "nope")
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.Code != http.StatusNotFound {
		t.Errorf("code = %d", statusErr.Code)
	}
}

func TestDecodeErrorOnMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "not json at all")
	}))
	defer srv.Close()

	_, err := New(srv.URL).FetchProfile(context.Background(), "u1")
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
}

func TestTransportErrorOnConnectionFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listening any more

	_, err := New(srv.URL).ListTopics(context.Background())
	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("expected TransportError, got %v", err)
	}
}

func TestFetchReviewShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{
			"session_id": "s1",
			"status": "reviewing",
			"segments": [{
				"id": 7,
				"turn_index": 0,
				"user_text": "I go to store yesterday",
				"ai_text": "Oh, what did you buy?",
				"ai_marks": [{
					"id": 1,
					"issue_types": ["grammar"],
					"original": "I go",
					"suggestion": "I went",
					"explanation": "past tense"
				}],
				"corrections": []
			}],
			"summary": null
		}`)
	}))
	defer srv.Close()

	review, err := New(srv.URL).FetchReview(context.Background(), "s1")
	if err != nil {
		t.Fatalf("fetching review: %v", err)
	}
	if review.Summary != nil {
		t.Error("summary should be nil")
	}
	if len(review.Segments) != 1 {
		t.Fatalf("segments = %d", len(review.Segments))
	}
	seg := review.Segments[0]
	if seg.ID != 7 || seg.UserText != "I go to store yesterday" {
		t.Errorf("segment = %+v", seg)
	}
	if len(seg.AIMarks) != 1 || seg.AIMarks[0].IssueTypes[0] != "grammar" {
		t.Errorf("marks = %+v", seg.AIMarks)
	}
}

func TestSummaryRoundTrip(t *testing.T) {
	note := "tends to drop past tense markers"
	original := Summary{
		Strengths:  []string{"good vocabulary range", "natural openings"},
		Weaknesses: map[string]*string{"grammar": &note, "naturalness": nil},
		Overall:    "solid progress overall",
	}

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("encoding: %v", err)
	}

	// The explicit no-issue dimension must survive as a present key with a
	// null value, not disappear.
	var raw map[string]json.RawMessage
	json.Unmarshal(data, &raw)
	var weaknesses map[string]json.RawMessage
	json.Unmarshal(raw["weaknesses"], &weaknesses)
	if val, ok := weaknesses["naturalness"]; !ok || string(val) != "null" {
		t.Errorf("naturalness = %s, want present null", val)
	}

	var decoded Summary
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if !reflect.DeepEqual(original, decoded) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", decoded, original)
	}
}

func TestFetchProfileNeedsReview(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/u1/profile" {
			t.Errorf("path = %s", r.URL.Path)
		}
		io.WriteString(w, `{
			"user_id": "u1",
			"level": "B1",
			"profile_data": {"weak_points": {}},
			"updated_at": "2026-08-24T10:00:00Z",
			"needs_review": true
		}`)
	}))
	defer srv.Close()

	profile, err := New(srv.URL).FetchProfile(context.Background(), "u1")
	if err != nil {
		t.Fatalf("fetching profile: %v", err)
	}
	if profile.Level == nil || *profile.Level != "B1" {
		t.Errorf("level = %v", profile.Level)
	}
	if profile.NeedsReview == nil || !*profile.NeedsReview {
		t.Errorf("needs_review = %v", profile.NeedsReview)
	}
}

func TestListTopics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[{"id":"travel","label_en":"Travel","label_zh":"旅行","prompt_hint":"ask about trips"}]`)
	}))
	defer srv.Close()

	topics, err := New(srv.URL).ListTopics(context.Background())
	if err != nil {
		t.Fatalf("listing topics: %v", err)
	}
	if len(topics) != 1 || topics[0].ID != "travel" || topics[0].LabelZH != "旅行" {
		t.Errorf("topics = %+v", topics)
	}
}

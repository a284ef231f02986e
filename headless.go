package main

import (
	"context"
	"fmt"
	"os"

	"github.com/yhc1/talkco/api"
	"github.com/yhc1/talkco/review"
	"github.com/yhc1/talkco/session"
)

// runHeadless drives one full session without the TUI: greeting, a single
// text turn, end-of-conversation, and the whole review flow, printing each
// stage to stdout. Useful against a local backend and in smoke tests.
func runHeadless(ctx context.Context, client *api.Client, ctrl *session.Controller, text string) int {
	printed := 0
	flush := func() {
		msgs := ctrl.Snapshot().Messages
		for _, m := range msgs[printed:] {
			prefix := "<"
			if m.Role == "user" {
				prefix = ">"
			}
			fmt.Printf("%s %s\n", prefix, m.Text)
		}
		printed = len(msgs)
	}

	if err := ctrl.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error starting session: %v\n", err)
		return 1
	}
	flush()

	if err := ctrl.SendText(ctx, text); err != nil {
		fmt.Fprintf(os.Stderr, "Error sending turn: %v\n", err)
	}
	flush()

	sessionID, err := ctrl.EndConversation(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error ending conversation: %v\n", err)
		return 1
	}
	if sessionID == "" {
		fmt.Println("No review for this session.")
		return 0
	}

	fmt.Println("Waiting for review...")
	rc := review.NewController(client, sessionID)
	if err := rc.Load(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error loading review: %v\n", err)
		return 1
	}

	snap := rc.Snapshot()
	for _, seg := range snap.Segments {
		fmt.Printf("> %s\n< %s\n", seg.UserText, seg.AIText)
		for _, mark := range seg.AIMarks {
			fmt.Printf("  ! %v: %s -> %s\n    %s\n", mark.IssueTypes, mark.Original, mark.Suggestion, mark.Explanation)
		}
	}

	fmt.Println("Finalizing...")
	if err := rc.End(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error finalizing review: %v\n", err)
		return 1
	}

	snap = rc.Snapshot()
	if snap.Summary != nil {
		printSummary(snap.Summary)
	}
	return 0
}

func printSummary(s *api.Summary) {
	fmt.Println("Summary:")
	for _, strength := range s.Strengths {
		fmt.Printf("  + %s\n", strength)
	}
	for dim, note := range s.Weaknesses {
		if note == nil {
			fmt.Printf("  = %s: no issues\n", dim)
		} else {
			fmt.Printf("  - %s: %s\n", dim, *note)
		}
	}
	fmt.Printf("  %s\n", s.Overall)
}

package main

import (
	"fmt"
	"os"

	"golang.org/x/term"

	"github.com/yhc1/talkco/api"
	"github.com/yhc1/talkco/audio"
)

func selectDevice(ctx audio.Context) (*audio.DeviceInfo, error) {
	devices, err := ctx.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerating devices: %w", err)
	}

	if len(devices) == 0 {
		return nil, fmt.Errorf("no capture devices found")
	}

	if len(devices) == 1 {
		fmt.Printf("Using device: %s\n", devices[0].Name)
		return &devices[0], nil
	}

	names := make([]string, len(devices))
	for i, d := range devices {
		names[i] = d.Name
	}
	idx, err := selectFromList("Select input device (↑/↓, Enter to confirm):", names)
	if err != nil {
		return nil, err
	}
	return &devices[idx], nil
}

func selectTopic(topics []api.Topic) (*api.Topic, error) {
	if len(topics) == 0 {
		return nil, nil
	}
	labels := make([]string, len(topics)+1)
	labels[0] = "(no topic — free conversation)"
	for i, t := range topics {
		labels[i+1] = t.LabelEN + "  " + t.LabelZH
	}
	idx, err := selectFromList("Pick a topic (↑/↓, Enter to confirm):", labels)
	if err != nil {
		return nil, err
	}
	if idx == 0 {
		return nil, nil
	}
	return &topics[idx-1], nil
}

// selectFromList runs a raw-mode arrow-key picker and returns the chosen
// index.
func selectFromList(title string, items []string) (int, error) {
	fd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return 0, fmt.Errorf("setting raw mode: %w", err)
	}
	defer term.Restore(fd, oldState)

	cursor := 0
	renderList := func() {
		fmt.Print("\r\x1b[J") // clear from cursor to end
		fmt.Print(title + "\r\n\r\n")
		for i, item := range items {
			if i == cursor {
				fmt.Printf("  \x1b[1;36m▶ %s\x1b[0m\r\n", item)
			} else {
				fmt.Printf("    %s\r\n", item)
			}
		}
	}

	renderList()

	buf := make([]byte, 3)
	for {
		n, err := os.Stdin.Read(buf)
		if err != nil {
			return 0, fmt.Errorf("reading input: %w", err)
		}

		if n == 1 {
			switch buf[0] {
			case 13: // Enter
				fmt.Printf("\r\n")
				term.Restore(fd, oldState)
				return cursor, nil
			case 3: // Ctrl+C
				fmt.Printf("\r\n")
				term.Restore(fd, oldState)
				os.Exit(0)
			case 'j': // vim down
				if cursor < len(items)-1 {
					cursor++
				}
			case 'k': // vim up
				if cursor > 0 {
					cursor--
				}
			}
		} else if n == 3 && buf[0] == 0x1b && buf[1] == '[' {
			switch buf[2] {
			case 'A': // Up arrow
				if cursor > 0 {
					cursor--
				}
			case 'B': // Down arrow
				if cursor < len(items)-1 {
					cursor++
				}
			}
		}

		// Redraw: move up to overwrite
		lines := len(items) + 2
		fmt.Printf("\x1b[%dA", lines)
		renderList()
	}
}

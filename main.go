package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/yhc1/talkco/api"
	"github.com/yhc1/talkco/audio"
	"github.com/yhc1/talkco/log"
	"github.com/yhc1/talkco/session"
)

var version = "dev"

const defaultServer = "http://localhost:8000"

func main() {
	run()
}

func run() {
	serverFlag := flag.String("server", "", "Backend base URL (default: TALKCO_SERVER env or "+defaultServer+")")
	userFlag := flag.String("user", "", "User identifier (default: persisted per-device id)")
	topicFlag := flag.String("topic", "", "Topic id for conversation mode (empty: interactive picker)")
	modeFlag := flag.String("mode", api.ModeConversation, "Session mode: conversation or review")
	textFlag := flag.String("text", "", "Headless: send one text turn, run the review flow, print the summary")
	deviceFlag := flag.String("device", "", "Use named microphone device")
	setupFlag := flag.Bool("setup", false, "Select microphone device (otherwise uses system default)")
	logPathFlag := flag.String("logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	tuiFlag := flag.Bool("tui", true, "Run with terminal UI")
	versionFlag := flag.Bool("version", false, "Print version and exit")
	evaluateFlag := flag.Bool("evaluate", false, "Re-evaluate the user's level and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("talkco %s\n", version)
		os.Exit(0)
	}

	logPath, err := log.ResolveDir(*logPathFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		os.Exit(1)
	}
	log.SetDir(logPath)
	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}
	defer log.Close()

	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	if crashFile, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644); err == nil {
		fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
		debug.SetCrashOutput(crashFile, debug.CrashOptions{})
	}

	server := *serverFlag
	if server == "" {
		server = os.Getenv("TALKCO_SERVER")
	}
	if server == "" {
		server = defaultServer
	}
	client := api.New(server)

	userID, err := resolveUserID(*userFlag)
	if err != nil {
		log.Warnf("persisting device id: %v", err)
	}

	switch *modeFlag {
	case api.ModeConversation, api.ModeReview:
	default:
		fmt.Printf("Error: unknown mode %q (use conversation or review)\n", *modeFlag)
		os.Exit(1)
	}

	if *evaluateFlag {
		profile, err := client.EvaluateLevel(context.Background(), userID)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		level := "(not yet assessed)"
		if profile.Level != nil {
			level = *profile.Level
		}
		fmt.Printf("Level: %s\n", level)
		os.Exit(0)
	}

	// Review-recommended banner: a server-computed signal, best effort only.
	if profile, err := client.FetchProfile(context.Background(), userID); err == nil {
		if profile.NeedsReview != nil && *profile.NeedsReview && *modeFlag == api.ModeConversation {
			fmt.Println("Tip: repeated mistakes detected — a drill session is recommended (-mode review)")
		}
	} else {
		log.Warnf("profile lookup failed: %v", err)
	}

	var topicID *string
	if *modeFlag == api.ModeConversation {
		switch {
		case *topicFlag != "":
			topicID = topicFlag
		case *textFlag == "":
			topics, err := client.ListTopics(context.Background())
			if err != nil {
				log.Warnf("topic catalog unavailable: %v", err)
				break
			}
			topic, err := selectTopic(topics)
			if err != nil {
				fmt.Printf("Warning: topic selection failed: %v\n", err)
				break
			}
			if topic != nil {
				topicID = &topic.ID
			}
		}
	}

	audioCtx, err := audio.NewContext()
	if err != nil {
		log.Errorf("audio context init error: %v", err)
		fmt.Printf("Error initializing audio context: %v\n", err)
		os.Exit(1)
	}
	defer audioCtx.Close()

	var selectedDevice *audio.DeviceInfo
	if *deviceFlag != "" {
		if devices, err := audioCtx.Devices(); err == nil {
			for i := range devices {
				if devices[i].Name == *deviceFlag {
					selectedDevice = &devices[i]
					break
				}
			}
		}
	} else if *setupFlag {
		selectedDevice, err = selectDevice(audioCtx)
		if err != nil {
			log.Warnf("device selection failed: %v", err)
			fmt.Printf("Warning: device selection failed: %v\n", err)
			fmt.Println("Falling back to default device")
			selectedDevice = nil
		}
	}

	recorder, err := audioCtx.NewRecorder(selectedDevice)
	if err != nil {
		log.Errorf("recorder init error: %v", err)
		fmt.Printf("Error initializing recorder: %v\n", err)
		os.Exit(1)
	}
	defer recorder.Close()

	player, err := audioCtx.NewPlayer()
	if err != nil {
		log.Errorf("player init error: %v", err)
		fmt.Printf("Error initializing playback: %v\n", err)
		os.Exit(1)
	}
	defer player.Close()

	ctrl := session.NewController(client, recorder, player, session.Config{
		UserID:  userID,
		TopicID: topicID,
		Mode:    *modeFlag,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	if *textFlag != "" {
		os.Exit(runHeadless(ctx, client, ctrl, *textFlag))
	}

	if !*tuiFlag {
		fmt.Println("Error: nothing to do without -tui (use -text for headless mode)")
		os.Exit(1)
	}

	if err := runTUI(ctx, client, ctrl); err != nil {
		log.Errorf("TUI error: %v", err)
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

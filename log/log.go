package log

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	diagLog        zerolog.Logger
	diagFile       *os.File
	transcriptFile *os.File
	logMu          sync.Mutex
	logReady       bool
	pid            int
	dir            string
)

func ResolveDir(flagPath string) (string, error) {
	// Priority 1: -logpath flag
	if flagPath != "" {
		if !filepath.IsAbs(flagPath) {
			wd, err := os.Getwd()
			if err != nil {
				return "", err
			}
			return filepath.Join(wd, flagPath), nil
		}
		return flagPath, nil
	}

	// Priority 2: TALKCO_LOG_PATH environment variable
	envPath := os.Getenv("TALKCO_LOG_PATH")
	if envPath != "" {
		if !filepath.IsAbs(envPath) {
			wd, err := os.Getwd()
			if err != nil {
				return "", err
			}
			return filepath.Join(wd, envPath), nil
		}
		return envPath, nil
	}

	// Priority 3: Default OS-specific location
	return getDefaultDir()
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	if err := EnsureDir(); err != nil {
		return err
	}

	pid = os.Getpid()

	var err error

	diagPath := filepath.Join(dir, "diagnostics_log.txt")
	diagFile, err = os.OpenFile(diagPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	transcriptPath := filepath.Join(dir, "transcript_log.txt")
	transcriptFile, err = os.OpenFile(transcriptPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		diagFile.Close()
		return err
	}

	consoleWriter := zerolog.ConsoleWriter{
		Out:        diagFile,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}
	diagLog = zerolog.New(consoleWriter).With().Timestamp().Int("pid", pid).Logger()

	logReady = true
	return nil
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	if diagFile != nil {
		diagFile.Close()
		diagFile = nil
	}
	if transcriptFile != nil {
		transcriptFile.Close()
		transcriptFile = nil
	}
	logReady = false
}

func Info(msg string) {
	if logReady {
		diagLog.Info().Msg(msg)
	}
}

func Infof(format string, args ...any) {
	if logReady {
		diagLog.Info().Msg(fmt.Sprintf(format, args...))
	}
}

func Error(msg string) {
	if logReady {
		diagLog.Error().Msg(msg)
	}
}

func Errorf(format string, args ...any) {
	if logReady {
		diagLog.Error().Msg(fmt.Sprintf(format, args...))
	}
}

func Warn(msg string) {
	if logReady {
		diagLog.Warn().Msg(msg)
	}
}

func Warnf(format string, args ...any) {
	if logReady {
		diagLog.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

// SessionStart records a session-creation result.
func SessionStart(sessionID, mode, topicID string) {
	if !logReady {
		return
	}
	ev := diagLog.Info().
		Str("session_id", sessionID).
		Str("mode", mode)
	if topicID != "" {
		ev = ev.Str("topic_id", topicID)
	}
	ev.Msg("session_start")
}

// SessionEnd records the server-reported outcome of the end-conversation call.
func SessionEnd(sessionID, status, mode string, turns int) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("session_id", sessionID).
		Str("status", status).
		Str("mode", mode).
		Int("turns", turns).
		Msg("session_end")
}

// Turn records one completed turn exchange.
func Turn(sessionID string, audioChunks, audioBytes int, elapsed time.Duration) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("session_id", sessionID).
		Int("audio_chunks", audioChunks).
		Int("audio_bytes", audioBytes).
		Float64("total_s", elapsed.Seconds()).
		Msg("turn")
}

// Timing records a server-emitted timing event from a turn stream.
func Timing(step string, durationS float64) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("step", step).
		Float64("duration_s", durationS).
		Msg("server_timing")
}

// NoSpeech records a recording discarded by the energy check.
func NoSpeech(rms float64, bytes int) {
	if !logReady {
		return
	}
	diagLog.Info().
		Float64("rms", rms).
		Int("bytes", bytes).
		Msg("no_speech_discard")
}

// PollGiveUp records a polling loop stopping after consecutive failures.
func PollGiveUp(phase string, failures int) {
	if !logReady {
		return
	}
	diagLog.Warn().
		Str("phase", phase).
		Int("failures", failures).
		Msg("poll_give_up")
}

// ReviewLoaded records the terminal state of the review-fetch loop.
func ReviewLoaded(sessionID string, segments, marks int, status string) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("session_id", sessionID).
		Int("segments", segments).
		Int("marks", marks).
		Str("status", status).
		Msg("review_loaded")
}

// TranscriptText appends one utterance to the plain-text transcript log.
func TranscriptText(role, text string) {
	if !logReady {
		return
	}
	logMu.Lock()
	defer logMu.Unlock()
	line := fmt.Sprintf("%s\t[%d]\t%s\t%s\n", time.Now().Format("2006-01-02 15:04:05"), pid, role, text)
	transcriptFile.WriteString(line)
}

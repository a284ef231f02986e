package audio

import (
	"encoding/binary"
	"math"
)

// SpeechRMSThreshold is the energy floor below which a recording is treated
// as silence. Tuned against accidental taps and ambient room noise.
const SpeechRMSThreshold = 0.012

// RMS computes the root-mean-square amplitude of little-endian PCM16 samples,
// normalized to [0, 1].
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sumSquares float64
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int16(binary.LittleEndian.Uint16(pcm[i:]))
		normalized := float64(sample) / 32768.0
		sumSquares += normalized * normalized
	}
	return math.Sqrt(sumSquares / float64(n))
}

// HasSpeech reports whether the recording carries enough energy to be worth a
// round-trip to the server.
func HasSpeech(pcm []byte) bool {
	return RMS(pcm) >= SpeechRMSThreshold
}

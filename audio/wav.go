package audio

import "encoding/binary"

// WrapWAV wraps raw PCM16 mono samples in the canonical 44-byte WAV header
// the backend expects on upload.
func WrapWAV(pcm []byte) []byte {
	dataSize := len(pcm)
	buf := make([]byte, WAVHeaderSize+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], Channels)
	binary.LittleEndian.PutUint32(buf[24:28], SampleRate)
	binary.LittleEndian.PutUint32(buf[28:32], SampleRate*Channels*BitsPerSample/8)
	binary.LittleEndian.PutUint16(buf[32:34], Channels*BitsPerSample/8) // block align
	binary.LittleEndian.PutUint16(buf[34:36], BitsPerSample)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[WAVHeaderSize:], pcm)

	return buf
}

// TrimWAV strips a WAV header if present, returning the raw PCM payload.
func TrimWAV(data []byte) []byte {
	if len(data) > WAVHeaderSize && string(data[0:4]) == "RIFF" {
		return data[WAVHeaderSize:]
	}
	return data
}

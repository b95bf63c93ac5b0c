package speech

import (
	"bytes"
	"encoding/binary"
	"mime"
	"strconv"
	"strings"
	"time"
)

// Gemini TTS returns 16-bit little-endian mono PCM at 24kHz.
const (
	defaultSampleRate    = 24000
	defaultChannels      = 1
	defaultBitsPerSample = 16
)

// PCMFormat describes raw linear PCM audio.
type PCMFormat struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// DefaultPCMFormat is the format Gemini speech output uses.
func DefaultPCMFormat() PCMFormat {
	return PCMFormat{SampleRate: defaultSampleRate, Channels: defaultChannels, BitsPerSample: defaultBitsPerSample}
}

func (f PCMFormat) bytesPerSecond() int {
	return f.SampleRate * f.Channels * f.BitsPerSample / 8
}

// Duration returns the playback length of n bytes of PCM.
func (f PCMFormat) Duration(n int) time.Duration {
	bps := f.bytesPerSecond()
	if bps <= 0 || n <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bps))
}

// ParsePCMMimeType reads rate and channels from types such as
// "audio/L16;codec=pcm;rate=24000". Missing values fall back to the defaults.
func ParsePCMMimeType(mimeType string) (PCMFormat, bool) {
	format := DefaultPCMFormat()
	mediaType, params, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return format, false
	}
	mediaType = strings.ToLower(mediaType)
	if mediaType != "audio/l16" && mediaType != "audio/pcm" {
		return format, false
	}
	if rate, err := strconv.Atoi(params["rate"]); err == nil && rate > 0 {
		format.SampleRate = rate
	}
	if ch, err := strconv.Atoi(params["channels"]); err == nil && ch > 0 {
		format.Channels = ch
	}
	return format, true
}

// EncodeWAV wraps PCM samples in a RIFF/WAVE container.
func EncodeWAV(pcm []byte, f PCMFormat) []byte {
	blockAlign := f.Channels * f.BitsPerSample / 8
	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))

	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	_ = binary.Write(&buf, binary.LittleEndian, uint16(f.Channels))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(f.SampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(f.bytesPerSecond()))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(f.BitsPerSample))

	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}

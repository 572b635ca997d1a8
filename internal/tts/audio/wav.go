// Package audio reads the metadata of synthesized audio files.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"time"
)

// Common errors for the audio package.
var (
	ErrNotWAV        = errors.New("not a RIFF/WAVE file")
	ErrMissingChunk  = errors.New("wav file is missing a required chunk")
	ErrInvalidFormat = errors.New("invalid wav format chunk")
)

// Format represents supported audio formats.
type Format string

// FormatWAV is the only format the synthesizer produces.
const FormatWAV Format = "wav"

const (
	riffHeaderSize = 12
	chunkHeaderLen = 8
	fmtChunkMinLen = 16
	chunkIDFormat  = "fmt "
	chunkIDData    = "data"
)

// Info describes a decoded audio header.
type Info struct {
	Format     Format        `json:"format"`
	Duration   time.Duration `json:"duration"`
	SampleRate int           `json:"sampleRate"`
	Channels   int           `json:"channels"`
	BitDepth   int           `json:"bitDepth"`
	DataSize   int64         `json:"dataSize"`
}

// ParseWAV reads the format and data chunks of a RIFF/WAVE payload.
// A data chunk whose declared size overruns the payload (as streamed WAVs
// often declare) is measured by the bytes actually present.
func ParseWAV(data []byte) (Info, error) {
	if len(data) < riffHeaderSize || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return Info{}, ErrNotWAV
	}

	var (
		info     = Info{Format: FormatWAV}
		byteRate int
		haveFmt  bool
		haveData bool
		offset   = riffHeaderSize
	)

	for offset+chunkHeaderLen <= len(data) {
		id := string(data[offset : offset+4])
		size := int64(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + chunkHeaderLen

		switch id {
		case chunkIDFormat:
			if size < fmtChunkMinLen || body+fmtChunkMinLen > len(data) {
				return Info{}, ErrInvalidFormat
			}

			info.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			byteRate = int(binary.LittleEndian.Uint32(data[body+8 : body+12]))
			info.BitDepth = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
			haveFmt = true
		case chunkIDData:
			info.DataSize = min(size, int64(len(data)-body))
			haveData = true
		}

		if haveFmt && haveData {
			break
		}

		// Chunks are padded to an even length.
		next := int64(body) + size + size%2
		if next > int64(len(data)) {
			break
		}

		offset = int(next)
	}

	if !haveFmt || !haveData {
		return Info{}, ErrMissingChunk
	}

	if byteRate <= 0 {
		return Info{}, fmt.Errorf("%w: byte rate %d", ErrInvalidFormat, byteRate)
	}

	info.Duration = time.Duration(float64(info.DataSize) / float64(byteRate) * float64(time.Second))

	return info, nil
}

// FileDuration returns the playback length of the WAV file at path.
func FileDuration(path string) (time.Duration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read audio file: %w", err)
	}

	info, err := ParseWAV(data)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	return info.Duration, nil
}

// EncodeWAV wraps 16-bit little-endian PCM samples in a canonical WAV header.
//
//nolint:gosec // sizes are bounded by the PCM buffer
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	const bitDepth = 16

	blockAlign := channels * bitDepth / 8
	out := make([]byte, 44+len(pcm))

	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+len(pcm)))
	copy(out[8:12], "WAVE")
	copy(out[12:16], chunkIDFormat)
	binary.LittleEndian.PutUint32(out[16:20], fmtChunkMinLen)
	binary.LittleEndian.PutUint16(out[20:22], 1)
	binary.LittleEndian.PutUint16(out[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(out[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(sampleRate*blockAlign))
	binary.LittleEndian.PutUint16(out[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:36], bitDepth)
	copy(out[36:40], chunkIDData)
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(pcm)))
	copy(out[44:], pcm)

	return out
}

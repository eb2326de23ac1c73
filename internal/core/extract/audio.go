package extract

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/corpora-hq/corpora/internal/core"
	"github.com/corpora-hq/corpora/internal/models"
)

const (
	// OversizeThresholdBytes is the largest payload sent to the transcription
	// provider in one request. Bigger recordings are split into windows.
	OversizeThresholdBytes = 20 << 20

	// TranscribeWindowSeconds is the window length used when splitting an
	// oversize recording (10 minutes).
	TranscribeWindowSeconds = 600
)

// audioWindow is one slice of an oversize recording, re-wrapped as a
// standalone WAV file. offset is where the slice starts in the original
// recording, in seconds.
type audioWindow struct {
	data   []byte
	offset float64
}

// transcribe runs the provider over the recording, windowing it first when it
// exceeds the single-request threshold. Segment timestamps from windowed
// calls are provider-relative, so each window's offset is added back before
// the segments are merged; the result reads as one continuous transcript.
func transcribe(ctx context.Context, tr core.Transcriber, data []byte, mimeType string) ([]models.TranscriptSegment, error) {
	if len(data) <= OversizeThresholdBytes {
		return tr.Transcribe(ctx, data, mimeType)
	}

	windows, err := splitWAV(data, TranscribeWindowSeconds)
	if err != nil {
		return nil, fmt.Errorf("audio exceeds %dMB and cannot be windowed: %w", OversizeThresholdBytes>>20, err)
	}

	var merged []models.TranscriptSegment
	for _, w := range windows {
		segments, err := tr.Transcribe(ctx, w.data, "audio/wav")
		if err != nil {
			return nil, err
		}
		for _, seg := range segments {
			seg.Start += w.offset
			seg.End += w.offset
			merged = append(merged, seg)
		}
	}
	return merged, nil
}

type wavInfo struct {
	format        uint16
	channels      uint16
	sampleRate    uint32
	byteRate      uint32
	blockAlign    uint16
	bitsPerSample uint16
	dataOffset    int
	dataLen       int
}

// parseWAV walks the RIFF chunk list and returns the fmt parameters plus the
// location of the PCM payload. Only uncompressed PCM is accepted: windowing
// slices the byte stream directly, which is only time-linear for PCM.
func parseWAV(data []byte) (*wavInfo, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("not a RIFF/WAVE file")
	}

	info := &wavInfo{}
	haveFmt := false
	pos := 12
	for pos+8 <= len(data) {
		chunkID := string(data[pos : pos+4])
		chunkLen := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if body+chunkLen > len(data) {
			chunkLen = len(data) - body
		}

		switch chunkID {
		case "fmt ":
			if chunkLen < 16 {
				return nil, fmt.Errorf("truncated fmt chunk")
			}
			info.format = binary.LittleEndian.Uint16(data[body : body+2])
			info.channels = binary.LittleEndian.Uint16(data[body+2 : body+4])
			info.sampleRate = binary.LittleEndian.Uint32(data[body+4 : body+8])
			info.byteRate = binary.LittleEndian.Uint32(data[body+8 : body+12])
			info.blockAlign = binary.LittleEndian.Uint16(data[body+12 : body+14])
			info.bitsPerSample = binary.LittleEndian.Uint16(data[body+14 : body+16])
			haveFmt = true
		case "data":
			info.dataOffset = body
			info.dataLen = chunkLen
		}

		// Chunks are word-aligned.
		pos = body + chunkLen + chunkLen%2
	}

	if !haveFmt || info.dataOffset == 0 {
		return nil, fmt.Errorf("missing fmt or data chunk")
	}
	if info.format != 1 {
		return nil, fmt.Errorf("unsupported WAV format %d, only PCM can be windowed", info.format)
	}
	if info.byteRate == 0 || info.blockAlign == 0 {
		return nil, fmt.Errorf("invalid fmt chunk: zero byte rate")
	}
	return info, nil
}

// splitWAV slices a PCM WAV recording into standalone WAV files of at most
// windowSeconds each, cut on block boundaries so no sample straddles two
// windows. Together the windows cover the payload exactly.
func splitWAV(data []byte, windowSeconds int) ([]audioWindow, error) {
	info, err := parseWAV(data)
	if err != nil {
		return nil, err
	}

	windowBytes := int(info.byteRate) * windowSeconds
	windowBytes -= windowBytes % int(info.blockAlign)
	if windowBytes <= 0 {
		return nil, fmt.Errorf("window shorter than one sample block")
	}

	pcm := data[info.dataOffset : info.dataOffset+info.dataLen]
	var windows []audioWindow
	for start := 0; start < len(pcm); start += windowBytes {
		end := start + windowBytes
		if end > len(pcm) {
			end = len(pcm)
		}
		windows = append(windows, audioWindow{
			data:   wrapWAV(info, pcm[start:end]),
			offset: float64(start) / float64(info.byteRate),
		})
	}
	if len(windows) == 0 {
		return nil, fmt.Errorf("empty audio payload")
	}
	return windows, nil
}

// wrapWAV prepends a canonical 44-byte PCM header to a payload slice.
func wrapWAV(info *wavInfo, pcm []byte) []byte {
	out := make([]byte, 44+len(pcm))
	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+len(pcm)))
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], info.format)
	binary.LittleEndian.PutUint16(out[22:24], info.channels)
	binary.LittleEndian.PutUint32(out[24:28], info.sampleRate)
	binary.LittleEndian.PutUint32(out[28:32], info.byteRate)
	binary.LittleEndian.PutUint16(out[32:34], info.blockAlign)
	binary.LittleEndian.PutUint16(out[34:36], info.bitsPerSample)
	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(pcm)))
	copy(out[44:], pcm)
	return out
}

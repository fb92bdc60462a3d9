package waves

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

// loadWAVMono reads a 16-bit PCM WAV file, downmixes to mono floats in
// [-1, 1], and resamples to targetSR.
func loadWAVMono(path string, targetSR int) ([]float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("not a RIFF/WAVE file: %s", path)
	}

	var (
		sampleRate int
		channels   int
		bits       int
		pcm        []byte
	)
	// Walk chunks; fmt must precede data.
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if body+size > len(data) {
			size = len(data) - body
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return nil, fmt.Errorf("short fmt chunk in %s", path)
			}
			format := int(binary.LittleEndian.Uint16(data[body : body+2]))
			if format != 1 {
				return nil, fmt.Errorf("unsupported wav format %d in %s", format, path)
			}
			channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bits = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
		case "data":
			pcm = data[body : body+size]
		}
		// Chunks are word-aligned.
		off = body + size
		if size%2 == 1 {
			off++
		}
	}
	if sampleRate == 0 || pcm == nil {
		return nil, fmt.Errorf("missing fmt or data chunk in %s", path)
	}
	if bits != 16 {
		return nil, fmt.Errorf("unsupported bit depth %d in %s", bits, path)
	}
	if channels < 1 {
		channels = 1
	}

	frameCount := len(pcm) / (2 * channels)
	mono := make([]float64, frameCount)
	for i := 0; i < frameCount; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			s := int16(binary.LittleEndian.Uint16(pcm[2*(i*channels+c):]))
			sum += float64(s) / 32768.0
		}
		mono[i] = sum / float64(channels)
	}

	if sampleRate == targetSR {
		return mono, nil
	}
	return resampleLinear(mono, sampleRate, targetSR), nil
}

// resampleLinear converts between sample rates by linear interpolation,
// adequate for the sub-100Hz synthesis bands this pipeline targets.
func resampleLinear(in []float64, fromSR, toSR int) []float64 {
	if len(in) == 0 {
		return nil
	}
	outLen := int(math.Round(float64(len(in)) * float64(toSR) / float64(fromSR)))
	if outLen < 1 {
		outLen = 1
	}
	out := make([]float64, outLen)
	ratio := float64(fromSR) / float64(toSR)
	for i := range out {
		pos := float64(i) * ratio
		j := int(pos)
		if j >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		frac := pos - float64(j)
		out[i] = in[j]*(1-frac) + in[j+1]*frac
	}
	return out
}

// writeWAVMono writes float samples as 16-bit PCM mono, clamping to [-1, 1].
func writeWAVMono(path string, samples []float64, sampleRate int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	pcm := make([]byte, 2*len(samples))
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := int16(math.Round(s * 32767))
		binary.LittleEndian.PutUint16(pcm[2*i:], uint16(v))
	}

	header := make([]byte, 44)
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(36+len(pcm)))
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], 1)
	binary.LittleEndian.PutUint16(header[22:24], 1)
	binary.LittleEndian.PutUint32(header[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(sampleRate*2))
	binary.LittleEndian.PutUint16(header[32:34], 2)
	binary.LittleEndian.PutUint16(header[34:36], 16)
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(len(pcm)))

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(header); err != nil {
		return err
	}
	_, err = f.Write(pcm)
	return err
}

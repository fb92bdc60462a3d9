// Package waves turns rendered speech clips into low-frequency cosine wave
// tracks, one per target speaker slot, for the water basin renderer.
package waves

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"time"

	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	// Analysis geometry shared by the pitch tracker, the STFT and the RMS
	// envelopes so their frame indices line up.
	hopLength   = 128
	nFFT        = 512
	pitchFrame  = 1024
	rmsFrame    = 512

	// Pitch search range: C2..C7.
	pitchFminHz = 65.406
	pitchFmaxHz = 2093.005

	// Minimum autocorrelation clarity to call a frame voiced.
	voicedClarity = 0.5

	// Baseline amplitude normalization for extracted harmonics.
	ampNormalization = (2.0 / 512.0) * 3.0

	gainCap = 10.0
)

// Metrics quantifies how well the synthesised mix tracks the source clip.
type Metrics struct {
	RMSE    float64 `json:"rmse"`
	NRMSE   float64 `json:"nrmse"`
	SNRdB   float64 `json:"snrDb"`
	EnvCorr float64 `json:"envCorr"`
}

// Track is one synthesised wave file.
type Track struct {
	WaveNum      int        `json:"waveNum"`
	TargetSlotID int        `json:"targetSlotId"`
	AbsPath      string     `json:"absPath"`
	RelPath      string     `json:"relPath"`
	FreqRangeHz  [2]float64 `json:"freqRangeHz"`
	RMSE         float64    `json:"rmse"`
}

// Decompose converts a WAV clip into one cosine wave per target slot, each
// mapped into that slot's frequency band, and writes them under outputDir.
//
// The pipeline follows the v3 algorithm: pitch-track the clip, extract
// per-harmonic amplitude envelopes from an STFT, remap the pitch contour into
// each slot's band, synthesise with cumulative phase, then force the mix
// envelope to match the source with a capped gain curve.
func Decompose(inputPath, outputDir, relDir string, turnIndex int, targetSlots []int, processingSR int) ([]Track, Metrics, error) {
	var metrics Metrics
	if len(targetSlots) == 0 {
		return nil, metrics, fmt.Errorf("no target slots")
	}
	for _, slot := range targetSlots {
		if _, ok := SlotFreqRanges[slot]; !ok {
			return nil, metrics, fmt.Errorf("unknown target slot %d", slot)
		}
	}

	y, err := loadWAVMono(inputPath, processingSR)
	if err != nil {
		return nil, metrics, err
	}
	if len(y) < pitchFrame {
		return nil, metrics, fmt.Errorf("clip too short: %d samples", len(y))
	}
	sr := processingSR

	// Pitch contour per frame, zeros on unvoiced frames.
	f0 := trackPitch(y, sr)
	frameTimes := make([]float64, len(f0))
	for i := range frameTimes {
		frameTimes[i] = float64(i*hopLength) / float64(sr)
	}
	sampleTimes := make([]float64, len(y))
	for i := range sampleTimes {
		sampleTimes[i] = float64(i) / float64(sr)
	}
	f0Interp := interp(sampleTimes, frameTimes, f0)

	minF0, maxF0 := f0Range(f0)

	// Short-time magnitude spectrum for harmonic envelope extraction.
	spec := stftMagnitude(y, nFFT, hopLength)

	nWaves := len(targetSlots)
	amps := make([][]float64, nWaves)
	for k := 1; k <= nWaves; k++ {
		amps[k-1] = extractHarmonicAmp(spec, f0, k, sr, sampleTimes, frameTimes)
	}

	// Synthesise one wave per slot with its band-mapped pitch contour.
	rawWaves := make([][]float64, nWaves)
	for i, slot := range targetSlots {
		band := SlotFreqRanges[slot]
		rawWaves[i] = synthesizeBand(f0Interp, minF0, maxF0, band, amps[i], sr)
	}

	rawMix := sumWaves(rawWaves)

	// Dynamic amplitude matching: force the mix envelope onto the source's.
	envOriginal := rmsEnvelope(y)
	envMix := rmsEnvelope(rawMix)
	gainFrames := make([]float64, len(envOriginal))
	for i := range gainFrames {
		g := envOriginal[i] / (envMix[i] + 1e-8)
		if g > gainCap {
			g = gainCap
		} else if g < 0 {
			g = 0
		}
		gainFrames[i] = g
	}
	envTimes := make([]float64, len(gainFrames))
	for i := range envTimes {
		envTimes[i] = float64(i*hopLength) / float64(sr)
	}
	gain := interp(sampleTimes, envTimes, gainFrames)

	finalWaves := make([][]float64, nWaves)
	for i, w := range rawWaves {
		out := make([]float64, len(w))
		for j := range w {
			out[j] = w[j] * gain[j]
		}
		finalWaves[i] = out
	}
	mix := sumWaves(finalWaves)

	metrics = computeMetrics(y, mix, envOriginal)

	basename := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	tracks := make([]Track, 0, nWaves)
	for i, w := range finalWaves {
		waveNum := i + 1
		name := waveFileName(basename, turnIndex, waveNum)
		abs := filepath.Join(outputDir, name)
		if err := writeWAVMono(abs, w, sr); err != nil {
			return nil, metrics, fmt.Errorf("write wave %d: %w", waveNum, err)
		}
		tracks = append(tracks, Track{
			WaveNum:      waveNum,
			TargetSlotID: targetSlots[i],
			AbsPath:      abs,
			RelPath:      relDir + "/" + name,
			FreqRangeHz:  SlotFreqRanges[targetSlots[i]],
			RMSE:         metrics.RMSE,
		})
	}
	return tracks, metrics, nil
}

// trackPitch estimates f0 per hop frame by normalized autocorrelation with
// parabolic refinement, constrained to the C2-C7 range. Unvoiced frames are
// zero.
func trackPitch(y []float64, sr int) []float64 {
	lagMin := int(float64(sr) / pitchFmaxHz)
	if lagMin < 2 {
		lagMin = 2
	}
	lagMax := int(float64(sr) / pitchFminHz)
	if lagMax > pitchFrame/2 {
		lagMax = pitchFrame / 2
	}

	nFrames := 1 + len(y)/hopLength
	f0 := make([]float64, nFrames)
	half := pitchFrame / 2

	for fi := 0; fi < nFrames; fi++ {
		center := fi * hopLength
		start := center - half
		frame := make([]float64, pitchFrame)
		for i := 0; i < pitchFrame; i++ {
			idx := start + i
			if idx >= 0 && idx < len(y) {
				frame[i] = y[idx]
			}
		}

		// Energy gate: skip near-silent frames outright.
		var energy float64
		for _, v := range frame {
			energy += v * v
		}
		if energy < 1e-6 {
			continue
		}

		bestLag, bestCorr := 0, 0.0
		for lag := lagMin; lag <= lagMax; lag++ {
			var corr float64
			for i := 0; i+lag < pitchFrame; i++ {
				corr += frame[i] * frame[i+lag]
			}
			if corr > bestCorr {
				bestCorr = corr
				bestLag = lag
			}
		}
		if bestLag == 0 {
			continue
		}
		clarity := bestCorr / energy
		if clarity < voicedClarity {
			continue
		}

		// Parabolic interpolation around the winning lag.
		refined := float64(bestLag)
		if bestLag > lagMin && bestLag < lagMax {
			c := func(lag int) float64 {
				var v float64
				for i := 0; i+lag < pitchFrame; i++ {
					v += frame[i] * frame[i+lag]
				}
				return v
			}
			y0, y1, y2 := c(bestLag-1), bestCorr, c(bestLag+1)
			denom := y0 - 2*y1 + y2
			if math.Abs(denom) > 1e-12 {
				refined = float64(bestLag) + 0.5*(y0-y2)/denom
			}
		}
		f0[fi] = float64(sr) / refined
	}
	return f0
}

// f0Range returns min/max over voiced frames, with the source's fallbacks
// for silent clips and flat contours.
func f0Range(f0 []float64) (float64, float64) {
	minF0, maxF0 := math.Inf(1), math.Inf(-1)
	voiced := false
	for _, v := range f0 {
		if v > 0 {
			voiced = true
			if v < minF0 {
				minF0 = v
			}
			if v > maxF0 {
				maxF0 = v
			}
		}
	}
	if !voiced {
		return 100.0, 300.0
	}
	if maxF0 == minF0 {
		maxF0++
	}
	return minF0, maxF0
}

// stftMagnitude computes |STFT| with a Hann window and reflection-centered
// frames, returned as [bin][frame].
func stftMagnitude(y []float64, nfft, hop int) [][]float64 {
	fft := fourier.NewFFT(nfft)
	window := make([]float64, nfft)
	for i := range window {
		window[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(nfft)))
	}

	nFrames := 1 + len(y)/hop
	nBins := nfft/2 + 1
	spec := make([][]float64, nBins)
	for b := range spec {
		spec[b] = make([]float64, nFrames)
	}

	frame := make([]float64, nfft)
	half := nfft / 2
	for fi := 0; fi < nFrames; fi++ {
		center := fi * hop
		for i := 0; i < nfft; i++ {
			idx := center - half + i
			// Reflect at the clip edges.
			if idx < 0 {
				idx = -idx
			}
			if idx >= len(y) {
				idx = 2*(len(y)-1) - idx
				if idx < 0 {
					idx = 0
				}
			}
			frame[i] = y[idx] * window[i]
		}
		coeffs := fft.Coefficients(nil, frame)
		for b := 0; b < nBins && b < len(coeffs); b++ {
			spec[b][fi] = cmplxAbs(coeffs[b])
		}
	}
	return spec
}

func cmplxAbs(c complex128) float64 {
	return math.Hypot(real(c), imag(c))
}

// extractHarmonicAmp reads the amplitude envelope at the bin nearest
// harmonicNum*f0 per frame, gates it on voicing, and interpolates to sample
// resolution.
func extractHarmonicAmp(spec [][]float64, f0 []float64, harmonicNum, sr int, sampleTimes, frameTimes []float64) []float64 {
	nBins := len(spec)
	nFrames := len(spec[0])
	binWidth := float64(sr) / float64(nFFT)

	amps := make([]float64, len(f0))
	for fi := range f0 {
		if fi >= nFrames {
			break
		}
		target := f0[fi] * float64(harmonicNum)
		bin := int(math.Round(target / binWidth))
		if bin < 0 {
			bin = 0
		}
		if bin >= nBins {
			bin = nBins - 1
		}
		if f0[fi] > 0 {
			amps[fi] = spec[bin][fi]
		}
	}

	interpAmps := interp(sampleTimes, frameTimes, amps)
	for i := range interpAmps {
		interpAmps[i] *= ampNormalization
	}
	return interpAmps
}

// synthesizeBand maps the pitch contour into [band[0], band[1]] preserving
// relative pitch, then synthesises amp*cos(cumulative phase).
func synthesizeBand(f0Interp []float64, minF0, maxF0 float64, band [2]float64, amp []float64, sr int) []float64 {
	minFreq, maxFreq := band[0], band[1]
	out := make([]float64, len(f0Interp))
	var phase float64
	for i, f := range f0Interp {
		var mapped float64
		if f > 0 {
			if maxF0 > minF0 {
				mapped = minFreq + (f-minF0)/(maxF0-minF0)*(maxFreq-minFreq)
			} else {
				mapped = (minFreq + maxFreq) / 2
			}
		}
		phase += 2 * math.Pi * mapped / float64(sr)
		out[i] = amp[i] * math.Cos(phase)
	}
	return out
}

// rmsEnvelope computes a centered per-frame RMS envelope (frame 512, hop 128).
func rmsEnvelope(y []float64) []float64 {
	nFrames := 1 + len(y)/hopLength
	env := make([]float64, nFrames)
	half := rmsFrame / 2
	for fi := 0; fi < nFrames; fi++ {
		center := fi * hopLength
		var sum float64
		var n int
		for i := -half; i < half; i++ {
			idx := center + i
			if idx >= 0 && idx < len(y) {
				sum += y[idx] * y[idx]
			}
			n++
		}
		env[fi] = math.Sqrt(sum / float64(n))
	}
	return env
}

func sumWaves(waves [][]float64) []float64 {
	if len(waves) == 0 {
		return nil
	}
	out := make([]float64, len(waves[0]))
	for _, w := range waves {
		for i := range w {
			out[i] += w[i]
		}
	}
	return out
}

func computeMetrics(y, mix []float64, envOriginal []float64) Metrics {
	n := len(y)
	if len(mix) < n {
		n = len(mix)
	}
	var mse, sigPower, mean float64
	for i := 0; i < n; i++ {
		d := y[i] - mix[i]
		mse += d * d
		sigPower += y[i] * y[i]
		mean += y[i]
	}
	mse /= float64(n)
	sigPower /= float64(n)
	mean /= float64(n)

	var variance float64
	for i := 0; i < n; i++ {
		d := y[i] - mean
		variance += d * d
	}
	variance /= float64(n)

	rmse := math.Sqrt(mse)
	envMix := rmsEnvelope(mix)
	return Metrics{
		RMSE:    rmse,
		NRMSE:   rmse / (math.Sqrt(variance) + 1e-10),
		SNRdB:   10 * math.Log10(sigPower/(mse+1e-10)),
		EnvCorr: pearson(envOriginal, envMix),
	}
}

func pearson(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n == 0 {
		return 0
	}
	var meanA, meanB float64
	for i := 0; i < n; i++ {
		meanA += a[i]
		meanB += b[i]
	}
	meanA /= float64(n)
	meanB /= float64(n)
	var cov, varA, varB float64
	for i := 0; i < n; i++ {
		da, db := a[i]-meanA, b[i]-meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	denom := math.Sqrt(varA * varB)
	if denom < 1e-12 {
		return 0
	}
	return cov / denom
}

// interp linearly interpolates samples of (xp, fp) at positions x, clamping
// outside the xp range. xp must be ascending.
func interp(x, xp, fp []float64) []float64 {
	out := make([]float64, len(x))
	if len(xp) == 0 {
		return out
	}
	j := 0
	for i, xv := range x {
		for j < len(xp)-1 && xp[j+1] < xv {
			j++
		}
		switch {
		case xv <= xp[0]:
			out[i] = fp[0]
		case j >= len(xp)-1:
			out[i] = fp[len(fp)-1]
		default:
			x0, x1 := xp[j], xp[j+1]
			f0v, f1v := fp[j], fp[j+1]
			if x1 == x0 {
				out[i] = f0v
			} else {
				out[i] = f0v + (xv-x0)/(x1-x0)*(f1v-f0v)
			}
		}
	}
	return out
}

// elapsedMs is a small helper for duration reporting.
func elapsedMs(start time.Time) float64 {
	return float64(time.Since(start)) / float64(time.Millisecond)
}

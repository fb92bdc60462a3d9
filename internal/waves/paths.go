package waves

import (
	"fmt"
	"path/filepath"
)

// SlotFreqRanges maps each physical speaker slot to its frequency band in Hz.
// The arrangement is a symmetric dome: high on the outside, low in the center.
var SlotFreqRanges = map[int][2]float64{
	1: {80.0, 100.0},
	2: {50.0, 70.0},
	3: {20.0, 40.0},
	4: {20.0, 40.0},
	5: {50.0, 70.0},
	6: {80.0, 100.0},
}

// TargetSlotsForSource returns the two wave targets for a turn 1-3 clip:
// the source slot itself and its clockwise neighbour.
func TargetSlotsForSource(sourceSlotID int) []int {
	return []int{sourceSlotID, (sourceSlotID % 6) + 1}
}

// SummaryTargetSlots returns all six slots, one wave each.
func SummaryTargetSlots() []int {
	return []int{1, 2, 3, 4, 5, 6}
}

// OutputDir returns the absolute wave output directory for a session turn.
// Turn 4 (the summary) lives under summary/ instead of turn_4/.
func OutputDir(artifactsRoot, sessionID string, turnIndex int) string {
	if turnIndex == 4 {
		return filepath.Join(artifactsRoot, "waves", "sessions", sessionID, "summary")
	}
	return filepath.Join(artifactsRoot, "waves", "sessions", sessionID, fmt.Sprintf("turn_%d", turnIndex))
}

// RelDir returns the artifact-relative counterpart of OutputDir.
func RelDir(sessionID string, turnIndex int) string {
	if turnIndex == 4 {
		return fmt.Sprintf("waves/sessions/%s/summary", sessionID)
	}
	return fmt.Sprintf("waves/sessions/%s/turn_%d", sessionID, turnIndex)
}

// waveFileName builds the per-track filename. Summary tracks carry a
// summary_ prefix so the renderer can glob them apart.
func waveFileName(basename string, turnIndex, waveNum int) string {
	if turnIndex == 4 {
		return fmt.Sprintf("summary_%s_v3_wave%d.wav", basename, waveNum)
	}
	return fmt.Sprintf("%s_v3_wave%d.wav", basename, waveNum)
}

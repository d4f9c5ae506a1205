// Package helper formats lap times, gaps and driver codes for the CLI tables.
package helper

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"
)

// LapTime renders seconds as mm:ss.mmm, "-" when no time was set.
func LapTime(seconds float64) string {
	if seconds <= 0 {
		return "-"
	}
	ms := int64(math.Round(seconds * 1000))
	return fmt.Sprintf("%02d:%02d.%03d", ms/60000, ms/1000%60, ms%1000)
}

// Gap is right aligned so that gaps line up in a column.
func Gap(seconds float64) string {
	if seconds <= 0 {
		return "-"
	}
	return fmt.Sprintf("%8.3fs", seconds)
}

func SectorTime(seconds float64) string {
	if seconds <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.3f", seconds)
}

func Duration(d time.Duration) string {
	d = max(d, 0)
	return fmt.Sprintf("%02dh %02dm", int(d.Hours()), int(d.Minutes())%60)
}

func MillisToSeconds(ms int64) float64 {
	return float64(ms) / 1000
}

// DriverCode builds a three letter tag: first initial plus two letters of the
// surname, or the first three letters of a single word id.
func DriverCode(driverID string) string {
	words := strings.Fields(driverID)
	if len(words) == 0 {
		return ""
	}
	if len(words) == 1 {
		return strings.ToUpper(prefix(words[0], 3))
	}
	return strings.ToUpper(prefix(words[0], 1) + prefix(words[1], 2))
}

func prefix(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

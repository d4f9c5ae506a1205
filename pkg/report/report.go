// Package report prints sessions and laps as terminal tables.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"f1telemetryhub/pkg/helper"
	"f1telemetryhub/pkg/model"
)

const (
	tableSession      = "Sesión"
	tableTrack        = "Circuito"
	tableStarted      = "Inicio"
	tableDuration     = "Duración"
	tableStatus       = "Estado"
	tableParticipants = "Pilotos"
	tableSamples      = "Muestras"
	tableDriver       = "Piloto"
	tableLap          = "Vuelta"
	tableTime         = "Tiempo"
	tableSectors      = "Sectores"
	tableGap          = "Dif."

	statusLive = "LIVE"
	timeLayout = "2006-01-02 15:04:05"
)

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	return t
}

// Sessions renders one row per session, newest first as listed by the store.
func Sessions(w io.Writer, sessions []model.SessionSummary, now time.Time) {
	t := newTable(w)
	t.AppendHeader(table.Row{tableSession, tableTrack, tableStarted, tableDuration, tableStatus, tableParticipants, tableSamples})
	for _, s := range sessions {
		end := now
		status := statusLive
		if s.EndedAt != nil {
			end = *s.EndedAt
			status = s.EndedAt.Local().Format(timeLayout)
		}
		codes := make([]string, 0, len(s.Participants))
		for _, p := range s.Participants {
			codes = append(codes, helper.DriverCode(p))
		}
		t.AppendRow(table.Row{
			s.ID,
			s.TrackID,
			s.StartedAt.Local().Format(timeLayout),
			helper.Duration(end.Sub(s.StartedAt)),
			status,
			strings.Join(codes, " "),
			s.SampleCount,
		})
	}
	t.Render()
}

// Lap is one lap-complete event read back from its payload.
type Lap struct {
	DriverID string
	Lap      int
	TsMs     int64
	// Seconds is 0 when the relay did not report a lap time.
	Seconds float64
	Sectors [3]float64
}

// LapsFromEvents keeps lap-complete events only. Laps without an explicit
// number are counted per driver.
func LapsFromEvents(events []model.SessionEvent) []Lap {
	counts := map[string]int{}
	var laps []Lap
	for _, e := range events {
		if e.EventType != model.EventLapComplete {
			continue
		}
		counts[e.DriverID]++
		lap := Lap{DriverID: e.DriverID, Lap: counts[e.DriverID], TsMs: e.TsMs}
		if n, ok := number(e.Payload, "lap"); ok {
			lap.Lap = int(n)
		}
		if ms, ok := number(e.Payload, "lapTimeMs"); ok {
			lap.Seconds = helper.MillisToSeconds(int64(ms))
		} else if s, ok := number(e.Payload, "lapTime"); ok {
			lap.Seconds = s
		}
		for i, key := range []string{"s1", "s2", "s3"} {
			lap.Sectors[i], _ = number(e.Payload, key)
		}
		laps = append(laps, lap)
	}
	return laps
}

func number(payload map[string]any, key string) (float64, bool) {
	switch v := payload[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	}
	return 0, false
}

// Laps renders laps grouped by driver, with the gap of each lap to the
// driver's best.
func Laps(w io.Writer, laps []Lap) {
	best := map[string]float64{}
	for _, l := range laps {
		if l.Seconds > 0 && (best[l.DriverID] == 0 || l.Seconds < best[l.DriverID]) {
			best[l.DriverID] = l.Seconds
		}
	}
	sorted := append([]Lap(nil), laps...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].DriverID != sorted[j].DriverID {
			return sorted[i].DriverID < sorted[j].DriverID
		}
		return sorted[i].Lap < sorted[j].Lap
	})

	t := newTable(w)
	t.AppendHeader(table.Row{tableDriver, tableLap, tableTime, tableSectors, tableGap})
	prev := ""
	for _, l := range sorted {
		if prev != "" && l.DriverID != prev {
			t.AppendSeparator()
		}
		prev = l.DriverID
		gap := "-"
		if l.Seconds > 0 && l.Seconds > best[l.DriverID] {
			gap = helper.Gap(l.Seconds - best[l.DriverID])
		}
		t.AppendRow(table.Row{
			helper.DriverCode(l.DriverID),
			l.Lap,
			helper.LapTime(l.Seconds),
			fmt.Sprintf("%s %s %s", helper.SectorTime(l.Sectors[0]), helper.SectorTime(l.Sectors[1]), helper.SectorTime(l.Sectors[2])),
			gap,
		})
	}
	t.Render()
}

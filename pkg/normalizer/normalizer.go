// Package normalizer turns raw telemetry maps coming from different simulator
// dialects into the canonical model.TelemetrySample.
package normalizer

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"unicode"

	"f1telemetryhub/pkg/model"
)

// Defaults applied when a dialect does not carry a value. Core sub-structures
// are never left absent so consumers do not have to branch on missing fields.
const (
	DefaultDriverID     = "unknown"
	DefaultTirePressure = 172.0 // kPa, cold pressure of a slick
	DefaultTireWear     = 1.0   // fraction of tread remaining
	DefaultTireTemp     = 0.0
	DefaultFuelFraction = 0.0
	DefaultBattery      = 0.0
)

// Input is a raw sample plus whatever the caller already knows about it.
// Declared SessionID/DriverID take precedence over values found in Raw.
type Input struct {
	Raw          map[string]any
	SessionID    string
	DriverID     string
	FallbackTsMs int64
}

type reader struct {
	raw      map[string]any
	consumed map[string]bool
}

// Normalize is a pure function of its input.
func Normalize(in Input) (model.TelemetrySample, error) {
	r := &reader{raw: in.Raw, consumed: map[string]bool{}}

	sessionID := in.SessionID
	if found := r.str(sessionAliases); sessionID == "" {
		sessionID = found
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return model.TelemetrySample{}, &model.MalformedSampleError{Reason: "session id could not be determined"}
	}

	driverID := in.DriverID
	if found := r.str(driverAliases); driverID == "" {
		driverID = found
	}
	if driverID == "" {
		driverID = DefaultDriverID
	}

	s := model.TelemetrySample{
		SessionID: sessionID,
		DriverID:  driverID,
		TsMs:      in.FallbackTsMs,
	}
	if ts, ok := r.float(tsMsAliases); ok {
		s.TsMs = int64(ts)
	}

	s.Speed, _ = r.float(speedAliases)
	s.Heading, _ = r.float(headingAliases)
	s.Throttle, _ = r.float(throttleAliases)
	s.Brake, _ = r.float(brakeAliases)
	s.RPM, _ = r.float(rpmAliases)
	if gear, ok := r.float(gearAliases); ok {
		s.Gear = int(gear)
	}
	if lap, ok := r.float(lapAliases); ok {
		s.Lap = int(lap)
	}
	s.Sector = r.sector()

	s.Position.X, _ = r.float(posXAliases)
	s.Position.Y, _ = r.float(posYAliases)
	s.Position.Z, _ = r.float(posZAliases)

	s.Tires = model.Tires{
		FrontLeft:  r.tire(corners[0]),
		FrontRight: r.tire(corners[1]),
		RearLeft:   r.tire(corners[2]),
		RearRight:  r.tire(corners[3]),
	}

	s.Fuel.Level, _ = r.float(fuelLevelAliases)
	s.Fuel.Capacity, _ = r.float(fuelCapacityAliases)
	s.Fuel.Fraction = r.floatOr(fuelFractionAliases, DefaultFuelFraction)
	if s.Fuel.Fraction == 0 && s.Fuel.Capacity > 0 {
		s.Fuel.Fraction = s.Fuel.Level / s.Fuel.Capacity
	}

	s.Energy.BatteryFraction = r.floatOr(batteryAliases, DefaultBattery)
	s.Energy.Deploying = r.bool(deployingAliases)
	s.Energy.DrsActive = r.bool(drsAliases)

	s.GForce.Lateral, _ = r.float(gLatAliases)
	s.GForce.Longitudinal, _ = r.float(gLongAliases)
	s.GForce.Vertical, _ = r.float(gVertAliases)

	s.Extra = r.extra()
	return s, nil
}

func (r *reader) tire(c corner) model.Tire {
	return model.Tire{
		TempLeft:   r.floatOr(c.tempLeft(), DefaultTireTemp),
		TempMiddle: r.floatOr(c.tempMiddle(), DefaultTireTemp),
		TempRight:  r.floatOr(c.tempRight(), DefaultTireTemp),
		Pressure:   r.floatOr(c.pressure(), DefaultTirePressure),
		Wear:       r.floatOr(c.wear(), DefaultTireWear),
	}
}

// sector accepts numbers as well as the "SECTOR2" style strings.
func (r *reader) sector() int {
	for _, al := range sectorAliases {
		v, ok := r.lookup(al.Path)
		if !ok {
			continue
		}
		if f, ok := toFloat(v); ok {
			r.consume(al.Path)
			return int(f)
		}
		if s, ok := v.(string); ok {
			digits := strings.TrimLeftFunc(s, func(c rune) bool { return !unicode.IsDigit(c) })
			if n, err := strconv.Atoi(digits); err == nil {
				r.consume(al.Path)
				return n
			}
		}
	}
	return 0
}

func (r *reader) lookup(path string) (any, bool) {
	if r.raw == nil {
		return nil, false
	}
	parts := strings.Split(path, ".")
	var cur any = r.raw
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok || cur == nil {
			return nil, false
		}
	}
	return cur, true
}

func (r *reader) consume(path string) {
	top, _, _ := strings.Cut(path, ".")
	r.consumed[top] = true
}

func (r *reader) float(aliases []alias) (float64, bool) {
	for _, al := range aliases {
		v, ok := r.lookup(al.Path)
		if !ok {
			continue
		}
		f, ok := toFloat(v)
		if !ok {
			continue
		}
		r.consume(al.Path)
		if al.Scale != 0 {
			f *= al.Scale
		}
		return f, true
	}
	return 0, false
}

func (r *reader) floatOr(aliases []alias, def float64) float64 {
	if f, ok := r.float(aliases); ok {
		return f
	}
	return def
}

func (r *reader) bool(aliases []alias) bool {
	for _, al := range aliases {
		v, ok := r.lookup(al.Path)
		if !ok {
			continue
		}
		if b, ok := toBool(v); ok {
			r.consume(al.Path)
			return b
		}
	}
	return false
}

func (r *reader) str(aliases []alias) string {
	for _, al := range aliases {
		v, ok := r.lookup(al.Path)
		if !ok {
			continue
		}
		var s string
		switch t := v.(type) {
		case string:
			s = t
		case json.Number:
			s = t.String()
		case float64:
			s = strconv.FormatFloat(t, 'f', -1, 64)
		case int:
			s = strconv.Itoa(t)
		case int64:
			s = strconv.FormatInt(t, 10)
		default:
			continue
		}
		r.consume(al.Path)
		if s != "" {
			return s
		}
	}
	return ""
}

func (r *reader) extra() map[string]any {
	var extra map[string]any
	for k, v := range r.raw {
		if r.consumed[k] || !finite(v) {
			continue
		}
		if extra == nil {
			extra = map[string]any{}
		}
		extra[k] = v
	}
	return extra
}

// toFloat treats NaN and infinities as absent. They cannot be stored nor
// encoded as JSON.
func toFloat(v any) (float64, bool) {
	f, ok := anyToFloat(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func anyToFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case int32:
		return float64(t), true
	case uint64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func finite(v any) bool {
	switch t := v.(type) {
	case float64:
		return !math.IsNaN(t) && !math.IsInf(t, 0)
	case float32:
		return finite(float64(t))
	}
	return true
}

func toBool(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		return b, err == nil
	}
	if f, ok := toFloat(v); ok {
		return f != 0, true
	}
	return false, false
}

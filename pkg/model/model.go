package model

import (
	"fmt"
	"time"
)

const (
	EventLapComplete = "lap-complete"
	EventFlagChange  = "flag-change"
	EventPitIn       = "pit-in"
	EventPitOut      = "pit-out"
)

type Mode int32

const (
	ModeLive Mode = iota
	ModeReplay
)

func (m Mode) String() string {
	if m == ModeReplay {
		return "replay"
	}
	return "live"
}

type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Tire holds carcass temperatures across the tread (left, middle, right as
// seen from behind the car), pressure in kPa and remaining tread fraction.
type Tire struct {
	TempLeft   float64 `json:"tempLeft"`
	TempMiddle float64 `json:"tempMiddle"`
	TempRight  float64 `json:"tempRight"`
	Pressure   float64 `json:"pressure"`
	Wear       float64 `json:"wear"`
}

type Tires struct {
	FrontLeft  Tire `json:"fl"`
	FrontRight Tire `json:"fr"`
	RearLeft   Tire `json:"rl"`
	RearRight  Tire `json:"rr"`
}

type Fuel struct {
	Level    float64 `json:"level"`
	Capacity float64 `json:"capacity"`
	Fraction float64 `json:"fraction"`
}

type Energy struct {
	BatteryFraction float64 `json:"batteryFraction"`
	Deploying       bool    `json:"deploying"`
	DrsActive       bool    `json:"drsActive"`
}

type GForce struct {
	Lateral      float64 `json:"lat"`
	Longitudinal float64 `json:"long"`
	Vertical     float64 `json:"vert"`
}

// TelemetrySample is the canonical, dialect independent telemetry record.
// Tires, Fuel, Energy and GForce are always populated; only Extra varies.
type TelemetrySample struct {
	SessionID string         `json:"sessionId"`
	DriverID  string         `json:"driverId"`
	TsMs      int64          `json:"tsMs"`
	Position  Vec3           `json:"position"`
	Speed     float64        `json:"speed"`
	Heading   float64        `json:"heading"`
	Throttle  float64        `json:"throttle"`
	Brake     float64        `json:"brake"`
	Gear      int            `json:"gear"`
	RPM       float64        `json:"rpm"`
	Lap       int            `json:"lap"`
	Sector    int            `json:"sector"`
	Tires     Tires          `json:"tires"`
	Fuel      Fuel           `json:"fuel"`
	Energy    Energy         `json:"energy"`
	GForce    GForce         `json:"gforce"`
	Extra     map[string]any `json:"extra,omitempty"`
}

type SessionEvent struct {
	SessionID string         `json:"sessionId"`
	TsMs      int64          `json:"tsMs"`
	EventType string         `json:"eventType"`
	DriverID  string         `json:"driverId,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

func (e SessionEvent) String() string {
	return fmt.Sprintf("%s@%d(%s)", e.EventType, e.TsMs, e.DriverID)
}

type Session struct {
	ID        string     `json:"id"`
	TrackID   string     `json:"trackId"`
	StartedAt time.Time  `json:"startedAt"`
	EndedAt   *time.Time `json:"endedAt"`
}

func (s Session) Live() bool {
	return s.EndedAt == nil
}

type SessionSummary struct {
	Session
	Participants []string `json:"participants"`
	SampleCount  int64    `json:"sampleCount"`
}

const (
	LifecycleStarted = "started"
	LifecycleEnded   = "ended"
)

// SessionLifecycle is published whenever a session starts or ends.
type SessionLifecycle struct {
	Kind    string  `json:"kind"`
	Session Session `json:"session"`
	Reason  string  `json:"reason,omitempty"`
}

func (sl SessionLifecycle) String() string {
	status := "Sesión iniciada"
	if sl.Kind == LifecycleEnded {
		status = "Sesión finalizada"
	}
	text := fmt.Sprintf("%s:\n  ▸ Sesión: %s\n  ▸ Circuito: %s", status, sl.Session.ID, sl.Session.TrackID)
	if sl.Reason != "" {
		text += fmt.Sprintf("\n  ▸ Motivo: %s", sl.Reason)
	}
	return text
}

package normalizer

import (
	"encoding/json"
	"math"
	"testing"

	"f1telemetryhub/pkg/model"
)

func TestNormalize_LegacyCapitalizedFields(t *testing.T) {
	s, err := Normalize(Input{
		SessionID: "S",
		Raw:       map[string]any{"Speed": 71.5, "RPM": 11250.0, "Gear": 6.0},
	})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if s.Speed != 71.5 {
		t.Errorf("Speed = %v, want 71.5", s.Speed)
	}
	if s.RPM != 11250 {
		t.Errorf("RPM = %v, want 11250", s.RPM)
	}
	if s.Gear != 6 {
		t.Errorf("Gear = %d, want 6", s.Gear)
	}
	for name, tire := range map[string]model.Tire{
		"fl": s.Tires.FrontLeft, "fr": s.Tires.FrontRight, "rl": s.Tires.RearLeft, "rr": s.Tires.RearRight,
	} {
		if tire.Pressure != DefaultTirePressure {
			t.Errorf("%s pressure = %v, want default %v", name, tire.Pressure, DefaultTirePressure)
		}
		if tire.Wear != DefaultTireWear {
			t.Errorf("%s wear = %v, want default %v", name, tire.Wear, DefaultTireWear)
		}
	}
	if s.Fuel.Fraction != DefaultFuelFraction {
		t.Errorf("Fuel.Fraction = %v, want default", s.Fuel.Fraction)
	}
	if s.DriverID != DefaultDriverID {
		t.Errorf("DriverID = %q, want %q", s.DriverID, DefaultDriverID)
	}
	if s.Extra != nil {
		t.Errorf("Extra = %v, want nil", s.Extra)
	}
}

func TestNormalize_MissingSessionIsMalformed(t *testing.T) {
	_, err := Normalize(Input{Raw: map[string]any{"speed": 10.0}})
	if err == nil {
		t.Fatal("expected error")
	}
	if !model.IsMalformedSample(err) {
		t.Errorf("err = %v, want MalformedSampleError", err)
	}
}

func TestNormalize_SessionFromRaw(t *testing.T) {
	s, err := Normalize(Input{Raw: map[string]any{"SessionID": "abc", "DriverName": "Ayrton"}})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if s.SessionID != "abc" || s.DriverID != "Ayrton" {
		t.Errorf("got session=%q driver=%q", s.SessionID, s.DriverID)
	}
	if _, ok := s.Extra["SessionID"]; ok {
		t.Error("session alias leaked into Extra")
	}
}

func TestNormalize_DeclaredIdsWin(t *testing.T) {
	s, err := Normalize(Input{
		SessionID: "declared",
		DriverID:  "me",
		Raw:       map[string]any{"sessionId": "other", "driverId": "someone"},
	})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if s.SessionID != "declared" || s.DriverID != "me" {
		t.Errorf("got session=%q driver=%q", s.SessionID, s.DriverID)
	}
}

func TestNormalize_Dialects(t *testing.T) {
	tests := []struct {
		name  string
		raw   map[string]any
		check func(t *testing.T, s model.TelemetrySample)
	}{
		{
			name: "canonical nested",
			raw: map[string]any{
				"tsMs":     1500.0,
				"position": map[string]any{"x": 1.0, "y": 2.0, "z": 3.0},
				"tires":    map[string]any{"fl": map[string]any{"pressure": 180.0, "tempMiddle": 95.0}},
				"fuel":     map[string]any{"level": 30.0, "capacity": 110.0},
				"sector":   2.0,
			},
			check: func(t *testing.T, s model.TelemetrySample) {
				if s.TsMs != 1500 {
					t.Errorf("TsMs = %d", s.TsMs)
				}
				if s.Position != (model.Vec3{X: 1, Y: 2, Z: 3}) {
					t.Errorf("Position = %+v", s.Position)
				}
				if s.Tires.FrontLeft.Pressure != 180 || s.Tires.FrontLeft.TempMiddle != 95 {
					t.Errorf("FrontLeft = %+v", s.Tires.FrontLeft)
				}
				if s.Tires.RearRight.Pressure != DefaultTirePressure {
					t.Errorf("RearRight pressure = %v", s.Tires.RearRight.Pressure)
				}
				if math.Abs(s.Fuel.Fraction-30.0/110.0) > 1e-9 {
					t.Errorf("Fuel.Fraction = %v", s.Fuel.Fraction)
				}
				if s.Sector != 2 {
					t.Errorf("Sector = %d", s.Sector)
				}
			},
		},
		{
			name: "simulator capitalised",
			raw: map[string]any{
				"SessionTime": 12.5,
				"LFtempCL":    88.0, "LFtempCM": 90.0, "LFtempCR": 92.0, "LFpress": 165.0,
				"LatAccel":     standardG * 2,
				"FuelLevelPct": 0.4,
			},
			check: func(t *testing.T, s model.TelemetrySample) {
				if s.TsMs != 12500 {
					t.Errorf("TsMs = %d, want 12500", s.TsMs)
				}
				fl := s.Tires.FrontLeft
				if fl.TempLeft != 88 || fl.TempMiddle != 90 || fl.TempRight != 92 || fl.Pressure != 165 {
					t.Errorf("FrontLeft = %+v", fl)
				}
				if math.Abs(s.GForce.Lateral-2) > 1e-9 {
					t.Errorf("GForce.Lateral = %v, want 2", s.GForce.Lateral)
				}
				if s.Fuel.Fraction != 0.4 {
					t.Errorf("Fuel.Fraction = %v", s.Fuel.Fraction)
				}
			},
		},
		{
			name: "live timing standings",
			raw: map[string]any{
				"carPosition":   map[string]any{"x": -10.0, "y": 0.5, "z": 42.0},
				"carVelocity":   map[string]any{"velocity": 55.0},
				"lapsCompleted": 4.0,
				"sector":        "SECTOR3",
				"fuelFraction":  0.75,
				"drsActive":     true,
			},
			check: func(t *testing.T, s model.TelemetrySample) {
				if s.Position.X != -10 || s.Position.Z != 42 {
					t.Errorf("Position = %+v", s.Position)
				}
				if s.Speed != 55 || s.Lap != 4 || s.Sector != 3 {
					t.Errorf("speed=%v lap=%d sector=%d", s.Speed, s.Lap, s.Sector)
				}
				if !s.Energy.DrsActive || s.Fuel.Fraction != 0.75 {
					t.Errorf("energy=%+v fuel=%+v", s.Energy, s.Fuel)
				}
			},
		},
		{
			name: "string and json.Number values",
			raw:  map[string]any{"speedKmh": "360", "gear": json.Number("8")},
			check: func(t *testing.T, s model.TelemetrySample) {
				if math.Abs(s.Speed-100) > 1e-9 {
					t.Errorf("Speed = %v, want 100", s.Speed)
				}
				if s.Gear != 8 {
					t.Errorf("Gear = %d", s.Gear)
				}
			},
		},
		{
			name: "unknown fields go to extra",
			raw:  map[string]any{"speed": 1.0, "waterTemp": 91.0, "compound": "soft"},
			check: func(t *testing.T, s model.TelemetrySample) {
				if len(s.Extra) != 2 || s.Extra["waterTemp"] != 91.0 || s.Extra["compound"] != "soft" {
					t.Errorf("Extra = %v", s.Extra)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Normalize(Input{SessionID: "S", Raw: tt.raw})
			if err != nil {
				t.Fatalf("Normalize: %v", err)
			}
			tt.check(t, s)
		})
	}
}

func TestNormalize_FallbackTimestamp(t *testing.T) {
	s, err := Normalize(Input{SessionID: "S", FallbackTsMs: 777})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if s.TsMs != 777 {
		t.Errorf("TsMs = %d, want 777", s.TsMs)
	}
}

// Every subset of known aliases must still produce complete tire/fuel/energy blocks.
func TestNormalize_TotalityOverAliasSubsets(t *testing.T) {
	keys := []string{"Speed", "RPM", "Gear", "LFtempCL", "RRpress", "FuelLevel", "battery", "gLat"}
	for mask := 0; mask < 1<<len(keys); mask++ {
		raw := map[string]any{}
		for i, k := range keys {
			if mask&(1<<i) != 0 {
				raw[k] = float64(i + 1)
			}
		}
		s, err := Normalize(Input{SessionID: "S", Raw: raw})
		if err != nil {
			t.Fatalf("mask %b: %v", mask, err)
		}
		for _, tire := range []model.Tire{s.Tires.FrontLeft, s.Tires.FrontRight, s.Tires.RearLeft, s.Tires.RearRight} {
			if tire.Pressure == 0 || tire.Wear == 0 {
				t.Fatalf("mask %b: incomplete tire %+v", mask, tire)
			}
		}
		again, _ := Normalize(Input{SessionID: "S", Raw: raw})
		if again.Tires != s.Tires || again.Fuel != s.Fuel || again.Energy != s.Energy || again.GForce != s.GForce {
			t.Fatalf("mask %b: defaults not deterministic", mask)
		}
	}
}

func TestNormalize_NonFiniteValuesFallBackToDefaults(t *testing.T) {
	s, err := Normalize(Input{SessionID: "S", Raw: map[string]any{
		"tsMs":         "Inf",
		"speed":        "NaN",
		"Speed":        88.0,
		"rpm":          "-infinity",
		"LFpress":      "+Inf",
		"gLat":         math.NaN(),
		"fuelFraction": math.Inf(1),
	}, FallbackTsMs: 99})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if s.TsMs != 99 {
		t.Errorf("TsMs = %d, want fallback 99", s.TsMs)
	}
	if s.Speed != 88 {
		t.Errorf("Speed = %v, want next alias 88", s.Speed)
	}
	if s.RPM != 0 || s.GForce.Lateral != 0 || s.Fuel.Fraction != DefaultFuelFraction {
		t.Errorf("rpm=%v gLat=%v fuel=%v, want defaults", s.RPM, s.GForce.Lateral, s.Fuel.Fraction)
	}
	if s.Tires.FrontLeft.Pressure != DefaultTirePressure {
		t.Errorf("FrontLeft pressure = %v, want default", s.Tires.FrontLeft.Pressure)
	}
	if _, ok := s.Extra["gLat"]; ok {
		t.Error("non-finite value kept in Extra")
	}
	if _, err := json.Marshal(s); err != nil {
		t.Fatalf("normalized sample does not encode: %v", err)
	}
}

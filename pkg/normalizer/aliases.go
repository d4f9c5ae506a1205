package normalizer

// alias is one source spelling of a canonical field. Path may address nested
// objects with dots ("carVelocity.velocity"). Scale converts the source unit
// into the canonical one (zero means 1).
type alias struct {
	Path  string
	Scale float64
}

func a(path string) alias {
	return alias{Path: path}
}

func scaled(path string, scale float64) alias {
	return alias{Path: path, Scale: scale}
}

const (
	msPerSecond = 1000.0
	kmhToMs     = 1 / 3.6
	mphToMs     = 0.44704
	standardG   = 9.80665
	// rFactor2 reports heading in radians, iRacing yaw as well.
	degPerRad = 57.29577951308232
)

// Canonical names come first in every list; the first present value wins.
var (
	sessionAliases = []alias{a("sessionId"), a("session_id"), a("SessionId"), a("SessionID"), a("sessionID")}
	driverAliases  = []alias{a("driverId"), a("driver_id"), a("DriverId"), a("DriverID"), a("driverName"), a("DriverName"), a("playerName")}

	tsMsAliases = []alias{
		a("tsMs"), a("ts_ms"), a("timestampMs"), a("ts"), a("timestamp"),
		scaled("SessionTime", msPerSecond), scaled("sessionTime", msPerSecond),
		scaled("currentEventTime", msPerSecond), scaled("elapsedTime", msPerSecond),
	}

	speedAliases = []alias{
		a("speed"), a("Speed"), a("carVelocity.velocity"), a("speedMs"),
		scaled("speedKmh", kmhToMs), scaled("SpeedKmh", kmhToMs), scaled("speedMph", mphToMs),
	}
	headingAliases = []alias{
		a("heading"), a("Heading"),
		scaled("Yaw", degPerRad), scaled("YawNorth", degPerRad), scaled("yaw", degPerRad),
	}
	throttleAliases = []alias{a("throttle"), a("Throttle"), a("gas"), a("unfilteredThrottle"), a("ThrottleRaw")}
	brakeAliases    = []alias{a("brake"), a("Brake"), a("unfilteredBrake"), a("BrakeRaw")}
	gearAliases     = []alias{a("gear"), a("Gear")}
	rpmAliases      = []alias{a("rpm"), a("RPM"), a("engineRPM"), a("engineRpm"), a("EngineRPM")}
	lapAliases      = []alias{a("lap"), a("Lap"), a("lapsCompleted"), a("LapCompleted"), a("completedLaps")}
	sectorAliases   = []alias{a("sector"), a("Sector"), a("currentSector"), a("CurrentSector")}

	posXAliases = []alias{a("position.x"), a("carPosition.x"), a("x"), a("posX"), a("PosX"), a("worldPositionX")}
	posYAliases = []alias{a("position.y"), a("carPosition.y"), a("y"), a("posY"), a("PosY"), a("worldPositionY")}
	posZAliases = []alias{a("position.z"), a("carPosition.z"), a("z"), a("posZ"), a("PosZ"), a("worldPositionZ")}

	fuelLevelAliases    = []alias{a("fuel.level"), a("fuelLevel"), a("FuelLevel"), a("fuel")}
	fuelCapacityAliases = []alias{a("fuel.capacity"), a("fuelCapacity"), a("FuelCapacity"), a("maxFuel")}
	fuelFractionAliases = []alias{a("fuel.fraction"), a("fuelFraction"), a("FuelLevelPct")}

	batteryAliases   = []alias{a("energy.batteryFraction"), a("batteryFraction"), a("battery"), a("EnergyERSBatteryPct")}
	deployingAliases = []alias{a("energy.deploying"), a("ersDeploying"), a("EnergyMGU_KLapDeployPct")}
	drsAliases       = []alias{a("energy.drsActive"), a("drsActive"), a("DRS_Status"), a("drs")}

	gLatAliases  = []alias{a("gforce.lat"), a("gLat"), scaled("LatAccel", 1/standardG), scaled("latAccel", 1/standardG), a("carAcceleration.x")}
	gLongAliases = []alias{a("gforce.long"), a("gLong"), scaled("LongAccel", 1/standardG), scaled("longAccel", 1/standardG), a("carAcceleration.z")}
	gVertAliases = []alias{a("gforce.vert"), a("gVert"), scaled("VertAccel", 1/standardG), scaled("vertAccel", 1/standardG), a("carAcceleration.y")}
)

// corner describes the spellings of one wheel position across dialects.
type corner struct {
	canonical string // key under "tires"
	sim       string // capitalised simulator prefix, e.g. LF
	flat      string // camel case suffix, e.g. FL
}

var corners = []corner{
	{canonical: "fl", sim: "LF", flat: "FL"},
	{canonical: "fr", sim: "RF", flat: "FR"},
	{canonical: "rl", sim: "LR", flat: "RL"},
	{canonical: "rr", sim: "RR", flat: "RR"},
}

func (c corner) tempLeft() []alias {
	return []alias{a("tires." + c.canonical + ".tempLeft"), a(c.sim + "tempCL"), a(c.sim + "tempL"), a("tireTempLeft" + c.flat)}
}

func (c corner) tempMiddle() []alias {
	return []alias{a("tires." + c.canonical + ".tempMiddle"), a(c.sim + "tempCM"), a(c.sim + "tempM"), a("tireTemp" + c.flat)}
}

func (c corner) tempRight() []alias {
	return []alias{a("tires." + c.canonical + ".tempRight"), a(c.sim + "tempCR"), a(c.sim + "tempR"), a("tireTempRight" + c.flat)}
}

func (c corner) pressure() []alias {
	return []alias{a("tires." + c.canonical + ".pressure"), a(c.sim + "press"), a(c.sim + "coldPressure"), a("tirePressure" + c.flat)}
}

func (c corner) wear() []alias {
	return []alias{a("tires." + c.canonical + ".wear"), a(c.sim + "wearM"), a("tireWear" + c.flat)}
}

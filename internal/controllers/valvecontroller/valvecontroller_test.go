package valvecontroller

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	trvdb "github.com/thatsimonsguy/trv-controller/db"
	"github.com/thatsimonsguy/trv-controller/internal/motor"
	"github.com/thatsimonsguy/trv-controller/internal/valve"
)

type simMotor struct {
	pos    int
	travel int
}

func (m *simMotor) IsCurrentHigh(valve.MotorDrive) bool { return false }

func (m *simMotor) MotorRun(maxRunTicks uint8, dir valve.MotorDrive, cb valve.CallbackHandler) {
	if dir == valve.MotorOff {
		return
	}
	opening := dir == valve.MotorDriveOpening
	for i := 0; i < int(maxRunTicks); i++ {
		if opening {
			if m.pos == 0 {
				cb.SignalHittingEndStop(true)
				return
			}
			m.pos--
		} else {
			if m.pos == m.travel {
				cb.SignalHittingEndStop(false)
				return
			}
			m.pos++
		}
		cb.SignalRunSCTTick(opening)
	}
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dbConn, err := trvdb.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { dbConn.Close() })
	_, err = dbConn.Exec(`INSERT INTO settings (id) VALUES (1)`)
	require.NoError(t, err)
	return dbConn
}

func TestPollOncePicksUpPersistedTarget(t *testing.T) {
	dbConn := openTestDB(t)
	sim := &simMotor{pos: 500, travel: 1000}
	v := valve.New(sim, func() uint8 { return 0 }, 32, 200)
	clock := motor.NewSubCycleClock()

	// Drive through power-up and calibration into the normal state.
	notified := false
	for i := 0; i < 60 && !v.IsInNormalRunState(); i++ {
		notified = pollOnce(dbConn, v, clock, notified)
		if v.IsWaitingForValveToBeFitted() {
			v.SignalValveFitted()
		}
		require.False(t, v.IsInErrorState())
	}
	require.True(t, v.IsInNormalRunState())

	// Seed default target came through on the way.
	assert.Equal(t, uint8(49), v.TargetPC())

	require.NoError(t, trvdb.UpdateTargetPercent(dbConn, 80))
	for i := 0; i < 40; i++ {
		notified = pollOnce(dbConn, v, clock, notified)
	}
	assert.InDelta(t, 80, int(v.CurrentPC()), 5)
	assert.False(t, notified)
}

func TestStatusSnapshot(t *testing.T) {
	sim := &simMotor{pos: 500, travel: 1000}
	v := valve.New(sim, func() uint8 { return 0 }, 32, 200)

	s := Status(v)
	assert.Equal(t, "init", s.State)
	assert.False(t, s.CallForHeat)
	assert.False(t, s.Proportional, "uncalibrated drive reports binary mode")
}

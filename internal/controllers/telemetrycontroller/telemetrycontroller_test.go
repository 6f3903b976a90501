package telemetrycontroller

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	trvdb "github.com/thatsimonsguy/trv-controller/db"
	"github.com/thatsimonsguy/trv-controller/internal/frame"
	"github.com/thatsimonsguy/trv-controller/internal/radio"
	"github.com/thatsimonsguy/trv-controller/internal/secureframe"
	"github.com/thatsimonsguy/trv-controller/internal/valve"
)

type simMotor struct{}

func (simMotor) IsCurrentHigh(valve.MotorDrive) bool                          { return false }
func (simMotor) MotorRun(uint8, valve.MotorDrive, valve.CallbackHandler) {}

var (
	nodeID = [8]byte{0x81, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77}
	hubID  = [8]byte{0x82, 0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0x01, 0x02}
	key    = [16]byte{0: 1, 15: 16}
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dbConn, err := trvdb.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { dbConn.Close() })
	_, err = dbConn.Exec(`INSERT INTO settings (id) VALUES (1)`)
	require.NoError(t, err)
	return dbConn
}

func newTestController(t *testing.T, withKey bool) (*Controller, *radio.MockLink, *sql.DB) {
	t.Helper()
	dbConn := openTestDB(t)
	link := radio.NewMockLink()
	v := valve.New(simMotor{}, func() uint8 { return 0 }, 32, 200)

	var tx *secureframe.TX
	if withKey {
		tx = secureframe.NewTX(trvdb.NewCounterStore(dbConn), &secureframe.NullEncryptor{}, nodeID, key)
	}
	rx := secureframe.NewRX(trvdb.NewCounterStore(dbConn), trvdb.NewAssociationStore(dbConn), &secureframe.NullDecryptor{})

	return New(link, dbConn, v, nodeID, tx, rx), link, dbConn
}

func TestTelemetryWithoutKeyIsAliveBeacon(t *testing.T) {
	c, link, _ := newTestController(t, false)

	require.NoError(t, c.SendTelemetry())
	frames := link.SentFrames()
	require.Len(t, frames, 1)

	var h frame.Header
	require.NotZero(t, h.Decode(frames[0]))
	assert.False(t, h.IsSecure())
	assert.Equal(t, uint8(frame.TypeAlive), h.FType)
	assert.Zero(t, h.BodyLen)
	assert.NotZero(t, frame.DecodeNonSecure(&h, frames[0]), "beacon CRC must verify")
}

func TestTelemetryWithKeyIsSecureValveFrame(t *testing.T) {
	c, link, _ := newTestController(t, true)

	require.NoError(t, c.SendTelemetry())
	frames := link.SentFrames()
	require.Len(t, frames, 1)

	var h frame.Header
	require.NotZero(t, h.Decode(frames[0]))
	assert.True(t, h.IsSecure())
	assert.Equal(t, frame.TypeBasicSensorOrValve, frame.Type(h.FType&^frame.SecureFlag))
	assert.Equal(t, uint8(txIDLen), h.IDLen())
}

func TestBodyCarriesPercentAndFlags(t *testing.T) {
	c, _, _ := newTestController(t, true)

	body := c.buildBody()
	require.GreaterOrEqual(t, len(body), 2)
	assert.Equal(t, uint8(0), body[0])
	assert.Equal(t, uint8(FlagNonProportional), body[1],
		"uncalibrated drive reports binary mode, no call for heat")
}

func TestHubTargetCommandAcceptedOnce(t *testing.T) {
	c, _, dbConn := newTestController(t, false)
	require.NoError(t, trvdb.PutAssociation(dbConn, hubID, key))

	hubTX := secureframe.NewTX(secureframe.NewMemStore(), &secureframe.NullEncryptor{}, hubID, key)
	var buf [64]byte
	n, err := hubTX.EncodeSecureFrame(buf[:], frame.TypeBasicSensorOrValve, 4, []byte{70, 0})
	require.NoError(t, err)

	c.handleFrame(buf[:n])
	pc, err := trvdb.GetTargetPercent(dbConn)
	require.NoError(t, err)
	assert.Equal(t, uint8(70), pc)

	// A replay of the same frame must not move the target back.
	require.NoError(t, trvdb.UpdateTargetPercent(dbConn, 55))
	c.handleFrame(buf[:n])
	pc, err = trvdb.GetTargetPercent(dbConn)
	require.NoError(t, err)
	assert.Equal(t, uint8(55), pc)
}

func TestHubTargetOutOfRangeIgnored(t *testing.T) {
	c, _, dbConn := newTestController(t, false)
	require.NoError(t, trvdb.PutAssociation(dbConn, hubID, key))

	hubTX := secureframe.NewTX(secureframe.NewMemStore(), &secureframe.NullEncryptor{}, hubID, key)
	var buf [64]byte
	n, err := hubTX.EncodeSecureFrame(buf[:], frame.TypeBasicSensorOrValve, 4, []byte{200, 0})
	require.NoError(t, err)

	c.handleFrame(buf[:n])
	pc, err := trvdb.GetTargetPercent(dbConn)
	require.NoError(t, err)
	assert.Equal(t, uint8(49), pc)
}

func TestUnassociatedSenderRejected(t *testing.T) {
	c, _, dbConn := newTestController(t, false)

	hubTX := secureframe.NewTX(secureframe.NewMemStore(), &secureframe.NullEncryptor{}, hubID, key)
	var buf [64]byte
	n, err := hubTX.EncodeSecureFrame(buf[:], frame.TypeBasicSensorOrValve, 4, []byte{70, 0})
	require.NoError(t, err)

	c.handleFrame(buf[:n])
	pc, err := trvdb.GetTargetPercent(dbConn)
	require.NoError(t, err)
	assert.Equal(t, uint8(49), pc)
}

package db

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/trv-controller/internal/model"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dbConn, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { dbConn.Close() })
	require.NoError(t, applySchema(dbConn))
	_, err = dbConn.Exec(`INSERT INTO settings (id) VALUES (1)`)
	require.NoError(t, err)
	return dbConn
}

func TestHouseCodeRoundTrip(t *testing.T) {
	dbConn := openTestDB(t)

	hc, err := GetHouseCode(dbConn)
	require.NoError(t, err)
	assert.Nil(t, hc, "unpaired unit has no house code")

	require.NoError(t, UpdateHouseCode(dbConn, model.HouseCode{HC1: 13, HC2: 74}))

	hc, err = GetHouseCode(dbConn)
	require.NoError(t, err)
	require.NotNil(t, hc)
	assert.Equal(t, uint8(13), hc.HC1)
	assert.Equal(t, uint8(74), hc.HC2)

	require.NoError(t, ClearHouseCode(dbConn))
	hc, err = GetHouseCode(dbConn)
	require.NoError(t, err)
	assert.Nil(t, hc)
}

func TestHouseCodeRangeRejected(t *testing.T) {
	dbConn := openTestDB(t)
	assert.Error(t, UpdateHouseCode(dbConn, model.HouseCode{HC1: 100, HC2: 0}))
}

func TestTargetPercentRoundTrip(t *testing.T) {
	dbConn := openTestDB(t)

	pc, err := GetTargetPercent(dbConn)
	require.NoError(t, err)
	assert.Equal(t, uint8(49), pc, "seed default is below call-for-heat")

	require.NoError(t, UpdateTargetPercent(dbConn, 85))
	pc, err = GetTargetPercent(dbConn)
	require.NoError(t, err)
	assert.Equal(t, uint8(85), pc)

	assert.Error(t, UpdateTargetPercent(dbConn, 101))
}

func TestCounterStore(t *testing.T) {
	dbConn := openTestDB(t)
	store := NewCounterStore(dbConn)

	data, err := store.Load("tx_primary")
	require.NoError(t, err)
	assert.Nil(t, data, "unwritten slot reads as erased")

	require.NoError(t, store.Update("tx_primary", []byte{0xfe, 0xfd, 0xfc, 0x81}))
	data, err = store.Load("tx_primary")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xfe, 0xfd, 0xfc, 0x81}, data)

	// Overwrite sticks.
	require.NoError(t, store.Update("tx_primary", []byte{0x01}))
	data, err = store.Load("tx_primary")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01}, data)
}

func TestAssociationStorePrefixLookup(t *testing.T) {
	dbConn := openTestDB(t)

	idA := [8]byte{0x81, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	idB := [8]byte{0x81, 0x02, 0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}
	idC := [8]byte{0x99, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	key := [16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}

	require.NoError(t, PutAssociation(dbConn, idA, key))
	require.NoError(t, PutAssociation(dbConn, idB, key))
	require.NoError(t, PutAssociation(dbConn, idC, key))

	store := NewAssociationStore(dbConn)

	all, err := store.CandidatesByPrefix(nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	matches, err := store.CandidatesByPrefix([]byte{0x81, 0x02})
	require.NoError(t, err)
	assert.Len(t, matches, 2)

	matches, err = store.CandidatesByPrefix([]byte{0x81, 0x02, 0x03, 0x04})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, idA, matches[0].ID)
	assert.Equal(t, key, matches[0].Key)

	require.NoError(t, DeleteAssociation(dbConn, idA))
	matches, err = store.CandidatesByPrefix([]byte{0x81, 0x02, 0x03, 0x04})
	require.NoError(t, err)
	assert.Empty(t, matches)
}

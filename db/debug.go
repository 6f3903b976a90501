package db

import (
	"github.com/thatsimonsguy/trv-controller/internal/model"
)

func SetHouseCodeCLI(dbPath string, hc1, hc2 uint8) error {
	dbConn, err := Open(dbPath)
	if err != nil {
		return err
	}
	defer dbConn.Close()
	return UpdateHouseCode(dbConn, model.HouseCode{HC1: hc1, HC2: hc2})
}

func SetTargetPercentCLI(dbPath string, pc uint8) error {
	dbConn, err := Open(dbPath)
	if err != nil {
		return err
	}
	defer dbConn.Close()
	return UpdateTargetPercent(dbConn, pc)
}

func PutAssociationCLI(dbPath string, id [8]byte, key [16]byte) error {
	dbConn, err := Open(dbPath)
	if err != nil {
		return err
	}
	defer dbConn.Close()
	return PutAssociation(dbConn, id, key)
}

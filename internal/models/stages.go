package models

import (
	"fmt"
	"strconv"
)

// ShipmentStage is the ordinal position of a token's physical movement,
// mirrored from the on-chain supply chain contract. The numeric values match
// the contract's stage enum and must not be reordered.
type ShipmentStage uint8

const (
	StageCreated ShipmentStage = iota
	StageInProduction
	StageManufactured
	StageInTransit
	StageDelivered
	StageForSale
	StageSold
	StageReturned
	StageRecalled
)

var stageNames = [...]string{
	"Created",
	"InProduction",
	"Manufactured",
	"InTransit",
	"Delivered",
	"ForSale",
	"Sold",
	"Returned",
	"Recalled",
}

func (s ShipmentStage) String() string {
	if int(s) < len(stageNames) {
		return stageNames[s]
	}
	return "Unknown"
}

// ParseShipmentStage accepts either a stage name or its ordinal as a string.
// The gateway reports stages numerically; API callers use names.
func ParseShipmentStage(name string) (ShipmentStage, error) {
	for i, n := range stageNames {
		if n == name {
			return ShipmentStage(i), nil
		}
	}
	if i, err := strconv.Atoi(name); err == nil && i >= 0 && i < len(stageNames) {
		return ShipmentStage(i), nil
	}
	return 0, fmt.Errorf("unknown shipment stage: %q", name)
}

// ShipmentEvent is one entry in a token's on-chain movement history.
type ShipmentEvent struct {
	TokenID     string        `json:"token_id"`
	Stage       ShipmentStage `json:"stage"`
	StageName   string        `json:"stage_name"`
	Location    string        `json:"location,omitempty"`
	BlockNumber int64         `json:"block_number"`
	Timestamp   int64         `json:"timestamp"`
}

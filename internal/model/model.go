package model

import "github.com/LeonardoBeccarini/irrigation_scheduler/internal/model/entities"

// Aliases for the types the transport adapters pass around.

type (
	Field     = entities.Field
	ValveMode = entities.ValveMode
)

const (
	ValveOff  = entities.ValveOff
	ValveOn   = entities.ValveOn
	ValveAuto = entities.ValveAuto
)

package hvac

import "strings"

// DeriveMode maps unit settings to a Home Assistant climate mode
func DeriveMode(s Settings) string {
	if !s.IsOn() {
		return HAModeOff
	}

	switch mode := strings.ToLower(s.Mode); mode {
	case "fan":
		return HAModeFanOnly
	case "auto":
		return HAModeHeatCool
	default:
		// cool, heat, dry map directly
		return mode
	}
}

// DeriveAction maps unit settings and status to a Home Assistant climate action.
//
// In auto mode the unit only says it is operating, not which way, so the
// direction is inferred from room temperature against the set point. When
// the two are equal the action stays unresolved and the raw mode is returned.
func DeriveAction(st Status, s Settings) string {
	if !s.IsOn() {
		return ActionOff
	}

	mode := strings.ToLower(s.Mode)
	switch {
	case mode == "fan":
		return ActionFan
	case !st.Operating:
		return ActionIdle
	case mode == "auto":
		switch {
		case st.RoomTemperature > s.Temperature:
			return ActionCooling
		case st.RoomTemperature < s.Temperature:
			return ActionHeating
		default:
			return mode
		}
	case mode == "cool":
		return ActionCooling
	case mode == "heat":
		return ActionHeating
	case mode == "dry":
		return ActionDrying
	default:
		return mode
	}
}

// OptimisticAction is the action shown right after a mode command, before the unit reports back
func OptimisticAction(haMode string) string {
	switch haMode {
	case HAModeOff:
		return ActionOff
	case HAModeHeatCool:
		return ActionIdle
	case HAModeHeat:
		return ActionHeating
	case HAModeCool:
		return ActionCooling
	case HAModeDry:
		return ActionDrying
	case HAModeFanOnly:
		return ActionFan
	default:
		return ActionIdle
	}
}

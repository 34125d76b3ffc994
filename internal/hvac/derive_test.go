package hvac

import "testing"

func TestDeriveModeAndAction(t *testing.T) {
	tests := []struct {
		name       string
		settings   Settings
		status     Status
		wantMode   string
		wantAction string
	}{
		{
			name:       "power off wins over everything",
			settings:   Settings{Power: PowerOff, Mode: ModeCool, Temperature: 22},
			status:     Status{RoomTemperature: 30, Operating: true},
			wantMode:   HAModeOff,
			wantAction: ActionOff,
		},
		{
			name:       "auto above set point cools",
			settings:   Settings{Power: PowerOn, Mode: ModeAuto, Temperature: 22},
			status:     Status{RoomTemperature: 24, Operating: true},
			wantMode:   HAModeHeatCool,
			wantAction: ActionCooling,
		},
		{
			name:       "auto below set point heats",
			settings:   Settings{Power: PowerOn, Mode: ModeAuto, Temperature: 22},
			status:     Status{RoomTemperature: 20, Operating: true},
			wantMode:   HAModeHeatCool,
			wantAction: ActionHeating,
		},
		{
			name:       "auto at set point stays unresolved",
			settings:   Settings{Power: PowerOn, Mode: ModeAuto, Temperature: 22},
			status:     Status{RoomTemperature: 22, Operating: true},
			wantMode:   HAModeHeatCool,
			wantAction: "auto",
		},
		{
			name:       "fan ignores operating flag",
			settings:   Settings{Power: PowerOn, Mode: ModeFan, Temperature: 22},
			status:     Status{RoomTemperature: 25, Operating: false},
			wantMode:   HAModeFanOnly,
			wantAction: ActionFan,
		},
		{
			name:       "fan while operating",
			settings:   Settings{Power: PowerOn, Mode: ModeFan},
			status:     Status{Operating: true},
			wantMode:   HAModeFanOnly,
			wantAction: ActionFan,
		},
		{
			name:       "not operating is idle",
			settings:   Settings{Power: PowerOn, Mode: ModeHeat, Temperature: 22},
			status:     Status{RoomTemperature: 22, Operating: false},
			wantMode:   HAModeHeat,
			wantAction: ActionIdle,
		},
		{
			name:       "cool operating",
			settings:   Settings{Power: PowerOn, Mode: ModeCool},
			status:     Status{Operating: true},
			wantMode:   HAModeCool,
			wantAction: ActionCooling,
		},
		{
			name:       "heat operating",
			settings:   Settings{Power: PowerOn, Mode: ModeHeat},
			status:     Status{Operating: true},
			wantMode:   HAModeHeat,
			wantAction: ActionHeating,
		},
		{
			name:       "dry operating",
			settings:   Settings{Power: PowerOn, Mode: ModeDry},
			status:     Status{Operating: true},
			wantMode:   HAModeDry,
			wantAction: ActionDrying,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeriveMode(tt.settings); got != tt.wantMode {
				t.Errorf("DeriveMode() = %q, want %q", got, tt.wantMode)
			}
			if got := DeriveAction(tt.status, tt.settings); got != tt.wantAction {
				t.Errorf("DeriveAction() = %q, want %q", got, tt.wantAction)
			}
		})
	}
}

func TestOptimisticAction(t *testing.T) {
	tests := map[string]string{
		HAModeOff:      ActionOff,
		HAModeHeatCool: ActionIdle,
		HAModeHeat:     ActionHeating,
		HAModeCool:     ActionCooling,
		HAModeDry:      ActionDrying,
		HAModeFanOnly:  ActionFan,
	}
	for mode, want := range tests {
		if got := OptimisticAction(mode); got != want {
			t.Errorf("OptimisticAction(%q) = %q, want %q", mode, got, want)
		}
	}
}

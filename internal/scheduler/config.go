package scheduler

import (
	"fmt"

	"github.com/noah-isme/timetable-api/pkg/config"
)

// OptionsFromConfig maps service configuration onto engine options. Empty grid labels keep defaults.
func OptionsFromConfig(cfg config.SchedulerConfig) (Options, error) {
	opts := DefaultOptions()
	if cfg.Policy != "" {
		policy, err := ParsePolicy(cfg.Policy)
		if err != nil {
			return opts, err
		}
		opts.Policy = policy
	}
	if cfg.TimeBudget > 0 {
		opts.TimeBudget = cfg.TimeBudget
	}
	opts.OffHoursPenalty = int64(cfg.OffHoursPenalty)
	opts.OrderingPenalty = int64(cfg.OrderingPenalty)
	if cfg.WeightFixed != 0 || cfg.WeightMandatory != 0 || cfg.WeightElective != 0 {
		opts.Weights = Weights{
			Fixed:     int64(cfg.WeightFixed),
			Mandatory: int64(cfg.WeightMandatory),
			Elective:  int64(cfg.WeightElective),
		}
	}
	if cfg.MaxSessionSlots > 0 {
		opts.MaxSessionSlots = cfg.MaxSessionSlots
	}
	opts.RequireFixed = cfg.RequireFixed
	opts.Workers = cfg.CandidateWorkers

	overrideLabel(&opts.Grid.DayStart, cfg.DayStart)
	overrideLabel(&opts.Grid.DayEnd, cfg.DayEnd)
	overrideLabel(&opts.Grid.LunchStart, cfg.LunchStart)
	overrideLabel(&opts.Grid.LunchEnd, cfg.LunchEnd)
	overrideLabel(&opts.Grid.WindowStart, cfg.WindowStart)
	overrideLabel(&opts.Grid.WindowEnd, cfg.WindowEnd)

	if err := opts.Validate(); err != nil {
		return opts, fmt.Errorf("scheduler config: %w", err)
	}
	return opts, nil
}

func overrideLabel(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

package icron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Parser accepts standard five-field expressions, an optional leading
// seconds field, and descriptors such as @daily.
var Parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour |
	cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type TriggerInfo struct {
	Next       time.Time
	Last       time.Time
	Expression string

	TimeSinceLast time.Duration
	TimeUntilNext time.Duration
}

func Parse(cronExpr string) (cron.Schedule, error) {
	schedule, err := Parser.Parse(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}
	return schedule, nil
}

// GetTriggerInfo reports the next and the most recent fire time around
// refTime. Last is zero when the schedule did not fire in the past year.
func GetTriggerInfo(cronExpr string, refTime time.Time) (*TriggerInfo, error) {
	schedule, err := Parse(cronExpr)
	if err != nil {
		return nil, err
	}

	info := &TriggerInfo{
		Expression: cronExpr,
		Next:       schedule.Next(refTime),
	}
	info.TimeUntilNext = info.Next.Sub(refTime)

	// Walk back an hour at a time until a fire time lands at or before
	// refTime, then walk forward to the latest such time.
	for i := 1; i <= 366*24; i++ {
		candidate := schedule.Next(refTime.Add(-time.Duration(i) * time.Hour))
		if candidate.After(refTime) {
			continue
		}
		for {
			next := schedule.Next(candidate)
			if next.After(refTime) {
				break
			}
			candidate = next
		}
		info.Last = candidate
		info.TimeSinceLast = refTime.Sub(candidate)
		break
	}
	return info, nil
}

package pipeline

type outcome int

const (
	outcomeOK outcome = iota
	// outcomeDegraded means the stage failed but the job continues on a
	// fallback path.
	outcomeDegraded
	// outcomeFatal fails the job.
	outcomeFatal
)

func (o outcome) String() string {
	switch o {
	case outcomeOK:
		return "ok"
	case outcomeDegraded:
		return "degraded"
	case outcomeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

type stageResult struct {
	outcome outcome
	err     error
}

func ok() stageResult {
	return stageResult{outcome: outcomeOK}
}

func degraded(err error) stageResult {
	return stageResult{outcome: outcomeDegraded, err: err}
}

func fatal(err error) stageResult {
	return stageResult{outcome: outcomeFatal, err: err}
}

type stage struct {
	name string
	run  func() stageResult
}

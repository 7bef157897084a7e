package server

// Outcome is the machine-checkable result of a lifecycle operation.
type Outcome string

const (
	OutcomeStarted            Outcome = "started"
	OutcomeStartedUnconfirmed Outcome = "started_unconfirmed"
	OutcomeAlreadyRunning     Outcome = "already_running"
	OutcomeNoRunnableTarget   Outcome = "no_runnable_target"
	OutcomeStopped            Outcome = "stopped"
	OutcomeNotRunning         Outcome = "not_running"
)

var outcomeMessages = map[Outcome]string{
	OutcomeStarted:            "Started.",
	OutcomeStartedUnconfirmed: "Started (pid pending).",
	OutcomeAlreadyRunning:     "Already running.",
	OutcomeNoRunnableTarget:   "No server jar found. Try reinstalling or check the server pack.",
	OutcomeStopped:            "Stopped.",
	OutcomeNotRunning:         "Not running.",
}

// Message returns the operator-facing text for o.
func (o Outcome) Message() string {
	if msg, ok := outcomeMessages[o]; ok {
		return msg
	}
	return string(o)
}

// ConfirmPhase names the step of pid confirmation that produced a result.
type ConfirmPhase string

const (
	PhasePoll ConfirmPhase = "poll"
	PhaseScan ConfirmPhase = "scan"
)

// ConfirmOutcome distinguishes "found", "may still appear later" and "could not
// look".
type ConfirmOutcome string

const (
	ConfirmPolled          ConfirmOutcome = "polled"
	ConfirmScanned         ConfirmOutcome = "scanned"
	ConfirmTimedOut        ConfirmOutcome = "timed_out"
	ConfirmNotFound        ConfirmOutcome = "not_found"
	ConfirmScanUnavailable ConfirmOutcome = "scan_unavailable"
)

// ConfirmResult is the outcome of one confirmation phase.
type ConfirmResult struct {
	PID     int            `json:"pid,omitempty"`
	Source  ConfirmPhase   `json:"source"`
	Outcome ConfirmOutcome `json:"outcome"`
}

// Confirmed reports whether a live pid was found.
func (c ConfirmResult) Confirmed() bool {
	return c.PID > 0 && (c.Outcome == ConfirmPolled || c.Outcome == ConfirmScanned)
}

// StartResult describes a Start call.
type StartResult struct {
	Outcome Outcome       `json:"outcome"`
	PID     int           `json:"pid,omitempty"`
	Target  *Target       `json:"target,omitempty"`
	Confirm ConfirmResult `json:"confirm"`
}

func (r StartResult) Message() string { return r.Outcome.Message() }

// StopResult describes a Stop call.
type StopResult struct {
	Outcome Outcome `json:"outcome"`
	PID     int     `json:"pid,omitempty"`
	Forced  bool    `json:"forced,omitempty"`
}

func (r StopResult) Message() string { return r.Outcome.Message() }

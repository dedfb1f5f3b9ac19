package calls

// Action is what the telephony layer should do next.
type Action string

const (
	// ActionRecord resumes recording without playing anything.
	ActionRecord Action = "record"
	// ActionPlayRecord plays Audio and then resumes recording.
	ActionPlayRecord Action = "play_record"
	// ActionPlayHangup plays Audio and then ends the call.
	ActionPlayHangup Action = "play_hangup"
	// ActionHangup ends the call.
	ActionHangup Action = "hangup"
)

// Instruction is the next step for the telephony layer.
type Instruction struct {
	Action Action
	CallID string
	// Audio is the absolute path of the artifact to play.
	Audio string
	// Beep asks the caller to speak again with a tone before recording.
	Beep bool
}

func record(callID string) Instruction {
	return Instruction{Action: ActionRecord, CallID: callID}
}

package prompt

import (
	_ "embed"
	"strings"

	statex "github.com/fitlabs/respond-agent/agent/state"
)

var (
	//go:embed template/system_none.txt
	systemNoneRaw string

	//go:embed template/system_first_training.txt
	systemFirstTrainingRaw string

	//go:embed template/system_no_activity.txt
	systemNoActivityRaw string

	//go:embed template/system_program_finished.txt
	systemProgramFinishedRaw string

	//go:embed template/system_payment_due.txt
	systemPaymentDueRaw string

	//go:embed template/user.txt
	userRaw string

	//go:embed template/humanizer.txt
	humanizerRaw string
)

// Set holds the raw prompt templates, one system template per trigger type.
type Set struct {
	System    map[statex.TriggerType]string
	User      string
	Humanizer string
}

// LoadSet returns the embedded templates with surrounding whitespace trimmed.
// Safe to call concurrently; the embed is compile-time and trimming is cheap.
func LoadSet() Set {
	return Set{
		System: map[statex.TriggerType]string{
			statex.TriggerNone:            strings.TrimSpace(systemNoneRaw),
			statex.TriggerFirstTraining:   strings.TrimSpace(systemFirstTrainingRaw),
			statex.TriggerNoActivity:      strings.TrimSpace(systemNoActivityRaw),
			statex.TriggerProgramFinished: strings.TrimSpace(systemProgramFinishedRaw),
			statex.TriggerPaymentDue:      strings.TrimSpace(systemPaymentDueRaw),
		},
		User:      strings.TrimSpace(userRaw),
		Humanizer: strings.TrimSpace(humanizerRaw),
	}
}

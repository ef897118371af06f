package flow

// State tags a conversation's position in the mailing dialogue. Exactly one
// state per conversation at any time; every input in a given state maps to
// exactly one next state.
type State string

const (
	StateStart          State = "start"
	StateConfirmReuse   State = "confirm_reuse_list"
	StateCollectList    State = "collect_list"
	StateCollectMessage State = "collect_message"
	StateConfirmSend    State = "confirm_send"
)

// Input vocabulary. Matching is case-insensitive and exact.
const (
	wordNewMailing = "new mailing"
	wordYes        = "yes"
	wordNo         = "no"
	wordSend       = "send"
	wordCancel     = "cancel"

	cmdStart  = "/start"
	cmdCancel = "/cancel"
)

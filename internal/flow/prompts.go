package flow

import "strings"

// Prompt is one outbound message to the operator. ReplyOptions are rendered
// by the transport as suggested replies (Telegram reply keyboard).
type Prompt struct {
	Text         string
	ReplyOptions []string
}

var (
	promptWelcome = Prompt{
		Text:         "Hi, I am a mailing bot. Start a new mailing when you are ready.",
		ReplyOptions: []string{"New mailing"},
	}
	promptEnterList = Prompt{
		Text: "Enter the recipient list, one recipient per line.",
	}
	promptNoPreviousList = Prompt{
		Text: "I have no list from a previous mailing, so it has to be entered from scratch.",
	}
	promptEnterMessage = Prompt{
		Text: "Enter the message to send.",
	}
	promptConfirmSend = Prompt{
		Text:         "Confirm sending the message.",
		ReplyOptions: []string{"Send", "Cancel"},
	}
	promptSending   = Prompt{Text: "Sending the message."}
	promptCancelled = Prompt{Text: "Mailing cancelled."}
	promptReset     = Prompt{Text: "Back to the start."}

	promptUnrecognizedCommand = Prompt{Text: "I could not recognize that command, try again."}
	promptUnrecognizedYesNo   = Prompt{Text: "I could not recognize that, reply \"yes\" or \"no\"."}
	promptUnrecognizedConfirm = Prompt{Text: "I could not recognize that, reply \"send\" or \"cancel\"."}
	promptBadList             = Prompt{Text: "I could not parse the recipient list. Try again."}
	promptBadMessage          = Prompt{Text: "I could not parse the message. Try again."}
)

func promptReuseList(users []string) Prompt {
	return Prompt{
		Text:         "The list from the previous mailing:\n" + strings.Join(users, "\n") + "\nUse the same recipient list?",
		ReplyOptions: []string{"Yes", "No"},
	}
}

func promptListEcho(users []string) Prompt {
	return Prompt{Text: "Recognized the recipient list:\n" + strings.Join(users, "\n")}
}

func promptMessageEcho(text string) Prompt {
	return Prompt{Text: "Recognized the message:\n\n" + text}
}

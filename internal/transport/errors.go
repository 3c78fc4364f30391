package transport

import "fmt"

// RemoteError is returned when the backend answers with a failure status
// or a body that carries no usable text.
type RemoteError struct {
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	if e.Status == 0 {
		return e.Message
	}
	return fmt.Sprintf("remote error (status %d): %s", e.Status, e.Message)
}

const (
	fallbackErrorMessage  = "Sorry, something went wrong while contacting the assistant."
	fallbackVoiceMessage  = "Sorry, the voice request could not be processed."
	unreadableReplyReason = "The assistant returned a response that could not be read."
)

package uploads

import "fmt"

// Reason classifies why an upload payload was refused.
type Reason string

const (
	ReasonTooLarge        Reason = "too large"
	ReasonUnsupportedType Reason = "unsupported type"
	ReasonMissingFile     Reason = "missing file"
	ReasonStorageFull     Reason = "storage full"
)

// RejectError is returned when the link is fine but the payload is not. The
// link stays pending so the client can try again.
type RejectError struct {
	Reason Reason
	Detail string
}

func (e *RejectError) Error() string {
	if e.Detail == "" {
		return "upload rejected: " + string(e.Reason)
	}
	return fmt.Sprintf("upload rejected: %s: %s", e.Reason, e.Detail)
}

func reject(reason Reason, format string, args ...any) error {
	return &RejectError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

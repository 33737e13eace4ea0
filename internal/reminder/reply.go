package reminder

import (
	"strings"

	"github.com/mvail/frontdesk/internal/domain"
)

// ParseReply extracts a confirm or cancel instruction from a reminder
// reply. Accepted forms are "CONFIRM <appointmentId>" and
// "CANCEL <appointmentId>", case-insensitive, anywhere in the text.
func ParseReply(text string) (domain.ActionKind, string, bool) {
	fields := strings.Fields(text)
	for i, f := range fields {
		var kind domain.ActionKind
		switch strings.ToUpper(strings.Trim(f, ".,!:;")) {
		case "CONFIRM":
			kind = domain.ActionConfirm
		case "CANCEL":
			kind = domain.ActionCancel
		default:
			continue
		}
		if i+1 >= len(fields) {
			return "", "", false
		}
		id := strings.Trim(fields[i+1], ".,!:;")
		if id == "" {
			return "", "", false
		}
		return kind, id, true
	}
	return "", "", false
}

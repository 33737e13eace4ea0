// Package knowledge loads the clinic knowledge base: doctors, hours,
// services, and FAQ answers for the faq intent.
package knowledge

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mvail/frontdesk/internal/domain"
	"github.com/mvail/frontdesk/internal/logging"
)

// HourRange is a daily working interval in "HH:MM" clinic-local time.
type HourRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Doctor describes a clinic doctor and their weekly working hours.
type Doctor struct {
	ID           string                 `json:"id"`
	Name         string                 `json:"name"`
	Specialty    string                 `json:"specialty,omitempty"`
	CalendarID   string                 `json:"calendarId,omitempty"`
	WorkingHours map[string][]HourRange `json:"workingHours,omitempty"` // "monday" … "sunday"
}

// FAQ is a canned question/answer pair.
type FAQ struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// ClinicInfo is the full knowledge base document.
type ClinicInfo struct {
	ClinicName        string            `json:"clinicName"`
	Address           string            `json:"address,omitempty"`
	Phone             string            `json:"phone,omitempty"`
	Hours             map[string]string `json:"hours,omitempty"`
	Services          []string          `json:"services,omitempty"`
	InsuranceAccepted []string          `json:"insuranceAccepted,omitempty"`
	Doctors           []Doctor          `json:"doctors,omitempty"`
	FAQs              []FAQ             `json:"faqs,omitempty"`
}

// Base provides read access to clinic information.
type Base struct {
	info ClinicInfo
	log  *logging.Logger
}

// Load reads the knowledge base JSON file. A missing file yields an
// empty base, not an error: the agent still answers scheduling intents.
func Load(path string, log *logging.Logger) (*Base, error) {
	b := &Base{log: log.Sub("knowledge")}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			b.log.Warn().Str("path", path).Msg("clinic info not found, faq answers unavailable")
			return b, nil
		}
		return nil, fmt.Errorf("reading clinic info: %w", err)
	}

	if err := json.Unmarshal(data, &b.info); err != nil {
		return nil, fmt.Errorf("parsing clinic info: %w", err)
	}

	b.log.Info().
		Str("clinic", b.info.ClinicName).
		Int("doctors", len(b.info.Doctors)).
		Int("faqs", len(b.info.FAQs)).
		Msg("clinic knowledge loaded")
	return b, nil
}

// NewFromInfo builds a base from an in-memory document (tests).
func NewFromInfo(info ClinicInfo, log *logging.Logger) *Base {
	return &Base{info: info, log: log.Sub("knowledge")}
}

// Info returns the full clinic document.
func (b *Base) Info() ClinicInfo { return b.info }

// DoctorByID returns the doctor with the given ID, or nil.
func (b *Base) DoctorByID(id string) *Doctor {
	for i := range b.info.Doctors {
		if b.info.Doctors[i].ID == id {
			return &b.info.Doctors[i]
		}
	}
	return nil
}

// DoctorByName resolves a doctor by (partial, case-insensitive) name,
// e.g. "Shah" matches "Dr. Anita Shah".
func (b *Base) DoctorByName(name string) *Doctor {
	needle := strings.ToLower(strings.TrimSpace(name))
	if needle == "" {
		return nil
	}
	for i := range b.info.Doctors {
		if strings.Contains(strings.ToLower(b.info.Doctors[i].Name), needle) {
			return &b.info.Doctors[i]
		}
	}
	return nil
}

// WorkingHoursOn returns a doctor's working intervals on the given day,
// resolved to concrete times on that date. Unparseable ranges are
// skipped.
func (d *Doctor) WorkingHoursOn(day time.Time) []domain.TimeWindow {
	name := strings.ToLower(day.Weekday().String())
	ranges := d.WorkingHours[name]
	out := make([]domain.TimeWindow, 0, len(ranges))
	for _, r := range ranges {
		start, err1 := timeOn(day, r.Start)
		end, err2 := timeOn(day, r.End)
		if err1 != nil || err2 != nil || !end.After(start) {
			continue
		}
		out = append(out, domain.TimeWindow{Start: start, End: end})
	}
	return out
}

func timeOn(day time.Time, hhmm string) (time.Time, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, day.Location()), nil
}

// AnswerFAQ returns the best canned answer for a question, matching on
// shared keywords. Empty string means no match.
func (b *Base) AnswerFAQ(question string) string {
	q := strings.ToLower(question)
	best := ""
	bestScore := 0
	for _, faq := range b.info.FAQs {
		score := 0
		for _, w := range strings.Fields(strings.ToLower(faq.Question)) {
			if len(w) > 3 && strings.Contains(q, w) {
				score++
			}
		}
		if score > bestScore {
			bestScore = score
			best = faq.Answer
		}
	}
	return best
}

// ContextPrompt renders clinic information as NLU context, so the
// classifier can resolve doctor names and clinic questions.
func (b *Base) ContextPrompt() string {
	if b.info.ClinicName == "" {
		return ""
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Clinic: %s\n", b.info.ClinicName)
	if len(b.info.Doctors) > 0 {
		sb.WriteString("Doctors:\n")
		for _, d := range b.info.Doctors {
			fmt.Fprintf(&sb, "- %s (%s), id=%s\n", d.Name, d.Specialty, d.ID)
		}
	}
	if len(b.info.Services) > 0 {
		fmt.Fprintf(&sb, "Services: %s\n", strings.Join(b.info.Services, ", "))
	}
	return sb.String()
}

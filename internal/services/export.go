package services

import (
	"bytes"
	"encoding/csv"
	"strconv"
	"time"

	"github.com/soaringjerry/Gatepass/internal/models"
)

var attendanceHeader = []string{
	"participant_id", "full_name", "email", "student_number", "role",
	"registration_status", "confirmation_status", "admission_status",
	"checkin_status", "checkin_timestamp",
	"transport_status", "transport_timestamp",
	"meal_status", "meal_timestamp",
	"task_type", "task_status", "task_timestamp",
}

// ExportAttendanceCSV renders one row per participant with every
// checkpoint flag and timestamp.
func ExportAttendanceCSV(ps []*models.Participant) ([]byte, error) {
	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	if err := w.Write(attendanceHeader); err != nil {
		return nil, err
	}
	for _, p := range ps {
		rec := []string{
			p.ID, p.FullName, p.Email, p.StudentNumber, string(p.Role),
			p.RegistrationStatus, p.ConfirmationStatus, p.AdmissionStatus,
			strconv.FormatBool(p.CheckinStatus), formatTime(p.CheckinAt),
			strconv.FormatBool(p.TransportStatus), formatTime(p.TransportAt),
			strconv.FormatBool(p.MealStatus), formatTime(p.MealAt),
			p.TaskType, strconv.FormatBool(p.TaskStatus), formatTime(p.TaskAt),
		}
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

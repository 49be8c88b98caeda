package services

import (
	"context"
	"fmt"
	"time"

	"github.com/soaringjerry/Gatepass/internal/models"
)

type ExportResult struct {
	Filename    string
	ContentType string
	Data        []byte
}

type ExportService struct {
	store ParticipantReader
	now   func() time.Time
}

func NewExportService(store ParticipantReader) *ExportService {
	return &ExportService{store: store, now: func() time.Time { return time.Now().UTC() }}
}

func (s *ExportService) Attendance(ctx context.Context, filter models.ParticipantFilter) (*ExportResult, error) {
	ps, err := s.store.ListParticipants(ctx, filter)
	if err != nil {
		return nil, ExternalError("list participants", err)
	}
	b, err := ExportAttendanceCSV(ps)
	if err != nil {
		return nil, err
	}
	name := fmt.Sprintf("attendance-%s.csv", s.now().Format("20060102"))
	return &ExportResult{Filename: name, ContentType: "text/csv; charset=utf-8", Data: b}, nil
}

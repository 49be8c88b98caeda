package services

import (
	"context"
	"sort"

	"github.com/soaringjerry/Gatepass/internal/models"
)

type AnalyticsStore interface {
	ListParticipants(ctx context.Context, filter models.ParticipantFilter) ([]*models.Participant, error)
	AttendanceReader
}

type AnalyticsService struct {
	store AnalyticsStore
}

type CheckpointCount struct {
	Event   models.Checkpoint `json:"event_type"`
	Done    int               `json:"done"`
	Pending int               `json:"pending"`
}

type AnalyticsTimeseries struct {
	Date  string `json:"date"`
	Event string `json:"event_type"`
	Count int    `json:"count"`
}

type AnalyticsSummary struct {
	TotalParticipants int                   `json:"total_participants"`
	ByRole            map[string]int        `json:"by_role"`
	Checkpoints       []CheckpointCount     `json:"checkpoints"`
	TaskTypes         map[string]int        `json:"task_types,omitempty"`
	Timeseries        []AnalyticsTimeseries `json:"timeseries"`
	LogEntries        int                   `json:"log_entries"`
}

func NewAnalyticsService(store AnalyticsStore) *AnalyticsService {
	return &AnalyticsService{store: store}
}

// Summary counts checkpoint progress from participant flags, which are
// authoritative, and activity per day from the attendance log.
func (s *AnalyticsService) Summary(ctx context.Context) (*AnalyticsSummary, error) {
	ps, err := s.store.ListParticipants(ctx, models.ParticipantFilter{})
	if err != nil {
		return nil, ExternalError("list participants", err)
	}
	logs, err := s.store.ListAttendance(ctx)
	if err != nil {
		return nil, ExternalError("list attendance", err)
	}
	byRole := map[string]int{}
	taskTypes := map[string]int{}
	counts := make([]CheckpointCount, 0, len(models.Checkpoints))
	for _, cp := range models.Checkpoints {
		counts = append(counts, CheckpointCount{Event: cp})
	}
	for _, p := range ps {
		byRole[string(p.Role)]++
		for i, cp := range models.Checkpoints {
			if done, _ := p.CheckpointState(cp); done {
				counts[i].Done++
			} else {
				counts[i].Pending++
			}
		}
		if p.TaskStatus && p.TaskType != "" {
			taskTypes[p.TaskType]++
		}
	}
	return &AnalyticsSummary{
		TotalParticipants: len(ps),
		ByRole:            byRole,
		Checkpoints:       counts,
		TaskTypes:         taskTypes,
		Timeseries:        buildTimeseries(logs),
		LogEntries:        len(logs),
	}, nil
}

func buildTimeseries(logs []models.AttendanceLog) []AnalyticsTimeseries {
	type key struct{ day, event string }
	counts := map[key]int{}
	for _, l := range logs {
		counts[key{l.Timestamp.UTC().Format("2006-01-02"), l.EventType}]++
	}
	keys := make([]key, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].day != keys[j].day {
			return keys[i].day < keys[j].day
		}
		return keys[i].event < keys[j].event
	})
	out := make([]AnalyticsTimeseries, 0, len(keys))
	for _, k := range keys {
		out = append(out, AnalyticsTimeseries{Date: k.day, Event: k.event, Count: counts[k]})
	}
	return out
}

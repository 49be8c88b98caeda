package api

import "github.com/soaringjerry/Gatepass/internal/services"

// Store is everything the services need from persistence.
type Store interface {
	services.ParticipantStore
	services.IngestStore
	services.TicketStore
	services.CheckpointStore
	services.AttendanceReader
	services.AuthStore
}

var _ Store = (*memoryStore)(nil)

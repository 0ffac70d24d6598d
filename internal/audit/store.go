package audit

import (
	"context"

	"github.com/Relaydeck/Relaydeck/internal/store"
)

// StoreSink mirrors audit entries into the relay database so the
// operator console can answer history queries without the broker.
type StoreSink struct {
	store *store.Store
}

func NewStoreSink(st *store.Store) *StoreSink {
	return &StoreSink{store: st}
}

func (s *StoreSink) Append(_ context.Context, e Entry) error {
	return s.store.AppendAudit(&store.AuditRow{
		At:         e.At,
		TraceID:    e.TraceID,
		ChatJID:    e.ChatJID,
		SenderName: e.SenderName,
		Status:     e.Status,
		Inbound:    e.Inbound,
		Draft:      e.Draft,
		FinalText:  e.Final,
		Detail:     e.Detail,
	})
}

func (s *StoreSink) Close() error { return nil }

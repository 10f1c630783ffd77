package db

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// EventStore is the append-only event log. It exposes no update or delete.
type EventStore struct {
	db *gorm.DB
}

func NewEventStore(db *gorm.DB) *EventStore {
	return &EventStore{db: db}
}

// Record appends e and returns its id. CreatedAt defaults to the server clock.
func (s *EventStore) Record(ctx context.Context, e Event) (uint, error) {
	e.ID = 0
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	e.CreatedAt = normalize(e.CreatedAt)
	if err := s.db.WithContext(ctx).Create(&e).Error; err != nil {
		return 0, err
	}
	return e.ID, nil
}

// Query returns events of the given types (all types when empty) created in
// [start, end], oldest first.
func (s *EventStore) Query(ctx context.Context, types []string, start, end time.Time) ([]Event, error) {
	q := s.db.WithContext(ctx).
		Where("created_at >= ? AND created_at <= ?", normalize(start), normalize(end))
	if len(types) > 0 {
		q = q.Where("event_type IN ?", types)
	}
	var events []Event
	if err := q.Order("created_at, id").Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

// CountByType counts events per type in [start, end], restricted to types.
func (s *EventStore) CountByType(ctx context.Context, types []string, start, end time.Time) (map[string]int64, error) {
	type row struct {
		EventType string
		Count     int64
	}
	q := s.db.WithContext(ctx).Model(&Event{}).
		Where("created_at >= ? AND created_at <= ?", normalize(start), normalize(end))
	if len(types) > 0 {
		q = q.Where("event_type IN ?", types)
	}
	var rows []row
	if err := q.Select("event_type AS event_type, COUNT(*) AS count").
		Group("event_type").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.EventType] = r.Count
	}
	return out, nil
}

// normalize stores and compares timestamps as UTC at second precision, the
// resolution the mirror tables have always used.
func normalize(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

// NullableID maps the "anonymous" id 0 to NULL.
func NullableID(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}

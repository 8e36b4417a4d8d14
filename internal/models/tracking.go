package models

import (
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// eventNamespace: фиксированный namespace для UUIDv5 событий. Менять нельзя:
// от него зависят ID уже сохранённых событий на всех устройствах.
var eventNamespace = uuid.MustParse("5f1d7c1e-3a0b-4c55-9e43-1f0c2b7a8d64")

// EventID is derived from content only, so every device and every poll cycle
// computes the same identity for the same checkpoint.
func EventID(trackingNumber string, ts time.Time, description string) uuid.UUID {
	key := trackingNumber + "|" + strconv.FormatInt(ts.UTC().Unix(), 10) + "|" + description
	return uuid.NewSHA1(eventNamespace, []byte(key))
}

type TrackingEvent struct {
	ID          uuid.UUID `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Status      Status    `json:"status"`
	Description string    `json:"description"`
	Location    string    `json:"location,omitempty"`
}

// NewTrackingEvent заполняет детерминированный ID.
func NewTrackingEvent(trackingNumber string, ts time.Time, status Status, description, location string) TrackingEvent {
	return TrackingEvent{
		ID:          EventID(trackingNumber, ts, description),
		Timestamp:   ts.UTC(),
		Status:      status,
		Description: description,
		Location:    location,
	}
}

// TrackingResult: результат запроса к провайдеру, не сохраняется.
type TrackingResult struct {
	TrackingNumber string
	Carrier        Carrier
	CurrentStatus  Status
	// Events отсортированы от новых к старым.
	Events         []TrackingEvent
	RelationID     string
	StoreName      string
	ServiceType    string
	PickupDeadline string
	RawResponse    string
}

func (r TrackingResult) Latest() (TrackingEvent, bool) {
	if len(r.Events) == 0 {
		return TrackingEvent{}, false
	}
	return r.Events[0], true
}

// MergeEvents объединяет два набора по ID и возвращает их от новых к старым.
// Повторное применение одного и того же набора ничего не меняет.
func MergeEvents(existing, incoming []TrackingEvent) []TrackingEvent {
	seen := make(map[uuid.UUID]struct{}, len(existing)+len(incoming))
	out := make([]TrackingEvent, 0, len(existing)+len(incoming))
	for _, set := range [][]TrackingEvent{existing, incoming} {
		for _, e := range set {
			if _, ok := seen[e.ID]; ok {
				continue
			}
			seen[e.ID] = struct{}{}
			out = append(out, e)
		}
	}
	SortEventsNewestFirst(out)
	return out
}

func SortEventsNewestFirst(events []TrackingEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.After(events[j].Timestamp)
	})
}

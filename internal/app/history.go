package app

import (
	"context"
	"fmt"

	"chatrelay/pkg/domain"
	"chatrelay/pkg/stream"
)

// History resolves what a joining client should see: the cache if it has
// anything, otherwise the last messages from the database, which are then
// backfilled into the cache so later joiners skip the query.
//
// The cache is only an optimization; an always-empty cache still yields
// correct history through the database path.
func (a *App) History(ctx context.Context, roomID int64) ([]domain.Payload, error) {
	cached, err := a.cache.Recent(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if len(cached) > 0 {
		return cached, nil
	}

	var rows []domain.RoomMessage
	err = a.workers.do(ctx, func() error {
		var qerr error
		rows, qerr = a.store.RecentMessages(ctx, roomID, stream.RecentLimit)
		return qerr
	})
	if err != nil {
		return nil, fmt.Errorf("load history for room %d: %w", roomID, err)
	}

	payloads := make([]domain.Payload, 0, len(rows))
	for _, m := range rows {
		payloads = append(payloads, historyPayload(m))
	}
	// Backfill oldest-first: Record prepends, so writing in chronological
	// order leaves the cache stored newest-first, same as live traffic.
	for _, p := range payloads {
		if err := a.cache.Record(ctx, roomID, p); err != nil {
			return nil, err
		}
	}
	return payloads, nil
}

// historyPayload shapes a persisted row as a wire message. Database-sourced
// history carries db_message_id only.
func historyPayload(m domain.RoomMessage) domain.Payload {
	return domain.Payload{
		Type:        domain.PayloadMessage,
		RoomID:      m.RoomID,
		User:        m.User,
		Text:        m.Text,
		Ts:          float64(m.CreatedAt.UnixNano()) / 1e9,
		DBMessageID: m.ID,
	}
}

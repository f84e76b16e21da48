package persistence

import (
	"context"

	"github.com/doug-martin/goqu/v9"
)

// TelegramOffset returns the last processed update_id for the single shared
// Telegram long-poll loop (one bot token per deployment — §4.7).
func (d *DB) TelegramOffset(ctx context.Context) (int64, error) {
	var row struct {
		LastUpdateID int64 `db:"last_update_id"`
	}
	found, err := d.goqu.From("provider_offsets_telegram").Where(goqu.Ex{"id": 1}).ScanStructContext(ctx, &row)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, nil
	}
	return row.LastUpdateID, nil
}

func (d *DB) AdvanceTelegramOffset(ctx context.Context, lastUpdateID int64) error {
	_, err := d.goqu.Update("provider_offsets_telegram").
		Set(goqu.Record{"last_update_id": lastUpdateID}).
		Where(goqu.Ex{"id": 1}).
		Executor().ExecContext(ctx)
	return err
}

// DiscordOffset returns the last seen message id per bound channel, since
// Discord's REST poller (§4.7) tracks progress per binding rather than
// globally.
func (d *DB) DiscordOffset(ctx context.Context, bindingID string) (string, error) {
	var row struct {
		LastMessageID string `db:"last_message_id"`
	}
	found, err := d.goqu.From("provider_offsets_discord").Where(goqu.Ex{"binding_id": bindingID}).ScanStructContext(ctx, &row)
	if err != nil {
		return "", err
	}
	if !found {
		return "0", nil
	}
	return row.LastMessageID, nil
}

func (d *DB) AdvanceDiscordOffset(ctx context.Context, bindingID, lastMessageID string) error {
	_, err := d.goqu.Insert("provider_offsets_discord").
		Rows(goqu.Record{"binding_id": bindingID, "last_message_id": lastMessageID}).
		OnConflict(goqu.DoUpdate("binding_id", goqu.Record{"last_message_id": lastMessageID})).
		Executor().ExecContext(ctx)
	return err
}

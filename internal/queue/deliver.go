package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cleanspace/airquest/internal/models"
	"github.com/cleanspace/airquest/internal/remote"
)

// conflictKeys lists kinds delivered as upserts, keyed by their natural key.
// Redelivery after a lost acknowledgement then overwrites instead of
// duplicating.
var conflictKeys = map[models.ActionKind]string{
	models.KindGameSession:     "session_id",
	models.KindMissionProgress: "user_id,mission_id",
	models.KindAchievement:     "user_id,achievement_id",
}

// RemoteDeliverer writes actions to their table in a remote.Store.
type RemoteDeliverer struct {
	Store remote.Store
}

// NewRemoteDeliverer returns a deliverer backed by s.
func NewRemoteDeliverer(s remote.Store) *RemoteDeliverer {
	return &RemoteDeliverer{Store: s}
}

// Deliver inserts or upserts the action payload.
func (d *RemoteDeliverer) Deliver(ctx context.Context, a models.QueuedAction) error {
	table := a.Kind.Table()
	if table == "" {
		return &remote.Error{Msg: fmt.Sprintf("no table for kind %q", a.Kind), Permanent: true}
	}

	var row remote.Row
	if err := json.Unmarshal(a.Payload, &row); err != nil {
		return &remote.Error{Msg: "decode payload: " + err.Error(), Permanent: true, Err: err}
	}
	// The action id doubles as an idempotency key for append-only tables.
	if _, ok := row["client_action_id"]; !ok {
		row["client_action_id"] = a.ID
	}

	if key, ok := conflictKeys[a.Kind]; ok {
		_, err := d.Store.UpsertRow(ctx, table, row, key)
		return err
	}
	_, err := d.Store.InsertRow(ctx, table, row)
	return err
}

package audit

import (
	"context"

	"github.com/weiawesome/site-journal/pkg/log"
)

// Audit actions.
const (
	ActionSendMessage = "chat.send_message"
	ActionSubscribe   = "chat.subscribe"
	ActionUnsubscribe = "chat.unsubscribe"
	ActionDisconnect  = "chat.disconnect"
	ActionMarkRead    = "chat.mark_read"
	ActionUpload      = "attachment.upload"
)

// Field constants for audit entries.
const (
	FieldAction   = "action"
	FieldTargetID = "target_id"
	FieldDetail   = "detail"
)

// Log emits a structured audit entry via the context logger. targetID is
// usually the object id the action applied to.
func Log(ctx context.Context, action, userID, targetID, msg string) {
	l := log.Ctx(ctx)
	e := l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, userID)
	if targetID != "" {
		e = e.Str(FieldTargetID, targetID)
	}
	e.Msg(msg)
}

// LogWithDetail emits an audit entry with an extra detail field.
func LogWithDetail(ctx context.Context, action, userID, targetID, detail, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, userID).
		Str(FieldTargetID, targetID).
		Str(FieldDetail, detail).
		Msg(msg)
}

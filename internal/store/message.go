package store

import "time"

// UpsertMessage inserts or updates a message (idempotent on local_id).
// A known server id is never cleared by a later write without one.
func (db *DB) UpsertMessage(m *Message) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO messages (local_id, server_id, conversation_id, sender_id, content,
			attachment_ref, created_at, state, fail_reason, updated_at)
		VALUES (?, NULLIF(?, ''), ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(local_id) DO UPDATE SET
			server_id = COALESCE(excluded.server_id, messages.server_id),
			created_at = excluded.created_at,
			state = excluded.state,
			fail_reason = excluded.fail_reason,
			updated_at = excluded.updated_at`,
		m.LocalID, m.ServerID, m.ConversationID, m.SenderID, m.Content,
		m.AttachmentRef, m.CreatedAt, m.State, m.FailReason, now)
	return err
}

// ListMessages returns the newest limit messages of a conversation in
// ascending created_at order.
func (db *DB) ListMessages(conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`
		SELECT local_id, COALESCE(server_id, ''), conversation_id, sender_id, content,
			attachment_ref, created_at, state, fail_reason
		FROM (
			SELECT rowid AS seq, * FROM messages
			WHERE conversation_id = ?
			ORDER BY created_at DESC, seq DESC
			LIMIT ?
		)
		ORDER BY created_at ASC, seq ASC`, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.LocalID, &m.ServerID, &m.ConversationID, &m.SenderID, &m.Content,
			&m.AttachmentRef, &m.CreatedAt, &m.State, &m.FailReason); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

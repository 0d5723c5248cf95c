package store

import "time"

// UpsertConversation inserts or updates a conversation row. A real
// conversation replaces any placeholder row kept for the same participant.
func (db *DB) UpsertConversation(c *Conversation) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	_, err = tx.Exec(`
		INSERT INTO conversations (id, participant_id, participant_display, last_message_preview,
			last_message_at, unread_count, pinned, placeholder, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			participant_id = excluded.participant_id,
			participant_display = excluded.participant_display,
			last_message_preview = excluded.last_message_preview,
			last_message_at = excluded.last_message_at,
			unread_count = excluded.unread_count,
			pinned = excluded.pinned,
			placeholder = excluded.placeholder,
			updated_at = excluded.updated_at`,
		c.ID, c.ParticipantID, c.ParticipantDisplay, c.LastMessagePreview,
		c.LastMessageAt, c.UnreadCount, c.Pinned, c.Placeholder, now)
	if err != nil {
		return err
	}

	if !c.Placeholder && c.ParticipantID != "" {
		if _, err := tx.Exec(`
			DELETE FROM conversations
			WHERE placeholder = 1 AND participant_id = ? AND id != ?`,
			c.ParticipantID, c.ID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListConversations returns cached conversations, most recent first.
func (db *DB) ListConversations(limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := db.Query(`
		SELECT id, participant_id, participant_display, last_message_preview,
			last_message_at, unread_count, pinned, placeholder
		FROM conversations
		ORDER BY last_message_at DESC, id
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.ParticipantID, &c.ParticipantDisplay, &c.LastMessagePreview,
			&c.LastMessageAt, &c.UnreadCount, &c.Pinned, &c.Placeholder); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

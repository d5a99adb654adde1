package chat

import (
	"encoding/json"
	"time"

	"league-chat/internal/models"
	"league-chat/internal/realtime"
)

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func at(seconds int) time.Time {
	return t0.Add(time.Duration(seconds) * time.Second)
}

func msg(id, league, user string, seconds int) models.Message {
	return models.Message{ID: id, LeagueID: league, UserID: user, Content: "msg " + id, CreatedAt: at(seconds)}
}

func messageChange(m models.Message) realtime.Change {
	row := map[string]any{
		"id":         m.ID,
		"league_id":  m.LeagueID,
		"user_id":    m.UserID,
		"content":    m.Content,
		"created_at": m.CreatedAt.Format("2006-01-02T15:04:05.999999-07:00"),
	}
	if m.ClientToken != nil {
		row["client_token"] = *m.ClientToken
	}
	if m.ReplyToMessageID != nil {
		row["reply_to_message_id"] = *m.ReplyToMessageID
	}
	raw, _ := json.Marshal(row)
	return realtime.Change{Table: realtime.TableMessages, Op: realtime.OpInsert, New: raw}
}

// partialMessageChange is the insert notification of a row too large to ship
// with its content.
func partialMessageChange(m models.Message) realtime.Change {
	c := messageChange(models.Message{ID: m.ID, LeagueID: m.LeagueID, UserID: m.UserID, CreatedAt: m.CreatedAt, ClientToken: m.ClientToken})
	c.Partial = true
	return c
}

func readChange(op realtime.Op, league, user string, when time.Time) realtime.Change {
	raw, _ := json.Marshal(map[string]any{
		"league_id":    league,
		"user_id":      user,
		"last_read_at": when.Format(time.RFC3339Nano),
	})
	return realtime.Change{Table: realtime.TableReads, Op: op, New: raw}
}

func reactionChange(op realtime.Op, messageID, user, emoji string) realtime.Change {
	raw, _ := json.Marshal(models.Reaction{MessageID: messageID, UserID: user, Emoji: emoji})
	c := realtime.Change{Table: realtime.TableReactions, Op: op}
	if op == realtime.OpDelete {
		c.Old = raw
	} else {
		c.New = raw
	}
	return c
}

func strPtr(s string) *string {
	return &s
}

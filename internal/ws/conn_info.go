package ws

import "time"

// ConnInfo describes one UI connection. An empty LeagueID follows every league.
type ConnInfo struct {
	ConnID      string
	UserID      string
	LeagueID    string
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

func (i ConnInfo) follows(leagueID string) bool {
	return i.LeagueID == "" || i.LeagueID == leagueID
}

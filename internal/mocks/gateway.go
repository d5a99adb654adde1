package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"league-chat/internal/models"
)

type GatewayMock struct {
	mock.Mock
}

func (m *GatewayMock) OpenView(ctx context.Context, leagueID string) ([]models.MessageView, bool, error) {
	args := m.Called(ctx, leagueID)
	var list []models.MessageView
	if val := args.Get(0); val != nil {
		list = val.([]models.MessageView)
	}
	return list, args.Bool(1), args.Error(2)
}

func (m *GatewayMock) CloseLeague(leagueID string) {
	m.Called(leagueID)
}

func (m *GatewayMock) Messages(leagueID string) ([]models.MessageView, error) {
	args := m.Called(leagueID)
	var list []models.MessageView
	if val := args.Get(0); val != nil {
		list = val.([]models.MessageView)
	}
	return list, args.Error(1)
}

func (m *GatewayMock) LoadOlder(ctx context.Context, leagueID string) (models.Page, error) {
	args := m.Called(ctx, leagueID)
	var page models.Page
	if val := args.Get(0); val != nil {
		page = val.(models.Page)
	}
	return page, args.Error(1)
}

func (m *GatewayMock) Send(ctx context.Context, leagueID, text string, replyToID *string) (models.Message, error) {
	args := m.Called(ctx, leagueID, text, replyToID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *GatewayMock) Retry(ctx context.Context, leagueID, messageID string) (models.Message, error) {
	args := m.Called(ctx, leagueID, messageID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *GatewayMock) ToggleReaction(ctx context.Context, leagueID, messageID, emoji string) (bool, error) {
	args := m.Called(ctx, leagueID, messageID, emoji)
	return args.Bool(0), args.Error(1)
}

func (m *GatewayMock) MarkRead(leagueID string, at *time.Time) error {
	args := m.Called(leagueID, at)
	return args.Error(0)
}

func (m *GatewayMock) SetForeground(ctx context.Context, foreground bool) error {
	args := m.Called(ctx, foreground)
	return args.Error(0)
}

func (m *GatewayMock) UnreadSnapshot() models.UnreadEvent {
	args := m.Called()
	var ev models.UnreadEvent
	if val := args.Get(0); val != nil {
		ev = val.(models.UnreadEvent)
	}
	return ev
}

func (m *GatewayMock) Previews(ctx context.Context) ([]models.InboxPreview, error) {
	args := m.Called(ctx)
	var list []models.InboxPreview
	if val := args.Get(0); val != nil {
		list = val.([]models.InboxPreview)
	}
	return list, args.Error(1)
}

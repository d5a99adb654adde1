package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"league-chat/internal/models"
	"league-chat/internal/repositories"
)

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) CreateMessage(ctx context.Context, msg repositories.NewMessage) (models.Message, error) {
	args := m.Called(ctx, msg)
	var out models.Message
	switch val := args.Get(0).(type) {
	case models.Message:
		out = val
	case func(context.Context, repositories.NewMessage) models.Message:
		out = val(ctx, msg)
	}
	return out, args.Error(1)
}

func (m *MessageRepositoryMock) ListBefore(ctx context.Context, leagueID string, before *models.Cursor, limit int) ([]models.Message, error) {
	args := m.Called(ctx, leagueID, before, limit)
	var list []models.Message
	switch val := args.Get(0).(type) {
	case []models.Message:
		list = val
	case func(context.Context, string, *models.Cursor, int) []models.Message:
		list = val(ctx, leagueID, before, limit)
	}
	return list, args.Error(1)
}

func (m *MessageRepositoryMock) ListByIDs(ctx context.Context, ids []string) ([]models.Message, error) {
	args := m.Called(ctx, ids)
	var list []models.Message
	if val := args.Get(0); val != nil {
		list = val.([]models.Message)
	}
	return list, args.Error(1)
}

func (m *MessageRepositoryMock) LatestPerLeague(ctx context.Context, leagueIDs []string) ([]models.InboxPreview, error) {
	args := m.Called(ctx, leagueIDs)
	var list []models.InboxPreview
	if val := args.Get(0); val != nil {
		list = val.([]models.InboxPreview)
	}
	return list, args.Error(1)
}

func (m *MessageRepositoryMock) ListSince(ctx context.Context, leagueIDs []string, since time.Time, excludeAuthors []string) ([]models.MessageStamp, error) {
	args := m.Called(ctx, leagueIDs, since, excludeAuthors)
	var list []models.MessageStamp
	if val := args.Get(0); val != nil {
		list = val.([]models.MessageStamp)
	}
	return list, args.Error(1)
}

func (m *MessageRepositoryMock) CountSince(ctx context.Context, leagueID string, since *time.Time, excludeAuthors []string) (int, error) {
	args := m.Called(ctx, leagueID, since, excludeAuthors)
	return args.Int(0), args.Error(1)
}

type ReadRepositoryMock struct {
	mock.Mock
}

func (m *ReadRepositoryMock) ListForUser(ctx context.Context, userID string) ([]models.ReadReceipt, error) {
	args := m.Called(ctx, userID)
	var list []models.ReadReceipt
	if val := args.Get(0); val != nil {
		list = val.([]models.ReadReceipt)
	}
	return list, args.Error(1)
}

func (m *ReadRepositoryMock) UpsertReceipt(ctx context.Context, leagueID, userID string, at time.Time) (models.ReadReceipt, error) {
	args := m.Called(ctx, leagueID, userID, at)
	var out models.ReadReceipt
	if val := args.Get(0); val != nil {
		out = val.(models.ReadReceipt)
	}
	return out, args.Error(1)
}

type ReactionRepositoryMock struct {
	mock.Mock
}

func (m *ReactionRepositoryMock) ToggleReaction(ctx context.Context, messageID, userID, emoji string) (bool, error) {
	args := m.Called(ctx, messageID, userID, emoji)
	return args.Bool(0), args.Error(1)
}

func (m *ReactionRepositoryMock) ListForMessages(ctx context.Context, messageIDs []string) ([]models.Reaction, error) {
	args := m.Called(ctx, messageIDs)
	var list []models.Reaction
	if val := args.Get(0); val != nil {
		list = val.([]models.Reaction)
	}
	return list, args.Error(1)
}

type PresenceRepositoryMock struct {
	mock.Mock
}

func (m *PresenceRepositoryMock) UpsertPresence(ctx context.Context, leagueID, userID string) error {
	args := m.Called(ctx, leagueID, userID)
	return args.Error(0)
}

func (m *PresenceRepositoryMock) DeletePresence(ctx context.Context, leagueID, userID string) error {
	args := m.Called(ctx, leagueID, userID)
	return args.Error(0)
}

func (m *PresenceRepositoryMock) ActiveUserIDs(ctx context.Context, leagueID string, since time.Time) ([]string, error) {
	args := m.Called(ctx, leagueID, since)
	var ids []string
	if val := args.Get(0); val != nil {
		ids = val.([]string)
	}
	return ids, args.Error(1)
}

type MemberRepositoryMock struct {
	mock.Mock
}

func (m *MemberRepositoryMock) ListLeagueIDs(ctx context.Context, userID string) ([]string, error) {
	args := m.Called(ctx, userID)
	var ids []string
	if val := args.Get(0); val != nil {
		ids = val.([]string)
	}
	return ids, args.Error(1)
}

func (m *MemberRepositoryMock) IsMember(ctx context.Context, leagueID, userID string) (bool, error) {
	args := m.Called(ctx, leagueID, userID)
	return args.Bool(0), args.Error(1)
}

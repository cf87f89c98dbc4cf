package expo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-ticket-notifier/pkg/notify"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) SendMessages(ctx context.Context, msgs []notify.PushMessage) ([]notify.PushTicket, error) {
	args := m.Called(ctx, msgs)
	tickets, _ := args.Get(0).([]notify.PushTicket)
	return tickets, args.Error(1)
}

func (m *mockGateway) GetReceipts(ctx context.Context, ticketIDs []string) (map[string]notify.PushReceipt, error) {
	args := m.Called(ctx, ticketIDs)
	receipts, _ := args.Get(0).(map[string]notify.PushReceipt)
	return receipts, args.Error(1)
}

func okTickets(msgs []notify.PushMessage) []notify.PushTicket {
	tickets := make([]notify.PushTicket, len(msgs))
	for i := range msgs {
		tickets[i] = notify.PushTicket{Status: notify.TicketStatusOK, ID: fmt.Sprintf("ticket-%d", i)}
	}
	return tickets
}

func newFastDispatcher(gateway notify.PushGateway) *Dispatcher {
	d := NewDispatcher(gateway, discardLogger())
	d.baseDelay = time.Millisecond
	return d
}

func singleTokenResolution(project string, tokens map[string]string) *notify.Resolution {
	res := &notify.Resolution{
		Messages:   make(map[string][]notify.PushMessage),
		TokenOwner: make(map[string]string),
		RecordIDs:  make(map[string]string),
	}
	for token, owner := range tokens {
		res.Messages[project] = append(res.Messages[project], notify.PushMessage{
			To: token, Title: "t", Body: "b", Data: map[string]string{},
		})
		res.TokenOwner[token] = owner
		res.RecordIDs[owner] = owner
	}
	return res
}

func TestDispatcher_Dispatch(t *testing.T) {
	ctx := context.Background()

	t.Run("Attaches Notification Record Id Per Recipient", func(t *testing.T) {
		gateway := new(mockGateway)
		res := singleTokenResolution("tickets-app", map[string]string{
			"tok-1": "doc-1",
			"tok-2": "doc-2",
		})
		notificationIDs := map[string]string{"doc-1": "n-1", "doc-2": "n-2"}

		gateway.On("SendMessages", ctx, mock.MatchedBy(func(msgs []notify.PushMessage) bool {
			for _, m := range msgs {
				owner := res.TokenOwner[m.To]
				if m.Data["notificationId"] != notificationIDs[owner] {
					return false
				}
			}
			return len(msgs) == 2
		})).Return([]notify.PushTicket{
			{Status: notify.TicketStatusOK, ID: "ticket-1"},
			{Status: notify.TicketStatusOK, ID: "ticket-2"},
		}, nil)

		sent := newFastDispatcher(gateway).Dispatch(ctx, res, notificationIDs)
		require.Len(t, sent, 2)
		gateway.AssertExpectations(t)

		for _, ref := range sent {
			assert.Equal(t, "tickets-app", ref.Project)
			assert.Equal(t, res.TokenOwner[ref.Token], ref.OwnerID)
			assert.NotEmpty(t, ref.TicketID)
		}
	})

	t.Run("Skips Tokens Whose Owner Has No Record", func(t *testing.T) {
		gateway := new(mockGateway)
		res := singleTokenResolution("tickets-app", map[string]string{
			"tok-1": "doc-1",
			"tok-2": "doc-excluded",
		})
		notificationIDs := map[string]string{"doc-1": "n-1"}

		gateway.On("SendMessages", ctx, mock.MatchedBy(func(msgs []notify.PushMessage) bool {
			return len(msgs) == 1 && msgs[0].To == "tok-1"
		})).Return([]notify.PushTicket{{Status: notify.TicketStatusOK, ID: "ticket-1"}}, nil)

		sent := newFastDispatcher(gateway).Dispatch(ctx, res, notificationIDs)
		require.Len(t, sent, 1)
		gateway.AssertExpectations(t)
	})

	t.Run("Splits Large Groups Into Gateway-Sized Chunks", func(t *testing.T) {
		gateway := new(mockGateway)
		res := &notify.Resolution{
			Messages:   map[string][]notify.PushMessage{"tickets-app": nil},
			TokenOwner: make(map[string]string),
			RecordIDs:  make(map[string]string),
		}
		notificationIDs := make(map[string]string)
		for i := 0; i < 150; i++ {
			token := fmt.Sprintf("tok-%d", i)
			owner := fmt.Sprintf("doc-%d", i)
			res.Messages["tickets-app"] = append(res.Messages["tickets-app"], notify.PushMessage{
				To: token, Data: map[string]string{},
			})
			res.TokenOwner[token] = owner
			notificationIDs[owner] = fmt.Sprintf("n-%d", i)
		}

		gateway.On("SendMessages", ctx, mock.MatchedBy(func(msgs []notify.PushMessage) bool {
			return len(msgs) == SendChunkLimit
		})).Return(okTickets(make([]notify.PushMessage, SendChunkLimit)), nil).Once()
		gateway.On("SendMessages", ctx, mock.MatchedBy(func(msgs []notify.PushMessage) bool {
			return len(msgs) == 50
		})).Return(okTickets(make([]notify.PushMessage, 50)), nil).Once()

		sent := newFastDispatcher(gateway).Dispatch(ctx, res, notificationIDs)
		assert.Len(t, sent, 150)
		gateway.AssertExpectations(t)
	})

	t.Run("Retries A Failed Chunk Then Succeeds", func(t *testing.T) {
		gateway := new(mockGateway)
		res := singleTokenResolution("tickets-app", map[string]string{"tok-1": "doc-1"})
		notificationIDs := map[string]string{"doc-1": "n-1"}

		gateway.On("SendMessages", ctx, mock.Anything).
			Return(nil, errors.New("gateway unavailable")).Twice()
		gateway.On("SendMessages", ctx, mock.Anything).
			Return([]notify.PushTicket{{Status: notify.TicketStatusOK, ID: "ticket-1"}}, nil).Once()

		sent := newFastDispatcher(gateway).Dispatch(ctx, res, notificationIDs)
		require.Len(t, sent, 1)
		gateway.AssertExpectations(t)
	})

	t.Run("Abandons A Chunk After The Retry Budget", func(t *testing.T) {
		gateway := new(mockGateway)
		res := singleTokenResolution("tickets-app", map[string]string{"tok-1": "doc-1"})
		notificationIDs := map[string]string{"doc-1": "n-1"}

		gateway.On("SendMessages", ctx, mock.Anything).
			Return(nil, errors.New("gateway unavailable")).Times(maxSendAttempts)

		sent := newFastDispatcher(gateway).Dispatch(ctx, res, notificationIDs)
		assert.Empty(t, sent)
		gateway.AssertExpectations(t)
	})

	t.Run("Error Tickets Produce No Refs", func(t *testing.T) {
		gateway := new(mockGateway)
		res := singleTokenResolution("tickets-app", map[string]string{
			"tok-1": "doc-1",
			"tok-2": "doc-2",
		})
		notificationIDs := map[string]string{"doc-1": "n-1", "doc-2": "n-2"}

		gateway.On("SendMessages", ctx, mock.Anything).Return([]notify.PushTicket{
			{Status: notify.TicketStatusOK, ID: "ticket-1"},
			{Status: notify.TicketStatusError, Message: "invalid token", Details: map[string]string{"error": "InvalidCredentials"}},
		}, nil)

		sent := newFastDispatcher(gateway).Dispatch(ctx, res, notificationIDs)
		require.Len(t, sent, 1)
		assert.Equal(t, "ticket-1", sent[0].TicketID)
	})

	t.Run("Empty Resolution Sends Nothing", func(t *testing.T) {
		gateway := new(mockGateway)
		res := &notify.Resolution{
			Messages:   map[string][]notify.PushMessage{},
			TokenOwner: map[string]string{},
			RecordIDs:  map[string]string{},
		}
		sent := newFastDispatcher(gateway).Dispatch(ctx, res, map[string]string{})
		assert.Empty(t, sent)
		gateway.AssertNotCalled(t, "SendMessages", mock.Anything, mock.Anything)
	})
}

package flow

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whatsapp-platform/internal/store/model"
)

func TestMessageNodeSendsAndPersistsOutboundMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"messages":[{"id":"wamid.out-1"}]}`))
	}))
	defer srv.Close()

	store := newTestInbox(t)
	contact, err := store.UpsertContact(context.Background(), "tenant-1", "wa-1", "Ada", "15551234567")
	require.NoError(t, err)

	n := MessageNode{Text: "hi {{name}}"}
	rt := &Runtime{
		TenantID: "tenant-1",
		Contact:  ContactRef{ID: contact.ID, Phone: contact.Phone},
		Provider: newTestProviderClient(srv),
		Inbox:    store,
	}
	out, err := n.Execute(context.Background(), rt, &StepInput{Vars: map[string]any{"name": "Ada"}})
	require.NoError(t, err)
	assert.Equal(t, "default", out.Handle)

	advanced, err := store.UpdateMessageStatus(context.Background(), "tenant-1", "wamid.out-1", model.StatusDelivered)
	require.NoError(t, err)
	assert.True(t, advanced, "MessageNode.Execute should have persisted an outbound message under the provider's message id")
}

func TestMessageNodeSendFailureNeverPersists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"rejected"}`))
	}))
	defer srv.Close()

	store := newTestInbox(t)
	contact, err := store.UpsertContact(context.Background(), "tenant-1", "wa-1", "Ada", "15551234567")
	require.NoError(t, err)

	n := MessageNode{Text: "hi"}
	rt := &Runtime{
		TenantID: "tenant-1",
		Contact:  ContactRef{ID: contact.ID, Phone: contact.Phone},
		Provider: newTestProviderClient(srv),
		Inbox:    store,
	}
	_, err = n.Execute(context.Background(), rt, &StepInput{Vars: map[string]any{}})
	require.Error(t, err)

	conv, err := store.OpenOrReuseConversation(context.Background(), "tenant-1", contact.ID)
	require.NoError(t, err)
	assert.Empty(t, conv.LastPreview, "a rejected send must not append a message to the conversation")
}

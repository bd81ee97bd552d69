package broadcast

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"whatsapp-platform/internal/store/inbox"
	"whatsapp-platform/internal/store/model"
)

func TestBuildTemplateComponentsHeaderThenBody(t *testing.T) {
	b := &model.Broadcast{
		HeaderMedia: datatypes.NewJSONType(&model.HeaderMedia{MediaID: "media-1", Type: "image"}),
	}
	r := model.BroadcastRecipient{
		Variables: datatypes.NewJSONType(map[string]string{"1": "Ada", "2": "Tuesday"}),
	}

	components := buildTemplateComponents(b, r)
	assert.Len(t, components, 2)
	assert.Equal(t, "header", components[0].Type)
	assert.Equal(t, "media-1", components[0].Parameters[0].Image.ID)
	assert.Equal(t, "body", components[1].Type)
	assert.Equal(t, "Ada", components[1].Parameters[0].Text)
	assert.Equal(t, "Tuesday", components[1].Parameters[1].Text)
}

func TestBuildTemplateComponentsVideoAndDocumentHeader(t *testing.T) {
	videoBroadcast := &model.Broadcast{
		HeaderMedia: datatypes.NewJSONType(&model.HeaderMedia{MediaID: "vid-1", Type: "video"}),
	}
	components := buildTemplateComponents(videoBroadcast, model.BroadcastRecipient{})
	assert.Equal(t, "vid-1", components[0].Parameters[0].Video.ID)

	docBroadcast := &model.Broadcast{
		HeaderMedia: datatypes.NewJSONType(&model.HeaderMedia{MediaID: "doc-1", Type: "document"}),
	}
	components = buildTemplateComponents(docBroadcast, model.BroadcastRecipient{})
	assert.Equal(t, "doc-1", components[0].Parameters[0].Document.ID)
}

func TestBuildTemplateComponentsNoHeaderNoVariables(t *testing.T) {
	b := &model.Broadcast{}
	r := model.BroadcastRecipient{}
	assert.Empty(t, buildTemplateComponents(b, r))
}

func newTestInbox(t *testing.T) *inbox.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(model.AllModels()...))
	return inbox.New(db)
}

func TestDispatcherRecordOutboundWritesMessageToRecipientConversation(t *testing.T) {
	ctx := context.Background()
	store := newTestInbox(t)
	d := &Dispatcher{Inbox: store}

	b := &model.Broadcast{TenantID: "tenant-1", TemplateName: "order_update"}
	r := model.BroadcastRecipient{Phone: "15551234567"}

	d.recordOutbound(ctx, zap.NewNop(), b, r, "wamid.broadcast-1")

	contact, err := store.UpsertContact(ctx, "tenant-1", "15551234567", "15551234567", "15551234567")
	require.NoError(t, err)
	conv, err := store.OpenOrReuseConversation(ctx, "tenant-1", contact.ID)
	require.NoError(t, err)
	assert.Equal(t, "[template]", conv.LastPreview)

	advanced, err := store.UpdateMessageStatus(ctx, "tenant-1", "wamid.broadcast-1", model.StatusDelivered)
	require.NoError(t, err)
	assert.True(t, advanced, "broadcast send should have persisted a sent-status message under this provider id")
}

func TestDispatcherRecordOutboundNoopWithoutInbox(t *testing.T) {
	d := &Dispatcher{}
	b := &model.Broadcast{TenantID: "tenant-1", TemplateName: "order_update"}
	r := model.BroadcastRecipient{Phone: "15551234567"}
	d.recordOutbound(context.Background(), zap.NewNop(), b, r, "wamid.broadcast-1")
}

func TestBuildTemplateComponentsStopsAtFirstGapInPositionalKeys(t *testing.T) {
	b := &model.Broadcast{}
	r := model.BroadcastRecipient{
		Variables: datatypes.NewJSONType(map[string]string{"1": "only-first", "3": "skipped-gap"}),
	}
	components := buildTemplateComponents(b, r)
	assert.Len(t, components, 1)
	assert.Len(t, components[0].Parameters, 1)
	assert.Equal(t, "only-first", components[0].Parameters[0].Text)
}

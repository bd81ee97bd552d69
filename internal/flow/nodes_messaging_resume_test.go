package flow

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whatsapp-platform/internal/providerclient"
)

// newTestProviderClient builds a Client pointed at srv instead of the
// real Cloud API host.
func newTestProviderClient(srv *httptest.Server) *providerclient.Client {
	c := providerclient.New("v19.0", 5*time.Second)
	c.BaseURL = srv.URL
	c.HTTPClient = srv.Client()
	return c
}

func TestButtonNodeResumeMatchesByReplyID(t *testing.T) {
	n := ButtonNode{Body: "Pick one", Buttons: []string{"Yes", "No", "Maybe"}, Variable: "choice"}
	in := &StepInput{
		Resume:  true,
		Vars:    map[string]any{},
		Inbound: &InboundEvent{ButtonReplyID: "btn_1", ButtonTitle: "No"},
	}
	out, err := n.Execute(context.Background(), &Runtime{}, in)
	require.NoError(t, err)
	assert.Equal(t, "btn_1", out.Handle)
	assert.Equal(t, "No", out.VarSets["choice"])
	assert.Equal(t, "No", out.VarSets["last_interactive_selection"])
}

func TestButtonNodeResumeMatchesByTitleFallback(t *testing.T) {
	n := ButtonNode{Body: "Pick one", Buttons: []string{"Yes", "No"}}
	in := &StepInput{
		Resume:  true,
		Vars:    map[string]any{},
		Inbound: &InboundEvent{ButtonReplyID: "unexpected_id", ButtonTitle: "Yes"},
	}
	out, err := n.Execute(context.Background(), &Runtime{}, in)
	require.NoError(t, err)
	assert.Equal(t, "btn_0", out.Handle)
}

func TestButtonNodeResumeNoMatchFallsToDefault(t *testing.T) {
	n := ButtonNode{Body: "Pick one", Buttons: []string{"Yes", "No"}}
	in := &StepInput{
		Resume:  true,
		Vars:    map[string]any{},
		Inbound: &InboundEvent{ButtonReplyID: "garbage", ButtonTitle: "Unrelated"},
	}
	out, err := n.Execute(context.Background(), &Runtime{}, in)
	require.NoError(t, err)
	assert.Equal(t, "default", out.Handle)
}

func TestListNodeResumeNavigationAdvancesPage(t *testing.T) {
	var sendCount int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sendCount++
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"messages":[{"id":"wamid.page"}]}`))
	}))
	defer srv.Close()

	rows := make([]ListRow, 0, 20)
	for i := 0; i < 20; i++ {
		rows = append(rows, ListRow{ID: "r" + strconv.Itoa(i), Title: "Row " + strconv.Itoa(i)})
	}
	n := ListNode{Body: "pick", Rows: rows}
	rt := &Runtime{
		Session:  &SessionRef{CurrentNode: "list-1"},
		Provider: newTestProviderClient(srv),
		Creds:    providerclient.Credentials{PhoneNumberID: "123"},
		Contact:  ContactRef{Phone: "15551234567"},
	}
	in := &StepInput{
		Resume:  true,
		Vars:    map[string]any{"_list_page_list-1": float64(0)},
		Inbound: &InboundEvent{ListReplyID: "__next"},
	}
	out, err := n.Execute(context.Background(), rt, in)
	require.NoError(t, err)
	assert.True(t, out.Suspend)
	assert.Equal(t, float64(1), out.VarSets["_list_page_list-1"])
	assert.Equal(t, 1, sendCount)
}

func TestListNodeResumeSelectionReturnsRowHandle(t *testing.T) {
	n := ListNode{Body: "pick", Rows: []ListRow{{ID: "r1", Title: "Row 1"}}, Variable: "selected"}
	rt := &Runtime{Session: &SessionRef{CurrentNode: "list-1"}}
	in := &StepInput{
		Resume:  true,
		Vars:    map[string]any{},
		Inbound: &InboundEvent{ListReplyID: "r1", ListTitle: "Row 1"},
	}
	out, err := n.Execute(context.Background(), rt, in)
	require.NoError(t, err)
	assert.Equal(t, "r1", out.Handle)
	assert.Equal(t, "Row 1", out.VarSets["selected"])
}

func TestWaitNodeResumeCapturesTextWhenTypeMatches(t *testing.T) {
	n := WaitNode{ExpectedType: "text", Variable: "answer"}
	in := &StepInput{Resume: true, Vars: map[string]any{}, Inbound: &InboundEvent{Type: "text", Text: "42"}}
	out, err := n.Execute(context.Background(), &Runtime{}, in)
	require.NoError(t, err)
	assert.Equal(t, "default", out.Handle)
	assert.Equal(t, "42", out.VarSets["answer"])
}

func TestWaitNodeResumeRejectsWrongTypeWithoutRetry(t *testing.T) {
	n := WaitNode{ExpectedType: "image"}
	in := &StepInput{Resume: true, Vars: map[string]any{}, Inbound: &InboundEvent{Type: "text", Text: "oops"}}
	out, err := n.Execute(context.Background(), &Runtime{}, in)
	require.NoError(t, err)
	assert.Equal(t, "default", out.Handle)
}

func TestWaitNodeFirstEntrySuspendsImmediately(t *testing.T) {
	n := WaitNode{}
	out, err := n.Execute(context.Background(), &Runtime{}, &StepInput{Vars: map[string]any{}})
	require.NoError(t, err)
	assert.True(t, out.Suspend)
}

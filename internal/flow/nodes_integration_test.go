package flow

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPINodeMapsResponseAndRoutes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","score":"42"}`))
	}))
	defer srv.Close()

	n := APINode{
		Method:       http.MethodGet,
		URL:          srv.URL,
		ResponseMaps: []APIResponseMap{{Path: "status", Variable: "status"}, {Path: "score", Variable: "score"}},
		Routes:       []APIRoute{{Variable: "status", Operator: "==", Value: "ok", Handle: "ok_handle"}},
	}
	rt := &Runtime{HTTP: srv.Client()}
	out, err := n.Execute(context.Background(), rt, &StepInput{Vars: map[string]any{}})
	require.NoError(t, err)
	assert.Equal(t, "ok_handle", out.Handle)
	assert.Equal(t, "ok", out.VarSets["status"])
	assert.Equal(t, "42", out.VarSets["score"])
}

func TestAPINodeFallsBackToSuccessWhenNoRouteMatches(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"pending"}`))
	}))
	defer srv.Close()

	n := APINode{
		URL:          srv.URL,
		ResponseMaps: []APIResponseMap{{Path: "status", Variable: "status"}},
		Routes:       []APIRoute{{Variable: "status", Operator: "==", Value: "ok", Handle: "ok_handle"}},
	}
	rt := &Runtime{HTTP: srv.Client()}
	out, err := n.Execute(context.Background(), rt, &StepInput{Vars: map[string]any{}})
	require.NoError(t, err)
	assert.Equal(t, "success", out.Handle)
}

func TestAPINodeFailHandleOn4xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	n := APINode{URL: srv.URL}
	rt := &Runtime{HTTP: srv.Client()}
	out, err := n.Execute(context.Background(), rt, &StepInput{Vars: map[string]any{}})
	require.NoError(t, err)
	assert.Equal(t, "fail", out.Handle)
}

func TestSQLNodeFailsWithoutDB(t *testing.T) {
	n := SQLNode{Query: "select 1"}
	out, err := n.Execute(context.Background(), &Runtime{}, &StepInput{Vars: map[string]any{}})
	require.NoError(t, err)
	assert.Equal(t, "fail", out.Handle)
}

func TestGoogleSheetNodeAlwaysReturnsDefault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := GoogleSheetNode{ScriptURL: srv.URL, Fields: map[string]string{"name": "{{name}}"}}
	rt := &Runtime{HTTP: srv.Client()}
	out, err := n.Execute(context.Background(), rt, &StepInput{Vars: map[string]any{"name": "Ada"}})
	require.NoError(t, err)
	assert.Equal(t, "default", out.Handle)
}

func TestGoogleSheetQueryNodeFoundMapsFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"found":true,"email":"a@b.com"}`))
	}))
	defer srv.Close()

	n := GoogleSheetQueryNode{
		ScriptURL:    srv.URL,
		MatchColumn:  "phone",
		MatchValue:   "{{phone}}",
		ResponseMaps: []APIResponseMap{{Path: "email", Variable: "email"}},
	}
	rt := &Runtime{HTTP: srv.Client()}
	out, err := n.Execute(context.Background(), rt, &StepInput{Vars: map[string]any{"phone": "1555"}})
	require.NoError(t, err)
	assert.Equal(t, "success", out.Handle)
	assert.Equal(t, "a@b.com", out.VarSets["email"])
}

func TestGoogleSheetQueryNodeNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"found":false}`))
	}))
	defer srv.Close()

	n := GoogleSheetQueryNode{ScriptURL: srv.URL}
	rt := &Runtime{HTTP: srv.Client()}
	out, err := n.Execute(context.Background(), rt, &StepInput{Vars: map[string]any{}})
	require.NoError(t, err)
	assert.Equal(t, "fail", out.Handle)
}

func TestMediaForwardNodeFailsWithoutMediaID(t *testing.T) {
	n := MediaForwardNode{TargetURL: "https://example.com"}
	out, err := n.Execute(context.Background(), &Runtime{}, &StepInput{Vars: map[string]any{}})
	require.NoError(t, err)
	assert.Equal(t, "fail", out.Handle)
}

func TestPaymentNodeCreatesLinkFromShortURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"short_url":"https://pay.example.com/abc"}`))
	}))
	defer srv.Close()

	n := PaymentNode{APIBase: srv.URL, Amount: "100", Currency: "INR", LinkVar: "pay_link"}
	rt := &Runtime{HTTP: srv.Client()}
	out, err := n.Execute(context.Background(), rt, &StepInput{Vars: map[string]any{}})
	require.NoError(t, err)
	assert.Equal(t, "success", out.Handle)
	assert.Equal(t, "https://pay.example.com/abc", out.VarSets["pay_link"])
}

func TestPaymentNodeFailsWithoutLink(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	n := PaymentNode{APIBase: srv.URL}
	rt := &Runtime{HTTP: srv.Client()}
	out, err := n.Execute(context.Background(), rt, &StepInput{Vars: map[string]any{}})
	require.NoError(t, err)
	assert.Equal(t, "fail", out.Handle)
}

func TestShopOrderNodeMapsOrderFields(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"fulfilled"}`))
	}))
	defer srv.Close()

	n := ShopOrderNode{
		StoreURL:     srv.URL,
		APIKey:       "key1",
		APISecret:    "secret1",
		OrderNumber:  "{{order_number}}",
		ResponseMaps: []APIResponseMap{{Path: "status", Variable: "order_status"}},
	}
	rt := &Runtime{HTTP: srv.Client()}
	out, err := n.Execute(context.Background(), rt, &StepInput{Vars: map[string]any{"order_number": "1001"}})
	require.NoError(t, err)
	assert.Equal(t, "success", out.Handle)
	assert.Equal(t, "fulfilled", out.VarSets["order_status"])
	assert.Equal(t, "Basic "+base64.StdEncoding.EncodeToString([]byte("key1:secret1")), gotAuth)
}

func TestBasicAuthHeaderEncodesKeyAndSecret(t *testing.T) {
	got := basicAuthHeader("k", "s")
	assert.Equal(t, "Basic "+base64.StdEncoding.EncodeToString([]byte("k:s")), got)
}

func TestURLEscapeReplacesSpacesAndQuotes(t *testing.T) {
	assert.Equal(t, "a%20b%27c", urlEscape("a b'c"))
}

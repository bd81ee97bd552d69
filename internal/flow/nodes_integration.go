package flow

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"whatsapp-platform/internal/apperrors"
	"whatsapp-platform/internal/providerclient"
	"whatsapp-platform/internal/store/model"
)

func init() {
	register("api", decodeAPI)
	register("sql", decodeSQL)
	register("google_sheet", decodeGoogleSheet)
	register("google_sheet_query", decodeGoogleSheetQuery)
	register("drive_image_lookup", decodeDriveImageLookup)
	register("media_forward", decodeMediaForward)
	register("payment", decodePayment)
	register("shopify", decodeShopOrder)
	register("woocommerce", decodeShopOrder)
}

// httpCallJSON performs a backoff-retried HTTP round trip and decodes a
// JSON response body, following the same retry shape as
// providerclient.Client.do: 5xx is transient and retried, 4xx is
// permanent.
func httpCallJSON(ctx context.Context, client *http.Client, method, url string, headers map[string]string, body io.Reader, out any) error {
	if client == nil {
		client = http.DefaultClient
	}
	var bodyBytes []byte
	if body != nil {
		b, err := io.ReadAll(body)
		if err != nil {
			return apperrors.Wrap(apperrors.KindInternal, err, "read request body")
		}
		bodyBytes = b
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
	var respBody []byte
	operation := func() error {
		var reqBody io.Reader
		if bodyBytes != nil {
			reqBody = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
		if err != nil {
			return backoff.Permanent(apperrors.Wrap(apperrors.KindInternal, err, "build integration request"))
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		resp, err := client.Do(req)
		if err != nil {
			return apperrors.Wrap(apperrors.KindTransient, err, "integration request failed")
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return apperrors.Wrap(apperrors.KindTransient, err, "read integration response")
		}
		if resp.StatusCode >= 500 {
			return apperrors.New(apperrors.KindTransient, fmt.Sprintf("integration %s: %s", resp.Status, data))
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(apperrors.New(apperrors.KindProvider, fmt.Sprintf("integration %s: %s", resp.Status, data)))
		}
		respBody = data
		return nil
	}
	if err := backoff.Retry(operation, bo); err != nil {
		return err
	}
	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return apperrors.Wrap(apperrors.KindInternal, err, "decode integration response")
		}
	}
	return nil
}

// --- api ---

type APIResponseMap struct {
	Path     string `json:"path"`
	Variable string `json:"variable"`
}

type APIRoute struct {
	Variable string `json:"variable"`
	Operator string `json:"operator"` // ==, <, >
	Value    string `json:"value"`
	Handle   string `json:"handle"`
}

type APINode struct {
	Method       string            `json:"method"`
	URL          string            `json:"url"`
	Headers      map[string]string `json:"headers"`
	Body         string            `json:"body"`
	ResponseMaps []APIResponseMap  `json:"response_maps"`
	Routes       []APIRoute        `json:"routes"`
}

func decodeAPI(raw json.RawMessage) (Node, error) { return decodeConfig[APINode](raw) }

func (n APINode) Execute(ctx context.Context, rt *Runtime, in *StepInput) (*StepOutput, error) {
	method := n.Method
	if method == "" {
		method = http.MethodGet
	}
	url := Interpolate(n.URL, in.Vars)
	headers := map[string]string{}
	for k, v := range n.Headers {
		headers[k] = Interpolate(v, in.Vars)
	}
	var body io.Reader
	if n.Body != "" {
		body = strings.NewReader(Interpolate(n.Body, in.Vars))
		if headers["Content-Type"] == "" {
			headers["Content-Type"] = "application/json"
		}
	}

	var out map[string]any
	if err := httpCallJSON(ctx, rt.HTTP, method, url, headers, body, &out); err != nil {
		return &StepOutput{Handle: "fail"}, nil
	}

	sets := map[string]any{}
	for _, m := range n.ResponseMaps {
		if val, ok := ResolvePath(out, m.Path); ok {
			sets[m.Variable] = val
		}
	}
	for _, r := range n.Routes {
		left := stringify(sets[r.Variable])
		right := Interpolate(r.Value, in.Vars)
		matched := false
		switch r.Operator {
		case "==", "":
			matched = left == right
		case "<":
			matched = left < right
		case ">":
			matched = left > right
		}
		if matched {
			return &StepOutput{Handle: r.Handle, VarSets: sets}, nil
		}
	}
	return &StepOutput{Handle: "success", VarSets: sets}, nil
}

// --- sql ---

type SQLNode struct {
	Query        string           `json:"query"`
	Params       []string         `json:"params"`
	TenantScoped bool             `json:"tenant_scoped"`
	ResponseMaps []APIResponseMap `json:"response_maps"`
}

func decodeSQL(raw json.RawMessage) (Node, error) { return decodeConfig[SQLNode](raw) }

func (n SQLNode) Execute(ctx context.Context, rt *Runtime, in *StepInput) (*StepOutput, error) {
	if rt.DB == nil {
		return &StepOutput{Handle: "fail"}, nil
	}
	args := make([]any, 0, len(n.Params)+1)
	if n.TenantScoped {
		args = append(args, rt.TenantID)
	}
	for _, p := range n.Params {
		args = append(args, Interpolate(p, in.Vars))
	}

	rows := []map[string]any{}
	if err := rt.DB.WithContext(ctx).Raw(n.Query, args...).Scan(&rows).Error; err != nil {
		return &StepOutput{Handle: "fail"}, nil
	}
	if len(rows) == 0 {
		return &StepOutput{Handle: "fail"}, nil
	}

	sets := map[string]any{}
	for _, m := range n.ResponseMaps {
		if val, ok := ResolvePath(rows[0], m.Path); ok {
			sets[m.Variable] = val
		}
	}
	return &StepOutput{Handle: "success", VarSets: sets}, nil
}

// --- google_sheet ---

type GoogleSheetNode struct {
	ScriptURL string            `json:"script_url"`
	Fields    map[string]string `json:"fields"`
}

func decodeGoogleSheet(raw json.RawMessage) (Node, error) { return decodeConfig[GoogleSheetNode](raw) }

func (n GoogleSheetNode) Execute(ctx context.Context, rt *Runtime, in *StepInput) (*StepOutput, error) {
	payload := map[string]string{}
	for k, v := range n.Fields {
		payload[k] = Interpolate(v, in.Vars)
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	url := Interpolate(n.ScriptURL, in.Vars)
	_ = httpCallJSON(ctx, rt.HTTP, http.MethodPost, url, map[string]string{"Content-Type": "application/json"}, bytes.NewReader(encoded), nil)
	return &StepOutput{Handle: "default"}, nil
}

// --- google_sheet_query ---

type GoogleSheetQueryNode struct {
	ScriptURL    string           `json:"script_url"`
	MatchColumn  string           `json:"match_column"`
	MatchValue   string           `json:"match_value"`
	ResponseMaps []APIResponseMap `json:"response_maps"`
}

func decodeGoogleSheetQuery(raw json.RawMessage) (Node, error) {
	return decodeConfig[GoogleSheetQueryNode](raw)
}

func (n GoogleSheetQueryNode) Execute(ctx context.Context, rt *Runtime, in *StepInput) (*StepOutput, error) {
	url := Interpolate(n.ScriptURL, in.Vars) + "?column=" + n.MatchColumn + "&value=" + Interpolate(n.MatchValue, in.Vars)
	var out map[string]any
	if err := httpCallJSON(ctx, rt.HTTP, http.MethodGet, url, nil, nil, &out); err != nil {
		return &StepOutput{Handle: "fail"}, nil
	}
	found, _ := out["found"].(bool)
	if !found {
		return &StepOutput{Handle: "fail"}, nil
	}
	sets := map[string]any{}
	for _, m := range n.ResponseMaps {
		if val, ok := ResolvePath(out, m.Path); ok {
			sets[m.Variable] = val
		}
	}
	return &StepOutput{Handle: "success", VarSets: sets}, nil
}

// --- drive_image_lookup ---

type DriveImageLookupNode struct {
	FolderID     string `json:"folder_id"`
	FilenameVar  string `json:"filename_variable"`
	APIKey       string `json:"api_key"`
	Target       string `json:"target"` // variable to hold matched URLs array
	AutoSend     bool   `json:"auto_send"`
	DelayMs      int    `json:"delay_ms"`
}

func decodeDriveImageLookup(raw json.RawMessage) (Node, error) { return decodeConfig[DriveImageLookupNode](raw) }

type driveFileList struct {
	Files []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"files"`
}

func (n DriveImageLookupNode) Execute(ctx context.Context, rt *Runtime, in *StepInput) (*StepOutput, error) {
	filename := Interpolate(n.FilenameVar, in.Vars)
	query := "'" + n.FolderID + "' in parents and name contains '" + filename + "'"
	url := "https://www.googleapis.com/drive/v3/files?q=" + urlEscape(query) + "&key=" + n.APIKey

	var list driveFileList
	if err := httpCallJSON(ctx, rt.HTTP, http.MethodGet, url, nil, nil, &list); err != nil || len(list.Files) == 0 {
		return &StepOutput{Handle: "not_found"}, nil
	}

	urls := make([]any, 0, len(list.Files))
	for _, f := range list.Files {
		urls = append(urls, normalizeDriveShareURL("https://drive.google.com/file/d/"+f.ID+"/view"))
	}

	if n.AutoSend {
		for i, u := range urls {
			result, err := rt.Provider.SendMedia(ctx, rt.Creds, rt.Contact.Phone, "image", providerMediaObjFromURL(u.(string)))
			if err := rt.recordOutbound(ctx, model.MessageImage, "", "", result, err); err != nil {
				return nil, err
			}
			if n.DelayMs > 0 && i < len(urls)-1 {
				if err := rt.sleep(ctx, time.Duration(n.DelayMs)*time.Millisecond); err != nil {
					return nil, err
				}
			}
		}
	}

	return &StepOutput{Handle: "found", VarSets: map[string]any{n.Target: urls}}, nil
}

func urlEscape(s string) string {
	replacer := strings.NewReplacer(" ", "%20", "'", "%27")
	return replacer.Replace(s)
}

// --- media_forward ---

type MediaForwardNode struct {
	TargetURL string `json:"target_url"`
	ResponseMaps []APIResponseMap `json:"response_maps"`
}

func decodeMediaForward(raw json.RawMessage) (Node, error) { return decodeConfig[MediaForwardNode](raw) }

func (n MediaForwardNode) Execute(ctx context.Context, rt *Runtime, in *StepInput) (*StepOutput, error) {
	mediaID, _ := in.Vars["last_media_id"].(string)
	if mediaID == "" {
		return &StepOutput{Handle: "fail"}, nil
	}
	data, mimeType, err := rt.Provider.DownloadMedia(ctx, rt.Creds, mediaID)
	if err != nil {
		return &StepOutput{Handle: "fail"}, nil
	}

	url := Interpolate(n.TargetURL, in.Vars)
	var buf bytes.Buffer
	buf.Write(data)
	var out map[string]any
	headers := map[string]string{"Content-Type": mimeType}
	if err := httpCallJSON(ctx, rt.HTTP, http.MethodPost, url, headers, &buf, &out); err != nil {
		return &StepOutput{Handle: "fail"}, nil
	}

	sets := map[string]any{}
	for _, m := range n.ResponseMaps {
		if val, ok := ResolvePath(out, m.Path); ok {
			sets[m.Variable] = val
		}
	}
	return &StepOutput{Handle: "success", VarSets: sets}, nil
}

// --- payment ---

type PaymentNode struct {
	Provider    string  `json:"provider"` // razorpay, stripe
	APIBase     string  `json:"api_base"`
	APIKey      string  `json:"api_key"`
	Amount      string  `json:"amount"`
	Currency    string  `json:"currency"`
	TemplateMsg string  `json:"template_message"`
	LinkVar     string  `json:"link_variable"`
}

func decodePayment(raw json.RawMessage) (Node, error) { return decodeConfig[PaymentNode](raw) }

func (n PaymentNode) Execute(ctx context.Context, rt *Runtime, in *StepInput) (*StepOutput, error) {
	amount := Interpolate(n.Amount, in.Vars)
	payload, _ := json.Marshal(map[string]string{
		"amount":   amount,
		"currency": n.Currency,
	})
	var out map[string]any
	headers := map[string]string{
		"Content-Type":  "application/json",
		"Authorization": "Bearer " + n.APIKey,
	}
	if err := httpCallJSON(ctx, rt.HTTP, http.MethodPost, n.APIBase, headers, bytes.NewReader(payload), &out); err != nil {
		return &StepOutput{Handle: "fail"}, nil
	}
	link, _ := out["short_url"].(string)
	if link == "" {
		link, _ = out["url"].(string)
	}
	if link == "" {
		return &StepOutput{Handle: "fail"}, nil
	}

	sets := map[string]any{}
	if n.LinkVar != "" {
		sets[n.LinkVar] = link
	}
	if n.TemplateMsg != "" {
		msg := in.Vars
		merged := map[string]any{}
		for k, v := range msg {
			merged[k] = v
		}
		merged[n.LinkVar] = link
		body := Interpolate(n.TemplateMsg, merged)
		result, err := rt.Provider.SendText(ctx, rt.Creds, rt.Contact.Phone, body)
		if err := rt.recordOutbound(ctx, model.MessageText, body, "", result, err); err != nil {
			return nil, err
		}
	}
	return &StepOutput{Handle: "success", VarSets: sets}, nil
}

// --- shopify / woocommerce order lookup ---

type ShopOrderNode struct {
	StoreURL     string           `json:"store_url"`
	APIKey       string           `json:"api_key"`
	APISecret    string           `json:"api_secret"`
	OrderNumber  string           `json:"order_number"`
	ResponseMaps []APIResponseMap `json:"response_maps"`
}

func decodeShopOrder(raw json.RawMessage) (Node, error) { return decodeConfig[ShopOrderNode](raw) }

func (n ShopOrderNode) Execute(ctx context.Context, rt *Runtime, in *StepInput) (*StepOutput, error) {
	orderNumber := Interpolate(n.OrderNumber, in.Vars)
	url := strings.TrimSuffix(n.StoreURL, "/") + "/orders/" + orderNumber + ".json"
	headers := map[string]string{}
	if n.APIKey != "" {
		headers["Authorization"] = basicAuthHeader(n.APIKey, n.APISecret)
	}

	var out map[string]any
	if err := httpCallJSON(ctx, rt.HTTP, http.MethodGet, url, headers, nil, &out); err != nil {
		return &StepOutput{Handle: "fail"}, nil
	}

	sets := map[string]any{}
	for _, m := range n.ResponseMaps {
		if val, ok := ResolvePath(out, m.Path); ok {
			sets[m.Variable] = val
		}
	}
	return &StepOutput{Handle: "success", VarSets: sets}, nil
}

func basicAuthHeader(key, secret string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(key+":"+secret))
}

func providerMediaObjFromURL(url string) providerclient.MediaObj {
	return providerclient.MediaObj{Link: url}
}

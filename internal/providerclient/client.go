// Package providerclient is the outbound WhatsApp Cloud API client of
// spec.md §4.1, grounded on the teacher's internal/whatsapp/client.go:
// the same GenericMessage tagged-variant wire struct and sendRequest
// helper, generalized from a process-wide singleton *Config to
// per-call Credentials (spec.md §3's multi-tenant requirement), with
// bounded retry and a template-component sanitizer added.
package providerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"whatsapp-platform/internal/apperrors"
)

// Credentials are one tenant's provider-side identity, looked up by
// the caller (internal/store/tenant) and passed per call instead of
// held as a field, so one Client instance serves every tenant.
type Credentials struct {
	AccessToken       string
	PhoneNumberID     string
	BusinessAccountID string
}

// Client is the provider HTTP client, shared across tenants.
type Client struct {
	APIVersion string
	HTTPClient *http.Client
	Timeout    time.Duration
	// BaseURL overrides the Cloud API host, e.g. "https://graph.facebook.com".
	// Left empty in production; tests point it at an httptest.Server.
	BaseURL string
}

// New builds a Client against the Cloud API version apiVersion (e.g.
// "v19.0"), bounding every request at timeout.
func New(apiVersion string, timeout time.Duration) *Client {
	return &Client{
		APIVersion: apiVersion,
		HTTPClient: &http.Client{},
		Timeout:    timeout,
	}
}

func (c *Client) baseURL(path string) string {
	host := c.BaseURL
	if host == "" {
		host = "https://graph.facebook.com"
	}
	return fmt.Sprintf("%s/%s/%s", host, c.APIVersion, path)
}

// --- Message wire structs, kept verbatim from the teacher's tagged
// GenericMessage variant model. ---

type GenericMessage struct {
	MessagingProduct string          `json:"messaging_product"`
	To               string          `json:"to"`
	Type             string          `json:"type"`
	RecipientType    string          `json:"recipient_type,omitempty"`
	Text             *TextObj        `json:"text,omitempty"`
	Image            *MediaObj       `json:"image,omitempty"`
	Video            *MediaObj       `json:"video,omitempty"`
	Audio            *MediaObj       `json:"audio,omitempty"`
	Document         *MediaObj       `json:"document,omitempty"`
	Sticker          *MediaObj       `json:"sticker,omitempty"`
	Location         *LocationObj    `json:"location,omitempty"`
	Template         *TemplateObj    `json:"template,omitempty"`
	Interactive      *InteractiveObj `json:"interactive,omitempty"`
}

type TextObj struct {
	Body       string `json:"body"`
	PreviewURL bool   `json:"preview_url,omitempty"`
}

type MediaObj struct {
	ID       string `json:"id,omitempty"`
	Link     string `json:"link,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

type LocationObj struct {
	Longitude float64 `json:"longitude"`
	Latitude  float64 `json:"latitude"`
	Name      string  `json:"name,omitempty"`
	Address   string  `json:"address,omitempty"`
}

type TemplateObj struct {
	Name       string         `json:"name"`
	Language   LanguageObj    `json:"language"`
	Components []ComponentObj `json:"components,omitempty"`
}

type LanguageObj struct {
	Code string `json:"code"`
}

type ComponentObj struct {
	Type       string         `json:"type"`
	SubType    string         `json:"sub_type,omitempty"`
	Parameters []ParameterObj `json:"parameters"`
	Index      string         `json:"index,omitempty"`
}

type ParameterObj struct {
	Type     string       `json:"type"`
	Text     string       `json:"text,omitempty"`
	Currency *CurrencyObj `json:"currency,omitempty"`
	DateTime *DateTimeObj `json:"date_time,omitempty"`
	Image    *MediaObj    `json:"image,omitempty"`
	Video    *MediaObj    `json:"video,omitempty"`
	Document *MediaObj    `json:"document,omitempty"`
}

type CurrencyObj struct {
	FallbackValue string `json:"fallback_value"`
	Code          string `json:"code"`
	Amount1000    int    `json:"amount_1000"`
}

type DateTimeObj struct {
	FallbackValue string `json:"fallback_value"`
}

type InteractiveObj struct {
	Type   string     `json:"type"`
	Header *HeaderObj `json:"header,omitempty"`
	Body   BodyObj    `json:"body"`
	Footer *FooterObj `json:"footer,omitempty"`
	Action ActionObj  `json:"action"`
}

type HeaderObj struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	Video    *MediaObj `json:"video,omitempty"`
	Image    *MediaObj `json:"image,omitempty"`
	Document *MediaObj `json:"document,omitempty"`
}

type BodyObj struct {
	Text string `json:"text"`
}

type FooterObj struct {
	Text string `json:"text"`
}

type ActionObj struct {
	Button            string       `json:"button,omitempty"`
	Buttons           []ButtonObj  `json:"buttons,omitempty"`
	Sections          []SectionObj `json:"sections,omitempty"`
	CatalogID         string       `json:"catalog_id,omitempty"`
	ProductRetailerID string       `json:"product_retailer_id,omitempty"`
	Name              string       `json:"name,omitempty"`
	Parameters        *FlowParams  `json:"parameters,omitempty"`
}

type FlowParams struct {
	FlowMessageVersion string             `json:"flow_message_version"`
	FlowToken          string             `json:"flow_token"`
	FlowID             string             `json:"flow_id,omitempty"`
	FlowName           string             `json:"flow_name,omitempty"`
	FlowCTA            string             `json:"flow_cta"`
	FlowAction         string             `json:"flow_action,omitempty"`
	FlowActionPayload  *FlowActionPayload `json:"flow_action_payload,omitempty"`
}

type FlowActionPayload struct {
	Screen string `json:"screen"`
	Data   any    `json:"data,omitempty"`
}

type ButtonObj struct {
	Type  string   `json:"type"`
	Reply ReplyObj `json:"reply"`
}

type ReplyObj struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type SectionObj struct {
	Title        string        `json:"title,omitempty"`
	ProductItems []ProductItem `json:"product_items,omitempty"`
	Rows         []RowObj      `json:"rows,omitempty"`
}

type ProductItem struct {
	ProductRetailerID string `json:"product_retailer_id"`
}

type RowObj struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// SendResult is the provider's accepted-message response.
type SendResult struct {
	MessagingProduct string `json:"messaging_product"`
	Messages         []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// MessageID returns the provider-assigned id of the first accepted
// message, the idempotency key spec.md §3 persists on Message.
func (r *SendResult) MessageID() string {
	if len(r.Messages) == 0 {
		return ""
	}
	return r.Messages[0].ID
}

// do executes an HTTP round-trip with bounded exponential backoff on
// transient failures, classified via apperrors, mirroring the
// event-processor teacher's cenkalti/backoff NATS-redelivery pattern
// applied here to provider HTTP calls instead.
func (c *Client) do(ctx context.Context, method, url string, reqBody any, headers map[string]string) ([]byte, error) {
	var bodyBytes []byte
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.KindInternal, err, "marshal provider request")
		}
		bodyBytes = b
	}

	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)

	var respBody []byte
	operation := func() error {
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
		if err != nil {
			return backoff.Permanent(apperrors.Wrap(apperrors.KindInternal, err, "build provider request"))
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		if req.Header.Get("Content-Type") == "" && bodyBytes != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			return apperrors.Wrap(apperrors.KindTransient, err, "provider request failed")
		}
		defer resp.Body.Close()

		out, err := io.ReadAll(resp.Body)
		if err != nil {
			return apperrors.Wrap(apperrors.KindTransient, err, "read provider response")
		}

		if resp.StatusCode >= 500 {
			return apperrors.NewRetryable(apperrors.Wrap(apperrors.KindTransient, fmt.Errorf("provider %s: %s", resp.Status, out), "provider 5xx"), "provider request")
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(apperrors.Wrap(apperrors.KindProvider, fmt.Errorf("provider %s: %s", resp.Status, out), "provider rejected request"))
		}
		respBody = out
		return nil
	}

	if err := backoff.Retry(operation, bo); err != nil {
		return nil, err
	}
	return respBody, nil
}

func authHeader(creds Credentials) map[string]string {
	return map[string]string{"Authorization": "Bearer " + creds.AccessToken}
}

// send posts msg to the tenant's phone-number-id messages endpoint.
func (c *Client) send(ctx context.Context, creds Credentials, msg GenericMessage) (*SendResult, error) {
	msg.MessagingProduct = "whatsapp"
	url := c.baseURL(fmt.Sprintf("%s/messages", creds.PhoneNumberID))
	body, err := c.do(ctx, http.MethodPost, url, msg, authHeader(creds))
	if err != nil {
		return nil, err
	}
	var result SendResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, err, "decode send result")
	}
	return &result, nil
}

// SendText sends a plain text message.
func (c *Client) SendText(ctx context.Context, creds Credentials, to, body string) (*SendResult, error) {
	return c.send(ctx, creds, GenericMessage{
		To:   to,
		Type: "text",
		Text: &TextObj{Body: body},
	})
}

// SendMedia sends an image/video/audio/document/sticker message by
// either a provider media id or a public link.
func (c *Client) SendMedia(ctx context.Context, creds Credentials, to, kind string, media MediaObj) (*SendResult, error) {
	msg := GenericMessage{To: to, Type: kind}
	switch kind {
	case "image":
		msg.Image = &media
	case "video":
		msg.Video = &media
	case "audio":
		msg.Audio = &media
	case "document":
		msg.Document = &media
	case "sticker":
		msg.Sticker = &media
	default:
		return nil, apperrors.New(apperrors.KindValidation, "unsupported media kind "+kind)
	}
	return c.send(ctx, creds, msg)
}

// SendLocation sends a location pin.
func (c *Client) SendLocation(ctx context.Context, creds Credentials, to string, loc LocationObj) (*SendResult, error) {
	return c.send(ctx, creds, GenericMessage{To: to, Type: "location", Location: &loc})
}

// SendTemplate sends an approved template message with sanitized
// components, per spec.md §4.1 and §4.4.
func (c *Client) SendTemplate(ctx context.Context, creds Credentials, to, name, languageCode string, components []ComponentObj) (*SendResult, error) {
	return c.send(ctx, creds, GenericMessage{
		To:   to,
		Type: "template",
		Template: &TemplateObj{
			Name:       name,
			Language:   LanguageObj{Code: languageCode},
			Components: SanitizeComponents(components),
		},
	})
}

// SendInteractiveButtons sends up to three quick-reply buttons — the
// teacher's ActionObj.Buttons field was modeled but never exercised by
// a Send* convenience method; this wires it.
func (c *Client) SendInteractiveButtons(ctx context.Context, creds Credentials, to, bodyText string, buttons []ButtonObj) (*SendResult, error) {
	if len(buttons) > 3 {
		buttons = buttons[:3]
	}
	return c.send(ctx, creds, GenericMessage{
		To:   to,
		Type: "interactive",
		Interactive: &InteractiveObj{
			Type:   "button",
			Body:   BodyObj{Text: bodyText},
			Action: ActionObj{Buttons: buttons},
		},
	})
}

// SendInteractiveList sends a list message with up to ten rows across
// one or more sections — wires the teacher's unused SectionObj/RowObj.
func (c *Client) SendInteractiveList(ctx context.Context, creds Credentials, to, bodyText, buttonLabel string, sections []SectionObj) (*SendResult, error) {
	return c.send(ctx, creds, GenericMessage{
		To:   to,
		Type: "interactive",
		Interactive: &InteractiveObj{
			Type:   "list",
			Body:   BodyObj{Text: bodyText},
			Action: ActionObj{Button: buttonLabel, Sections: sections},
		},
	})
}

// SendFlowCTA launches a WhatsApp Flow, wiring the teacher's
// FlowParams/FlowActionPayload structs that were defined but unused.
func (c *Client) SendFlowCTA(ctx context.Context, creds Credentials, to, bodyText string, params FlowParams) (*SendResult, error) {
	return c.send(ctx, creds, GenericMessage{
		To:   to,
		Type: "interactive",
		Interactive: &InteractiveObj{
			Type:   "flow",
			Body:   BodyObj{Text: bodyText},
			Action: ActionObj{Name: "flow", Parameters: &params},
		},
	})
}

// SendCatalogMessage sends a single-product catalog message.
func (c *Client) SendCatalogMessage(ctx context.Context, creds Credentials, to, bodyText, catalogID, productRetailerID string) (*SendResult, error) {
	return c.send(ctx, creds, GenericMessage{
		To:   to,
		Type: "interactive",
		Interactive: &InteractiveObj{
			Type:   "catalog_message",
			Body:   BodyObj{Text: bodyText},
			Action: ActionObj{CatalogID: catalogID, ProductRetailerID: productRetailerID},
		},
	})
}

// SanitizeComponents implements spec.md §4.1/§4.4's template-component
// sanitizer: drop components with no parameters, coerce empty body
// parameter text to "-" to keep the positional parameter count stable
// (the Cloud API rejects a template call whose parameter count shifts
// between sends of the same template).
func SanitizeComponents(components []ComponentObj) []ComponentObj {
	sanitized := make([]ComponentObj, 0, len(components))
	for _, comp := range components {
		if len(comp.Parameters) == 0 {
			continue
		}
		if comp.Type == "body" {
			for i := range comp.Parameters {
				if comp.Parameters[i].Type == "text" && comp.Parameters[i].Text == "" {
					comp.Parameters[i].Text = "-"
				}
			}
		}
		sanitized = append(sanitized, comp)
	}
	return sanitized
}

// --- Media ---

// MediaUploadResult is the provider's upload response.
type MediaUploadResult struct {
	ID string `json:"id"`
}

// UploadMedia uploads data in a single multipart POST and returns the
// provider's media id. It does not use the resumable upload-session flow.
func (c *Client) UploadMedia(ctx context.Context, creds Credentials, data []byte, mimeType, filename string) (*MediaUploadResult, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, err, "build media upload form")
	}
	if _, err := part.Write(data); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, err, "write media upload body")
	}
	_ = writer.WriteField("messaging_product", "whatsapp")
	_ = writer.WriteField("type", mimeType)
	if err := writer.Close(); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, err, "close media upload form")
	}

	url := c.baseURL(fmt.Sprintf("%s/media", creds.PhoneNumberID))
	headers := authHeader(creds)
	headers["Content-Type"] = writer.FormDataContentType()

	return c.uploadMultipart(ctx, url, &buf, headers)
}

func (c *Client) uploadMultipart(ctx context.Context, url string, body *bytes.Buffer, headers map[string]string) (*MediaUploadResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, err, "build media upload request")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindTransient, err, "media upload request failed")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindTransient, err, "read media upload response")
	}
	if resp.StatusCode >= 400 {
		return nil, apperrors.Wrap(apperrors.KindProvider, fmt.Errorf("upload %s: %s", resp.Status, respBody), "media upload rejected")
	}

	var result MediaUploadResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, err, "decode media upload response")
	}
	return &result, nil
}

// mediaURLResponse is the provider's media-object metadata response.
type mediaURLResponse struct {
	URL string `json:"url"`
}

// ResolveMediaURL fetches the signed, short-lived download URL for a
// media id, per the teacher's RetrieveMediaURL.
func (c *Client) ResolveMediaURL(ctx context.Context, creds Credentials, mediaID string) (string, error) {
	url := c.baseURL(mediaID)
	body, err := c.do(ctx, http.MethodGet, url, nil, authHeader(creds))
	if err != nil {
		return "", err
	}
	var obj mediaURLResponse
	if err := json.Unmarshal(body, &obj); err != nil {
		return "", apperrors.Wrap(apperrors.KindInternal, err, "decode media url response")
	}
	return obj.URL, nil
}

// DownloadMedia resolves a media id's signed URL and follows it with
// the bearer header, per spec.md §4.2 point 4 — the teacher's
// RetrieveMediaURL stopped at the signed URL and never downloaded it.
func (c *Client) DownloadMedia(ctx context.Context, creds Credentials, mediaID string) ([]byte, string, error) {
	signedURL, err := c.ResolveMediaURL(ctx, creds, mediaID)
	if err != nil {
		return nil, "", err
	}

	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, signedURL, nil)
	if err != nil {
		return nil, "", apperrors.Wrap(apperrors.KindInternal, err, "build media download request")
	}
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, "", apperrors.Wrap(apperrors.KindTransient, err, "media download failed")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", apperrors.Wrap(apperrors.KindTransient, err, "read media download body")
	}
	if resp.StatusCode >= 400 {
		return nil, "", apperrors.Wrap(apperrors.KindProvider, fmt.Errorf("media download %s", resp.Status), "media download rejected")
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func (c *Client) DeleteMedia(ctx context.Context, creds Credentials, mediaID string) error {
	_, err := c.do(ctx, http.MethodDelete, c.baseURL(mediaID), nil, authHeader(creds))
	return err
}

// --- Template management, kept from the teacher's GetTemplates/
// CreateTemplate/DeleteTemplate against the WABA id endpoint. ---

func (c *Client) GetTemplates(ctx context.Context, creds Credentials) ([]byte, error) {
	url := c.baseURL(fmt.Sprintf("%s/message_templates", creds.BusinessAccountID))
	return c.do(ctx, http.MethodGet, url, nil, authHeader(creds))
}

func (c *Client) CreateTemplate(ctx context.Context, creds Credentials, templateData any) ([]byte, error) {
	url := c.baseURL(fmt.Sprintf("%s/message_templates", creds.BusinessAccountID))
	return c.do(ctx, http.MethodPost, url, templateData, authHeader(creds))
}

func (c *Client) DeleteTemplate(ctx context.Context, creds Credentials, templateName string) error {
	url := c.baseURL(fmt.Sprintf("%s/message_templates?name=%s", creds.BusinessAccountID, templateName))
	_, err := c.do(ctx, http.MethodDelete, url, nil, authHeader(creds))
	return err
}

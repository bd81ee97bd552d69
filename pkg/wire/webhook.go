// Package wire holds the WhatsApp Cloud API wire envelopes shared
// between the webhook ingester and the provider client, grounded on
// the teacher's pkg/models/webhook.go anonymous-struct payload, lifted
// here into named types so the ingester can pass sub-structs around
// (e.g. to the flow interpreter) without re-declaring them.
package wire

// WebhookPayload is the top-level envelope the Cloud API posts for
// both message and status change notifications.
type WebhookPayload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

type Change struct {
	Value ChangeValue `json:"value"`
	Field string      `json:"field"`
}

type ChangeValue struct {
	MessagingProduct string           `json:"messaging_product"`
	Metadata         Metadata         `json:"metadata"`
	Contacts         []ContactInfo    `json:"contacts,omitempty"`
	Messages         []InboundMessage `json:"messages,omitempty"`
	Statuses         []StatusUpdate   `json:"statuses,omitempty"`
}

type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type ContactInfo struct {
	WaID    string      `json:"wa_id"`
	Profile ProfileInfo `json:"profile"`
}

type ProfileInfo struct {
	Name string `json:"name"`
}

// InboundMessage is one message entry within a webhook Messages array,
// covering every type enum spec.md §3 names.
type InboundMessage struct {
	From        string              `json:"from"`
	ID          string              `json:"id"`
	Timestamp   string              `json:"timestamp"`
	Type        string              `json:"type"`
	Text        *TextBody           `json:"text,omitempty"`
	Image       *MediaMessage       `json:"image,omitempty"`
	Video       *MediaMessage       `json:"video,omitempty"`
	Audio       *MediaMessage       `json:"audio,omitempty"`
	Document    *MediaMessage       `json:"document,omitempty"`
	Sticker     *MediaMessage       `json:"sticker,omitempty"`
	Location    *LocationBody       `json:"location,omitempty"`
	Contacts    []ContactCardBody   `json:"contacts,omitempty"`
	Interactive *InteractiveMessage `json:"interactive,omitempty"`
	Button      *ButtonMessage      `json:"button,omitempty"`
	Order       *OrderMessage       `json:"order,omitempty"`
	Reaction    *ReactionMessage    `json:"reaction,omitempty"`
	Context     *MessageContext     `json:"context,omitempty"`
}

type TextBody struct {
	Body string `json:"body"`
}

type MediaMessage struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	SHA256   string `json:"sha256,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

type LocationBody struct {
	Longitude float64 `json:"longitude"`
	Latitude  float64 `json:"latitude"`
	Name      string  `json:"name,omitempty"`
	Address   string  `json:"address,omitempty"`
}

type ContactCardBody struct {
	Name struct {
		FormattedName string `json:"formatted_name"`
	} `json:"name"`
}

// InteractiveMessage is the reply payload for button/list/flow taps.
type InteractiveMessage struct {
	Type        string       `json:"type"`
	ButtonReply *ButtonReply `json:"button_reply,omitempty"`
	ListReply   *ListReply   `json:"list_reply,omitempty"`
	NfmReply    *NfmReply    `json:"nfm_reply,omitempty"`
}

type ButtonReply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type ListReply struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// NfmReply is a WhatsApp Flow's data-exchange submission.
type NfmReply struct {
	ResponsePayload string `json:"response_payload"`
	Body            string `json:"body"`
	Name            string `json:"name"`
}

// ButtonMessage is a legacy quick-reply-button tap (distinct from the
// newer Interactive envelope, still emitted for template buttons).
type ButtonMessage struct {
	Text    string `json:"text"`
	Payload string `json:"payload"`
}

type OrderMessage struct {
	CatalogID    string      `json:"catalog_id"`
	Text         string      `json:"text"`
	ProductItems []OrderItem `json:"product_items"`
}

type OrderItem struct {
	ProductRetailerID string  `json:"product_retailer_id"`
	Quantity          int     `json:"quantity"`
	ItemPrice         float64 `json:"item_price"`
	Currency          string  `json:"currency"`
}

type ReactionMessage struct {
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
}

// MessageContext links a reply to the message it quotes.
type MessageContext struct {
	From string `json:"from"`
	ID   string `json:"id"`
}

// StatusUpdate is one entry in a webhook's Statuses array, reporting
// delivery progress for a previously-sent outbound message.
type StatusUpdate struct {
	ID           string        `json:"id"`
	Status       string        `json:"status"`
	Timestamp    string        `json:"timestamp"`
	RecipientID  string        `json:"recipient_id"`
	Errors       []StatusError `json:"errors,omitempty"`
}

type StatusError struct {
	Code    int    `json:"code"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

package ws

import "encoding/json"

// Client → server message types.
const (
	msgSignIn           = "signin"
	msgSignOut          = "signout"
	msgSubscribe        = "subscribe"
	msgUnsubscribe      = "unsubscribe"
	msgQueryUnsubscribe = "query-unsubscribe"
	msgTxStart          = "transaction-start"
	msgTxFinish         = "transaction-finish"
)

// Server → client message types.
const (
	msgWelcome   = "welcome"
	msgResult    = "result"
	msgDataEvent = "data-event"
	msgTxStarted = "tx_started"
	msgTxDone    = "tx_completed"
	msgTxError   = "tx_error"
)

// Failure reasons carried in result and tx_error messages.
const (
	reasonAccessDenied = "access_denied"
	reasonTxNotFound   = "transaction_not_found"
	reasonTxDuplicate  = "duplicate_transaction_id"
	reasonTimeout      = "timeout"
	reasonInvalidValue = "invalid_value"
)

// clientMessage is the union of every inbound protocol event.
type clientMessage struct {
	Type  string `json:"type"`
	ReqID string `json:"req_id,omitempty"`

	AccessToken string `json:"access_token,omitempty"` // signin

	Path  string `json:"path,omitempty"`
	Event string `json:"event,omitempty"`

	QueryID string `json:"query_id,omitempty"` // query-unsubscribe

	TxID    string          `json:"id,omitempty"` // transaction-*
	Context json.RawMessage `json:"context,omitempty"`
	Value   json.RawMessage `json:"value,omitempty"`
}

// serverMessage is the union of every outbound protocol event.
type serverMessage struct {
	Type string `json:"type"`

	ClientID string `json:"client_id,omitempty"` // welcome

	ReqID   string `json:"req_id,omitempty"`
	Success *bool  `json:"success,omitempty"`
	Reason  string `json:"reason,omitempty"`

	SubscrPath string `json:"subscr_path,omitempty"`
	Path       string `json:"path,omitempty"`
	Event      string `json:"event,omitempty"`
	Val        any    `json:"val,omitempty"`

	TxID    string `json:"id,omitempty"`
	Value   any    `json:"value,omitempty"`
	Context any    `json:"context,omitempty"`
}

func resultMessage(reqID string, success bool, reason string) serverMessage {
	return serverMessage{Type: msgResult, ReqID: reqID, Success: &success, Reason: reason}
}

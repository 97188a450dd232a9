package v201

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// MessageType represents the type of OCPP message
type MessageType int

const (
	Call       MessageType = 2
	CallResult MessageType = 3
	CallError  MessageType = 4
)

func (t MessageType) String() string {
	switch t {
	case Call:
		return "Call"
	case CallResult:
		return "CallResult"
	case CallError:
		return "CallError"
	}
	return fmt.Sprintf("MessageType(%d)", int(t))
}

// Numeric accepts both JSON numbers and numeric strings. Meter values show
// up in either form depending on firmware.
type Numeric float64

func (n *Numeric) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*n = 0
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*n = 0
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("invalid numeric value %q: %w", s, err)
		}
		*n = Numeric(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*n = Numeric(f)
	return nil
}

// TransactionID is an opaque, station-assigned identifier. Some stations send
// it as a JSON number; the literal text is kept either way.
type TransactionID string

func (id *TransactionID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = TransactionID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid transaction id %s", data)
	}
	*id = TransactionID(n.String())
	return nil
}

// --- Charge Point → CSMS ---

type BootNotificationRequest struct {
	ChargingStation ChargingStation `json:"chargingStation"`
	Reason          string          `json:"reason"`
}

type ChargingStation struct {
	Model           string `json:"model"`
	VendorName      string `json:"vendorName"`
	SerialNumber    string `json:"serialNumber,omitempty"`
	FirmwareVersion string `json:"firmwareVersion,omitempty"`
}

type BootNotificationResponse struct {
	CurrentTime string `json:"currentTime"`
	Interval    int    `json:"interval"`
	Status      string `json:"status"` // Accepted, Pending, Rejected
}

type HeartbeatResponse struct {
	CurrentTime string `json:"currentTime"`
}

type StatusNotificationRequest struct {
	Timestamp       string `json:"timestamp"`
	ConnectorStatus string `json:"connectorStatus"` // Available, Occupied, Reserved, Unavailable, Faulted
	EvseId          int    `json:"evseId"`
	ConnectorId     int    `json:"connectorId"`
}

type StatusNotificationResponse struct{}

type AuthorizeRequest struct {
	IdToken IdToken `json:"idToken"`
}

type AuthorizeResponse struct {
	IdTokenInfo IdTokenInfo `json:"idTokenInfo"`
}

type TransactionEventRequest struct {
	EventType       string           `json:"eventType"` // Started, Updated, Ended
	Timestamp       string           `json:"timestamp"`
	TriggerReason   string           `json:"triggerReason,omitempty"`
	SeqNo           int              `json:"seqNo,omitempty"`
	TransactionData *TransactionInfo `json:"transactionData,omitempty"`
	TransactionInfo *TransactionInfo `json:"transactionInfo,omitempty"`
	IdToken         *IdToken         `json:"idToken,omitempty"`
	Evse            *Evse            `json:"evse,omitempty"`
	MeterValue      []MeterValue     `json:"meterValue,omitempty"`
}

// TransactionInfo is sent as either transactionData or transactionInfo.
type TransactionInfo struct {
	TransactionId   TransactionID    `json:"transactionId"`
	ChargingState   string           `json:"chargingState,omitempty"`
	TotalCost       *Numeric         `json:"totalCost,omitempty"`
	ChargingPeriods []ChargingPeriod `json:"chargingPeriods,omitempty"`
}

type ChargingPeriod struct {
	StartPeriod string      `json:"startPeriod,omitempty"`
	Dimensions  []Dimension `json:"dimensions"`
}

type Dimension struct {
	Name  string  `json:"name"`
	Value Numeric `json:"value"`
}

type IdToken struct {
	IdToken string `json:"idToken"`
	Type    string `json:"type"` // Central, ISO14443, MacAddress, ...
}

type Evse struct {
	Id          int `json:"id"`
	ConnectorId int `json:"connectorId,omitempty"`
}

type MeterValue struct {
	Timestamp    string         `json:"timestamp,omitempty"`
	SampledValue []SampledValue `json:"sampledValue"`
}

type SampledValue struct {
	Value     Numeric `json:"value"`
	Context   string  `json:"context,omitempty"`
	Measurand string  `json:"measurand,omitempty"` // Energy.Active.Import.Register
	Unit      string  `json:"unit,omitempty"`
}

type TransactionEventResponse struct {
	TotalCost   *float64     `json:"totalCost,omitempty"`
	IdTokenInfo *IdTokenInfo `json:"idTokenInfo,omitempty"`
}

type IdTokenInfo struct {
	Status  string `json:"status"` // Accepted, Blocked, Expired, Invalid, ConcurrentTx
	IdToken string `json:"idToken,omitempty"`
}

// StatusInfo provides additional status information
type StatusInfo struct {
	ReasonCode     string `json:"reasonCode"`
	AdditionalInfo string `json:"additionalInfo,omitempty"`
}

// --- CSMS → Charge Point ---

type RequestStartTransactionRequest struct {
	IdToken       IdToken `json:"idToken"`
	RemoteStartId int     `json:"remoteStartId"`
	EvseId        *int    `json:"evseId,omitempty"`
	ConnectorId   *int    `json:"connectorId,omitempty"`
}

type RequestStartTransactionResponse struct {
	Status        string      `json:"status"` // Accepted, Rejected
	TransactionId string      `json:"transactionId,omitempty"`
	StatusInfo    *StatusInfo `json:"statusInfo,omitempty"`
}

type RequestStopTransactionRequest struct {
	TransactionId string `json:"transactionId"`
}

type RequestStopTransactionResponse struct {
	Status     string      `json:"status"` // Accepted, Rejected
	StatusInfo *StatusInfo `json:"statusInfo,omitempty"`
}

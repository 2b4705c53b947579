package novaposhta

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"parcelwatch/internal/model"
)

// incomingDocument mirrors the fields of getIncomingDocumentsByPhone this
// service reads. The API misspells "Settlement".
type incomingDocument struct {
	Number                        flexString     `json:"Number"`
	TypeOfDocument                flexString     `json:"TypeOfDocument"`
	TrackingStatusCode            flexString     `json:"TrackingStatusCode"`
	TrackingStatusName            flexString     `json:"TrackingStatusName"`
	CityRecipientDescription      flexString     `json:"CityRecipientDescription"`
	CargoDescription              flexString     `json:"CargoDescription"`
	CounterpartySenderDescription flexString     `json:"CounterpartySenderDescription"`
	SettlmentAddressData          settlementData `json:"SettlmentAddressData"`
}

type settlementData struct {
	RecipientWarehouseNumber       flexString `json:"RecipientWarehouseNumber"`
	RecipientSettlementDescription flexString `json:"RecipientSettlementDescription"`
}

// UnmarshalJSON accepts the empty array the API sends instead of an object
// when no address data is attached.
func (s *settlementData) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) || b[0] == '[' {
		*s = settlementData{}
		return nil
	}
	type plain settlementData
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*s = settlementData(p)
	return nil
}

// flexString decodes JSON strings, numbers and null into a string.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		*f = ""
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("expected string or number, got %s", b)
		}
		*f = flexString(n.String())
	}
	return nil
}

func (d incomingDocument) toParcel() model.Parcel {
	return model.Parcel{
		Number:            string(d.Number),
		DocumentType:      string(d.TypeOfDocument),
		StatusCode:        string(d.TrackingStatusCode),
		StatusName:        string(d.TrackingStatusName),
		WarehouseID:       string(d.SettlmentAddressData.RecipientWarehouseNumber),
		CityName:          string(d.CityRecipientDescription),
		SettlementName:    string(d.SettlmentAddressData.RecipientSettlementDescription),
		CargoDescription:  string(d.CargoDescription),
		SenderDescription: string(d.CounterpartySenderDescription),
	}
}

type incomingEnvelope struct {
	Result []incomingDocument `json:"result"`
}

// decodeIncoming extracts data[0].result.
func decodeIncoming(data json.RawMessage) ([]incomingDocument, error) {
	var envs []incomingEnvelope
	if err := json.Unmarshal(data, &envs); err != nil {
		return nil, fmt.Errorf("decode data: %w", err)
	}
	if len(envs) == 0 {
		return nil, errors.New("response data is empty")
	}
	return envs[0].Result, nil
}

// ParseIncomingResponse decodes a complete getIncomingDocumentsByPhone
// response body, such as one recorded to disk.
func ParseIncomingResponse(raw []byte) ([]model.Parcel, error) {
	var out response
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if !out.Success {
		return nil, fmt.Errorf("recorded response was not successful: %v", out.Errors)
	}
	docs, err := decodeIncoming(out.Data)
	if err != nil {
		return nil, err
	}
	parcels := make([]model.Parcel, 0, len(docs))
	for _, d := range docs {
		parcels = append(parcels, d.toParcel())
	}
	return parcels, nil
}

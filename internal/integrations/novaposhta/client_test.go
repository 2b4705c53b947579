package novaposhta

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"parcelwatch/internal/integrations"
)

const incomingFixture = `{
  "success": true,
  "data": [{
    "result": [
      {
        "Number": "20450000000001",
        "TypeOfDocument": "Incoming",
        "TrackingStatusCode": "7",
        "TrackingStatusName": "Arrived",
        "CityRecipientDescription": "Київ",
        "CargoDescription": "Books",
        "CounterpartySenderDescription": "Shop A",
        "SettlmentAddressData": {"RecipientWarehouseNumber": "12", "RecipientSettlementDescription": "м. Київ"}
      },
      {
        "Number": "20450000000002",
        "TypeOfDocument": "Incoming",
        "TrackingStatusCode": 8,
        "CityRecipientDescription": "",
        "CargoDescription": "Shoes",
        "CounterpartySenderDescription": "Shop B",
        "SettlmentAddressData": []
      }
    ]
  }],
  "errors": [],
  "warnings": []
}`

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New("key-1", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
}

func TestIncomingByPhoneDecodesRecords(t *testing.T) {
	var got request
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2.0/json/" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(incomingFixture))
	})

	from := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	page, err := c.IncomingByPhone(context.Background(), integrations.Query{DateFrom: from, DateTo: from.AddDate(0, 0, 181), Limit: 100, Page: 1})
	if err != nil {
		t.Fatalf("IncomingByPhone: %v", err)
	}
	if got.APIKey != "key-1" || got.ModelName != "InternetDocument" || got.CalledMethod != "getIncomingDocumentsByPhone" {
		t.Fatalf("bad request envelope: %+v", got)
	}
	if got.MethodProperties["DateFrom"] != "02.01.2024 00:00:00" || got.MethodProperties["Limit"] != "100" || got.MethodProperties["Page"] != "1" {
		t.Fatalf("bad method properties: %+v", got.MethodProperties)
	}
	if len(page.Parcels) != 2 {
		t.Fatalf("want 2 parcels, got %d", len(page.Parcels))
	}
	p := page.Parcels[0]
	if p.WarehouseID != "12" || p.CityName != "Київ" || p.SettlementName != "м. Київ" || p.StatusCode != "7" || p.SenderDescription != "Shop A" {
		t.Fatalf("bad first parcel: %+v", p)
	}
	q := page.Parcels[1]
	if q.StatusCode != "8" || q.WarehouseID != "" || q.SettlementName != "" {
		t.Fatalf("bad second parcel: %+v", q)
	}
}

func TestValidateCredentialsCallsCargoTypes(t *testing.T) {
	var got request
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"success":true,"data":[{"Ref":"Cargo"}]}`))
	})
	if err := c.ValidateCredentials(context.Background()); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if got.ModelName != "Common" || got.CalledMethod != "getCargoTypes" {
		t.Fatalf("unexpected method: %+v", got)
	}
}

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"invalid key", 200, `{"success":false,"data":[],"errors":["API key expired"]}`, integrations.ErrAuth},
		{"auth fail", 200, `{"success":false,"data":[],"errors":["API auth fail"]}`, integrations.ErrAuth},
		{"http 401", 401, `unauthorized`, integrations.ErrAuth},
		{"application", 200, `{"success":false,"data":[],"errors":["DateTime has invalid format"]}`, integrations.ErrApplication},
		{"empty data", 200, `{"success":true,"data":[]}`, integrations.ErrApplication},
		{"server error", 502, `bad gateway`, integrations.ErrTransport},
		{"garbage", 200, `<html>`, integrations.ErrTransport},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})
			_, err := c.IncomingByPhone(context.Background(), integrations.Query{DateFrom: time.Now(), DateTo: time.Now()})
			if !errors.Is(err, tc.want) {
				t.Fatalf("want %v, got %v", tc.want, err)
			}
		})
	}
}

func TestNetworkFailureIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := New("k", WithBaseURL(url), WithTimeout(time.Second))
	err := c.ValidateCredentials(context.Background())
	if !errors.Is(err, integrations.ErrTransport) {
		t.Fatalf("want transport error, got %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

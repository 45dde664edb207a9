package telemetry

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestReportTimestampParsing(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		want    *time.Time
		wantErr bool
	}{
		{"zulu", `{"device_id":"d","timestamp":"2025-04-01T10:00:00Z"}`, ts(2025, 4, 1, 10, 0, 0), false},
		{"no zone assumes utc", `{"device_id":"d","timestamp":"2025-04-01T10:00:00.250"}`, tsNano(2025, 4, 1, 10, 0, 0, 250e6), false},
		{"offset", `{"device_id":"d","timestamp":"2025-04-01T13:00:00+03:00"}`, ts(2025, 4, 1, 10, 0, 0), false},
		{"missing", `{"device_id":"d"}`, nil, false},
		{"null", `{"device_id":"d","timestamp":null}`, nil, false},
		{"empty", `{"device_id":"d","timestamp":""}`, nil, false},
		{"garbage", `{"device_id":"d","timestamp":"yesterday"}`, nil, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			var r Report
			err := json.Unmarshal([]byte(c.payload), &r)
			if c.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if c.want == nil {
				if r.Timestamp != nil {
					t.Fatalf("expected untimed report, got %v", r.Timestamp)
				}
				return
			}
			if r.Timestamp == nil || !r.Timestamp.Equal(*c.want) {
				t.Fatalf("expected %v, got %v", c.want, r.Timestamp)
			}
		})
	}
}

func TestReportDecodesFields(t *testing.T) {
	var r Report
	payload := `{"tag_serial":"SN-1","latitude":-1.29,"longitude":36.82,"accuracy":4.5,"speed":1.2,"altitude":1700,"address":"Moi Avenue"}`
	if err := json.Unmarshal([]byte(payload), &r); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if r.TagSerial != "SN-1" || r.Latitude != -1.29 || r.Longitude != 36.82 || r.Address != "Moi Avenue" || r.Speed != 1.2 {
		t.Fatalf("unexpected report %+v", r)
	}
}

func TestReportValidate(t *testing.T) {
	cases := []struct {
		name string
		r    Report
		ok   bool
	}{
		{"by id", Report{DeviceID: "d", Latitude: 1, Longitude: 2}, true},
		{"by serial", Report{TagSerial: "s", Latitude: 1, Longitude: 2}, true},
		{"anonymous", Report{Latitude: 1, Longitude: 2}, false},
		{"latitude", Report{DeviceID: "d", Latitude: 91, Longitude: 2}, false},
		{"longitude", Report{DeviceID: "d", Latitude: 1, Longitude: -181}, false},
		{"null island", Report{DeviceID: "d"}, false},
	}
	for _, c := range cases {
		err := c.r.Validate()
		if c.ok != (err == nil) {
			t.Fatalf("%s: expected ok=%v, got %v", c.name, c.ok, err)
		}
		if err != nil && !errors.Is(err, ErrInvalidReport) {
			t.Fatalf("%s: expected ErrInvalidReport, got %v", c.name, err)
		}
	}
}

func ts(y int, mo time.Month, d, h, mi, s int) *time.Time {
	return tsNano(y, mo, d, h, mi, s, 0)
}

func tsNano(y int, mo time.Month, d, h, mi, s, ns int) *time.Time {
	t := time.Date(y, mo, d, h, mi, s, ns, time.UTC)
	return &t
}

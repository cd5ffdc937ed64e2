package db

import "testing"

func TestMarshalUnmarshalHWConfigRoundTrip(t *testing.T) {
	hw := HWConfig{Width: 1080, Height: 1920, DPI: 420, RAMMb: 2048, Sensors: true, GPS: true}

	raw, err := marshalHWConfig(hw)
	if err != nil {
		t.Fatalf("marshalHWConfig() error = %v", err)
	}
	got, err := unmarshalHWConfig(raw)
	if err != nil {
		t.Fatalf("unmarshalHWConfig() error = %v", err)
	}
	if got != hw {
		t.Errorf("round-trip = %+v, want %+v", got, hw)
	}
}

func TestUnmarshalHWConfigEmpty(t *testing.T) {
	got, err := unmarshalHWConfig(nil)
	if err != nil {
		t.Fatalf("unmarshalHWConfig(nil) error = %v", err)
	}
	if got != (HWConfig{}) {
		t.Errorf("unmarshalHWConfig(nil) = %+v, want zero value", got)
	}
}

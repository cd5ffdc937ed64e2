package broker

import "testing"

func TestAVMEventQueue(t *testing.T) {
	got := AVMEventQueue("avm-1", "battery")
	want := "android-events.avm-1.battery"
	if got != want {
		t.Errorf("AVMEventQueue() = %q, want %q", got, want)
	}
}

func TestAVMEventRoutingKeySensorsWildcards(t *testing.T) {
	got := avmEventRoutingKey("avm-1", "sensors")
	want := "android-events.avm-1.sensors.*"
	if got != want {
		t.Errorf("avmEventRoutingKey(sensors) = %q, want %q", got, want)
	}
}

func TestAVMEventRoutingKeyOtherCategoriesExact(t *testing.T) {
	got := avmEventRoutingKey("avm-1", "gps")
	want := "android-events.avm-1.gps"
	if got != want {
		t.Errorf("avmEventRoutingKey(gps) = %q, want %q", got, want)
	}
}

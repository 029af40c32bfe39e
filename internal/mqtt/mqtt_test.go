package mqtt

import "testing"

func TestBrokerURL(t *testing.T) {
	cases := map[string]string{
		"":                      "tcp://localhost:1883",
		"mqtt://broker:1883":    "tcp://broker:1883",
		" mqtts://broker:8883 ": "ssl://broker:8883",
		"tcp://10.0.0.2:1883":   "tcp://10.0.0.2:1883",
		"ws://broker:9001/mqtt": "ws://broker:9001/mqtt",
	}
	for in, want := range cases {
		if got := brokerURL(in); got != want {
			t.Fatalf("brokerURL(%q) = %q, want %q", in, got, want)
		}
	}
}

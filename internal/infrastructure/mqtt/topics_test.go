package mqtt

import (
	"errors"
	"testing"
)

func TestTopicBuilders(t *testing.T) {
	topics := Topics{}
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"temperature", topics.Temperature("a@x.com", "AA:BB:CC"), "users/a@x.com/devices/AA:BB:CC/temperature"},
		{"config", topics.Config("a@x.com", "AA:BB:CC"), "users/a@x.com/devices/AA:BB:CC/config"},
		{"announce", topics.InitialConfiguration(), "initial_configuration"},
		{"all temperature", topics.AllTemperature(), "users/+/devices/+/temperature"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
		}
	}
}

func TestParseTemperatureTopic(t *testing.T) {
	tests := []struct {
		topic   string
		wantKey string
		wantMAC string
		wantOK  bool
	}{
		{"users/a@x.com/devices/AA:BB:CC/temperature", "a@x.com", "AA:BB:CC", true},
		{"users/a@x.com/devices/AA:BB:CC/config", "", "", false},
		{"Users/a@x.com/devices/AA:BB:CC/temperature", "", "", false},
		{"users/a@x.com/device/AA:BB:CC/temperature", "", "", false},
		{"users//devices/AA:BB:CC/temperature", "", "", false},
		{"users/a@x.com/devices//temperature", "", "", false},
		{"users/a@x.com/devices/AA:BB:CC/temperature/extra", "", "", false},
		{"initial_configuration", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			key, mac, ok := ParseTemperatureTopic(tt.topic)
			if ok != tt.wantOK || key != tt.wantKey || mac != tt.wantMAC {
				t.Errorf("ParseTemperatureTopic() = %q, %q, %v; want %q, %q, %v",
					key, mac, ok, tt.wantKey, tt.wantMAC, tt.wantOK)
			}
		})
	}
}

func TestValidatePublishTopic(t *testing.T) {
	if err := ValidatePublishTopic("users/a/devices/b/config"); err != nil {
		t.Errorf("ValidatePublishTopic() error = %v", err)
	}
	for _, bad := range []string{"", "users/#", "users/+/devices/b/config"} {
		if err := ValidatePublishTopic(bad); !errors.Is(err, ErrInvalidTopic) {
			t.Errorf("ValidatePublishTopic(%q) error = %v, want ErrInvalidTopic", bad, err)
		}
	}
}

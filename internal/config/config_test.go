package config

import "testing"

func validConfig() *Config {
	return &Config{
		Addr:             ":8080",
		GroupName:        "~",
		HistoryCapacity:  255,
		MaxFrameSize:     512,
		IdleCheckPeriod:  3e9,
		IdleThreshold:    5e9,
		MaxConnections:   10,
		LogLevel:         "info",
		LogFormat:        "json",
	}
}

func TestValidateAccepts(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateRejectsBadGroupName(t *testing.T) {
	c := validConfig()
	c.GroupName = "~~"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for multi-byte group name")
	}
}

func TestValidateRejectsBadHistoryCapacity(t *testing.T) {
	c := validConfig()
	c.HistoryCapacity = 0
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for zero history capacity")
	}
	c.HistoryCapacity = 256
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for history capacity > 255")
	}
}

func TestValidateRejectsBadLogLevel(t *testing.T) {
	c := validConfig()
	c.LogLevel = "verbose"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for invalid log level")
	}
}

package config

import "time"

// Options is the typed form of the §6 configuration table. It is immutable
// for the lifetime of the controller once loaded.
type Options struct {
	PinPowerRelay    int `json:"pin_power_relay"`
	PinCurrentSense  int `json:"pin_current_sense"`
	PinLogout        int `json:"pin_logout"`
	PinEstop         int `json:"pin_estop"`
	PinBypassDetect  int `json:"pin_bypass_detect"`
	PinLedRed        int `json:"pin_led_red"`
	PinLedGreen      int `json:"pin_led_green"`
	PinLedBlue       int `json:"pin_led_blue"`
	PinAlarm         int `json:"pin_alarm"`

	BadgeReaderVendor  uint16 `json:"badge_reader_vendor"`
	BadgeReaderProduct uint16 `json:"badge_reader_product"`

	// UseEstop, EstopActiveHi, UseBypassDetect, and UseAlarm default true (see Default
	// below). mergo.WithOverride skips the zero value, so a per-box
	// override document cannot currently turn any of these back off with a
	// plain `false` — only true is expressible. A box genuinely needing to
	// disable one would require these to become *bool; no shipped box
	// configuration needs that today, so it is left as a known limitation
	// (see DESIGN.md) rather than changed speculatively.
	UseEstop        bool `json:"use_estop"`
	EstopActiveHi   bool `json:"estop_active_hi"`
	UseBypassDetect bool `json:"use_bypass_detect"`
	UseAlarm        bool `json:"use_alarm"`

	IsADoor              bool `json:"is_a_door"`
	DoorContinuousUnlock bool `json:"door_continuous_unlock"`
	DoorNormalHrStart    int  `json:"door_normal_hr_start"`
	DoorNormalHrEnd      int  `json:"door_normal_hr_end"`

	DisableTrainingMode bool `json:"disable_training_mode"`
	AllowUserOverride   bool `json:"allow_user_override"`

	// MaxPowerDownTimeout is nil when unbounded.
	MaxPowerDownTimeout *time.Duration `json:"max_power_down_timeout_s,omitempty"`
	LogoutCoastTime     time.Duration  `json:"logout_coast_time_s"`

	StatusFile string `json:"status_file"`

	// Ambient additions named by original_source's Client.run, out of the
	// distilled spec's core scope but needed by cmd/controller.
	RebootOnError bool          `json:"reboot_on_error"`
	RebootDelay   time.Duration `json:"reboot_delay"`

	MqttBroker  *string `json:"mqtt_broker,omitempty"`
	AuthBaseURL string  `json:"auth_base_url"`

	// AutoUpdateCommand, if set, is shell-executed every AutoUpdateInterval
	// by cmd/controller, mirroring original_source's AutoUpdateTimer.
	AutoUpdateCommand  string        `json:"auto_update_command,omitempty"`
	AutoUpdateInterval time.Duration `json:"auto_update_interval"`
}

// Default returns the compiled-in baseline merged under any remote/local
// override. Matches the teacher's fail-safe posture: alarm and E-stop
// monitoring on, training enabled, no door semantics, bounded power-down.
func Default() Options {
	timeout := 30 * time.Second
	return Options{
		PinPowerRelay:   17,
		PinCurrentSense: 27,
		PinLogout:       22,
		PinEstop:        23,
		PinBypassDetect: 24,
		PinLedRed:       5,
		PinLedGreen:     13,
		PinLedBlue:      19,
		PinAlarm:        6,

		// Matches gauthbox's BADGE_WANTED_VENDOR/BADGE_WANTED_PRODUCT: the
		// USB vendor/product ID of the keyboard-emulating badge scanner.
		BadgeReaderVendor:  121,
		BadgeReaderProduct: 6,

		UseEstop:        true,
		EstopActiveHi:   true,
		UseBypassDetect: true,
		UseAlarm:        true,

		IsADoor:              false,
		DoorContinuousUnlock: false,
		DoorNormalHrStart:    800,
		DoorNormalHrEnd:      1700,

		DisableTrainingMode: false,
		AllowUserOverride:   false,

		MaxPowerDownTimeout: &timeout,
		LogoutCoastTime:     3 * time.Second,

		StatusFile: "/var/run/tinkeraccess/status",

		RebootOnError: false,
		RebootDelay:   5 * time.Minute,

		AutoUpdateInterval: 1 * time.Hour,
	}
}

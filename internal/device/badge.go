package device

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/holoplot/go-evdev"
)

// badgeTimeout bounds how long a partial badge scan may sit idle on the
// keyboard-emulating reader before it is discarded, matching gauthbox's
// BADGE_TIMEOUT.
const badgeTimeout = 250 * time.Millisecond

// badgeReader wraps the HID keyboard-emulating badge scanner: it types the
// badge code followed by Enter, exactly like a USB keyboard. Grounded on
// gauthbox's BadgeReader/findBadgeReader/usKeyMap (lib.go).
type badgeReader struct {
	dev *evdev.InputDevice
	log *slog.Logger
}

func newBadgeReader(log *slog.Logger, vendor, product uint16) (*badgeReader, error) {
	dev, err := findBadgeReader(vendor, product)
	if err != nil {
		return nil, err
	}
	if err := dev.Grab(); err != nil {
		return nil, fmt.Errorf("device: grabbing badge reader: %w", err)
	}
	return &badgeReader{dev: dev, log: log}, nil
}

func findBadgeReader(vendor, product uint16) (*evdev.InputDevice, error) {
	paths, err := evdev.ListDevicePaths()
	if err != nil {
		return nil, err
	}
	for _, p := range paths {
		dev, err := evdev.Open(p.Path)
		if err != nil {
			continue
		}
		id, err := dev.InputID()
		if err != nil {
			dev.Close()
			continue
		}
		if id.Vendor == vendor && id.Product == product {
			return dev, nil
		}
		dev.Close()
	}
	return nil, fmt.Errorf("no badge reader found amongst %d input devices with ID %d:%d", len(paths), vendor, product)
}

// onBadge starts the read loop in its own goroutine and returns immediately;
// ready is signalled after every accumulated keystroke so Device.Wait can
// observe reader activity even before a full code lands.
func (b *badgeReader) onBadge(handler BadgeHandler, ready func()) error {
	go b.run(handler, ready)
	return nil
}

func (b *badgeReader) run(handler BadgeHandler, ready func()) {
	keys := make(chan *evdev.InputEvent)
	go func() {
		for {
			e, err := b.dev.ReadOne()
			if err != nil {
				b.log.Warn("device: badge reader read error", slog.Any("error", err))
				return
			}
			if e.Type != evdev.EV_KEY || e.Value == 0 {
				continue
			}
			keys <- e
		}
	}()

	timeout := time.NewTimer(0)
	timeout.Stop()
	var code strings.Builder
	shifted := false

	for {
		select {
		case e := <-keys:
			ready()
			timeout.Reset(badgeTimeout)
			switch {
			case e.Code == evdev.KEY_LEFTSHIFT, e.Code == evdev.KEY_RIGHTSHIFT:
				shifted = true
			case e.Code == evdev.KEY_ENTER:
				handler(code.String())
				code.Reset()
				shifted = false
			default:
				if r, ok := usKeyMap[e.Code]; ok {
					if shifted {
						code.WriteString(r.shifted)
					} else {
						code.WriteString(r.normal)
					}
				}
				shifted = false
			}
		case <-timeout.C:
			code.Reset()
			shifted = false
		}
	}
}

func (b *badgeReader) close() error {
	return b.dev.Close()
}

type badgeRune struct {
	normal, shifted string
}

// usKeyMap covers the punctuation rows of a US keyboard layout, the
// character set gauthbox's reader firmware emits badge codes in.
var usKeyMap = map[evdev.EvCode]badgeRune{
	evdev.KEY_1:          {"1", "!"},
	evdev.KEY_2:          {"2", "@"},
	evdev.KEY_3:          {"3", "#"},
	evdev.KEY_4:          {"4", "$"},
	evdev.KEY_5:          {"5", "%"},
	evdev.KEY_6:          {"6", "^"},
	evdev.KEY_7:          {"7", "&"},
	evdev.KEY_8:          {"8", "*"},
	evdev.KEY_9:          {"9", "("},
	evdev.KEY_0:          {"0", ")"},
	evdev.KEY_MINUS:      {"-", "_"},
	evdev.KEY_EQUAL:      {"=", "+"},
	evdev.KEY_LEFTBRACE:  {"[", "{"},
	evdev.KEY_RIGHTBRACE: {"]", "}"},
	evdev.KEY_SEMICOLON:  {";", ":"},
	evdev.KEY_APOSTROPHE: {"'", "\""},
	evdev.KEY_GRAVE:      {"`", "~"},
	evdev.KEY_BACKSLASH:  {"\\", "|"},
	evdev.KEY_COMMA:      {",", "<"},
	evdev.KEY_DOT:        {".", ">"},
	evdev.KEY_SLASH:      {"/", "?"},
	evdev.KEY_SPACE:      {" ", " "},
}

func init() {
	// Letter keys A-Z: evdev numbers them in keyboard-row order, not
	// alphabetically, so the codes are listed explicitly and each entry's
	// characters are derived from the code's KEY_ name rather than typed by
	// hand.
	letters := []evdev.EvCode{
		evdev.KEY_A, evdev.KEY_B, evdev.KEY_C, evdev.KEY_D, evdev.KEY_E, evdev.KEY_F, evdev.KEY_G,
		evdev.KEY_H, evdev.KEY_I, evdev.KEY_J, evdev.KEY_K, evdev.KEY_L, evdev.KEY_M, evdev.KEY_N,
		evdev.KEY_O, evdev.KEY_P, evdev.KEY_Q, evdev.KEY_R, evdev.KEY_S, evdev.KEY_T, evdev.KEY_U,
		evdev.KEY_V, evdev.KEY_W, evdev.KEY_X, evdev.KEY_Y, evdev.KEY_Z,
	}
	for _, k := range letters {
		name := strings.TrimPrefix(k.String(), "KEY_")
		usKeyMap[k] = badgeRune{strings.ToLower(name), strings.ToUpper(name)}
	}
}

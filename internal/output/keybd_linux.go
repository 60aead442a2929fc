//go:build linux && cgo

package output

import (
	"fmt"
	"sync"

	"github.com/micmonay/keybd_event"

	"keydance/internal/keycode"
)

// uinput drives a virtual keyboard through /dev/uinput. keybd_event's Linux
// key constants are input event codes, so KeyIDs pass through unchanged.
type uinput struct {
	mu sync.Mutex
	kb keybd_event.KeyBonding
}

func (u *uinput) press(k keycode.KeyID) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.kb.Clear()
	u.kb.SetKeys(int(k))
	if err := u.kb.Press(); err != nil {
		return fmt.Errorf("press %s: %w", k, err)
	}
	return nil
}

func (u *uinput) release(k keycode.KeyID) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.kb.Clear()
	u.kb.SetKeys(int(k))
	if err := u.kb.Release(); err != nil {
		return fmt.Errorf("release %s: %w", k, err)
	}
	return nil
}

// NewKeybd opens a uinput virtual keyboard. onError receives device
// failures; nil logs them.
func NewKeybd(onError func(error)) (*Keyboard, error) {
	kb, err := keybd_event.NewKeyBonding()
	if err != nil {
		return nil, fmt.Errorf("open uinput keyboard: %w", err)
	}
	return newKeyboard(&uinput{kb: kb}, onError), nil
}

// Package displaygamma queries the X server for a screen's current
// gamma ramp, the modern RandR equivalent of the XF86VidMode
// GetGamma() call gl_capture_update_color used to refresh a stream's
// COLOR message. RandR's per-CRTC gamma ramp is what current X
// servers actually expose; XF86VidMode's gamma query is legacy and
// not present in every driver, so capture asks RandR instead.
package displaygamma

import (
	"errors"
	"fmt"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/randr"
	"github.com/jezek/xgb/xproto"
)

// ErrNoCRTC is returned when a screen reports no active CRTCs to
// sample a gamma ramp from.
var ErrNoCRTC = errors.New("displaygamma: screen has no active CRTC")

// Query holds one X connection used to read gamma ramps.
type Query struct {
	conn *xgb.Conn
}

// Open connects to the X display (empty string uses $DISPLAY) and
// initializes the RandR extension.
func Open(display string) (*Query, error) {
	conn, err := xgb.NewConnDisplay(display)
	if err != nil {
		return nil, fmt.Errorf("displaygamma: connect: %w", err)
	}
	if err := randr.Init(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("displaygamma: randr init: %w", err)
	}
	return &Query{conn: conn}, nil
}

// Close releases the X connection.
func (q *Query) Close() {
	q.conn.Close()
}

// Gamma reads the current gamma ramp of the first CRTC on the given
// screen number and reduces it to a single normalized (red, green,
// blue) midpoint sample per channel, in [0, 1] — the same shape of
// correction information capture attaches to a stream's COLOR
// message.
func (q *Query) Gamma(screenNum int) (red, green, blue float32, err error) {
	setup := xproto.Setup(q.conn)
	if screenNum < 0 || screenNum >= len(setup.Roots) {
		return 0, 0, 0, fmt.Errorf("displaygamma: screen %d out of range", screenNum)
	}
	root := setup.Roots[screenNum].Root

	res, err := randr.GetScreenResources(q.conn, root).Reply()
	if err != nil {
		return 0, 0, 0, fmt.Errorf("displaygamma: GetScreenResources: %w", err)
	}
	if len(res.Crtcs) == 0 {
		return 0, 0, 0, ErrNoCRTC
	}

	gamma, err := randr.GetCrtcGamma(q.conn, res.Crtcs[0]).Reply()
	if err != nil {
		return 0, 0, 0, fmt.Errorf("displaygamma: GetCrtcGamma: %w", err)
	}
	if len(gamma.Red) == 0 || len(gamma.Green) == 0 || len(gamma.Blue) == 0 {
		return 0, 0, 0, ErrNoCRTC
	}

	return reduceGamma(gamma.Red, gamma.Green, gamma.Blue)
}

// reduceGamma takes each channel's ramp midpoint as a stand-in for
// that channel's gamma value, normalized to [0, 1]. Pulled out as a
// pure function so the reduction can be tested without an X
// connection.
func reduceGamma(red, green, blue []uint16) (r, g, b float32, err error) {
	if len(red) == 0 || len(green) == 0 || len(blue) == 0 {
		return 0, 0, 0, ErrNoCRTC
	}
	mid := func(ramp []uint16) float32 {
		return float32(ramp[len(ramp)/2]) / 65535.0
	}
	return mid(red), mid(green), mid(blue), nil
}

package rtc

import (
	"context"
	"time"

	"github.com/pion/webrtc/v4/pkg/media"
)

// AudioSource yields encoded Opus samples for the local track. Capture devices
// live outside this module and plug in here.
type AudioSource interface {
	ReadSample(ctx context.Context) (media.Sample, error)
}

// opusSilence is a single Opus frame that decodes to 20ms of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// SilenceSource paces Opus silence frames so the remote side sees a live track.
type SilenceSource struct {
	Interval time.Duration
}

func (s SilenceSource) ReadSample(ctx context.Context) (media.Sample, error) {
	interval := s.Interval
	if interval == 0 {
		interval = 20 * time.Millisecond
	}

	t := time.NewTimer(interval)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return media.Sample{}, ctx.Err()
	case <-t.C:
	}

	return media.Sample{Data: opusSilence, Duration: interval}, nil
}

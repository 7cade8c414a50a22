package openairtc

import (
	"bytes"
	"encoding/binary"
	"time"

	"github.com/codewandler/openairtc-go/internal/metrics"
	"github.com/faiface/beep"
	"github.com/smallnest/ringbuffer"
)

// RealtimeSampleRate is the rate of PCM16 audio carried in events.
const RealtimeSampleRate = 24_000

const remoteAudioBufferSize = 1 << 18

// ringbufferResetMessage is the error a blocked read returns when the buffer
// is reset underneath it.
const ringbufferResetMessage = "reset called"

const resetBackoff = time.Millisecond

type pcmStreamer struct {
	data []int16
	pos  int
}

func newPCMStreamer(b []byte) *pcmStreamer {
	samples := make([]int16, len(b)/2)
	for i := 0; i < len(samples); i++ {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return &pcmStreamer{data: samples}
}

func (s *pcmStreamer) Stream(samples [][2]float64) (n int, ok bool) {
	for i := range samples {
		if s.pos >= len(s.data) {
			return i, false
		}
		val := float64(s.data[s.pos]) / 32768.0
		samples[i][0] = val
		samples[i][1] = val
		s.pos++
	}
	return len(samples), true
}

func (s *pcmStreamer) Err() error { return nil }

// ResamplePCM16 converts little-endian mono PCM16 between sample rates.
func ResamplePCM16(pcm []byte, fromRate, toRate int) ([]byte, error) {
	if fromRate == toRate || len(pcm) < 2 {
		return append([]byte(nil), pcm...), nil
	}

	resampler := beep.Resample(3, beep.SampleRate(fromRate), beep.SampleRate(toRate), newPCMStreamer(pcm))

	buf := new(bytes.Buffer)
	sample := make([][2]float64, 1024)

	for {
		n, ok := resampler.Stream(sample)
		for i := 0; i < n; i++ {
			mono := (sample[i][0] + sample[i][1]) / 2.0
			if err := binary.Write(buf, binary.LittleEndian, int16(mono*32767)); err != nil {
				return nil, err
			}
		}
		if !ok {
			break
		}
	}

	return buf.Bytes(), nil
}

// remoteAudio buffers the Ogg/Opus stream of the remote track for a reader on
// the playback side. Pages that do not fit are dropped whole so the stream
// stays decodable.
type remoteAudio struct {
	rb *ringbuffer.RingBuffer
}

func newRemoteAudio(size int) *remoteAudio {
	return &remoteAudio{rb: ringbuffer.New(size).SetBlocking(true)}
}

func (a *remoteAudio) Write(p []byte) (int, error) {
	if a.rb.Free() < len(p) {
		metrics.DroppedMessages.WithLabelValues("remote_audio").Inc()
		return len(p), nil
	}
	return a.rb.Write(p)
}

// Read blocks until audio is available. A reset on disconnect does not end
// the stream; io.EOF is returned after Close.
func (a *remoteAudio) Read(p []byte) (int, error) {
	for {
		n, err := a.rb.Read(p)
		if err != nil && err.Error() == ringbufferResetMessage {
			if n > 0 {
				return n, nil
			}
			// let the reset finish before blocking again
			time.Sleep(resetBackoff)
			continue
		}
		return n, err
	}
}

// Close ends the stream for readers once buffered audio is consumed.
func (a *remoteAudio) Close() {
	a.rb.CloseWriter()
}

// Reset discards buffered audio.
func (a *remoteAudio) Reset() {
	a.rb.Reset()
}

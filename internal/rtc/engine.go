package rtc

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/codewandler/openairtc-go/transport"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
)

// Engine constructs peer connections. PionEngine is the production
// implementation; tests substitute their own.
type Engine interface {
	NewPeerConnection() (PeerConnection, error)
}

// PeerConnection is the part of a WebRTC peer connection the Manager drives.
// Session descriptions are passed as raw SDP text.
type PeerConnection interface {
	AddAudioTrack(trackID, streamID string) (AudioTrack, error)
	CreateDataChannel(label string) (DataChannel, error)
	CreateOffer() (string, error)
	SetLocalDescription(sdp string) error
	// GatheredLocalDescription waits for ICE gathering and returns the local
	// description including its candidates.
	GatheredLocalDescription(ctx context.Context) (string, error)
	SetRemoteDescription(sdp string) error
	OnConnectionStateChange(f func(webrtc.PeerConnectionState))
	// PipeRemoteAudio writes every remote audio track to w as Ogg/Opus pages.
	PipeRemoteAudio(w io.Writer)
	Close() error
}

type AudioTrack interface {
	transport.Microphone
	WriteSample(s media.Sample) error
}

type DataChannel interface {
	OnOpen(f func())
	OnClose(f func())
	OnMessage(f func(data []byte, binary bool))
	SendText(s string) error
	Close() error
}

// PionEngine creates peer connections with pion/webrtc.
type PionEngine struct {
	// ICEServers is empty by default; the remote side is reachable directly.
	ICEServers []webrtc.ICEServer
	// API overrides the default pion API, e.g. to install a SettingEngine.
	API    *webrtc.API
	Logger *slog.Logger
}

func (e *PionEngine) NewPeerConnection() (PeerConnection, error) {
	config := webrtc.Configuration{
		ICEServers:   e.ICEServers,
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlan,
	}

	var (
		pc  *webrtc.PeerConnection
		err error
	)
	if e.API != nil {
		pc, err = e.API.NewPeerConnection(config)
	} else {
		pc, err = webrtc.NewPeerConnection(config)
	}
	if err != nil {
		return nil, err
	}

	logger := e.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &pionPeer{pc: pc, logger: logger}, nil
}

type pionPeer struct {
	pc     *webrtc.PeerConnection
	logger *slog.Logger
}

func (p *pionPeer) AddAudioTrack(trackID, streamID string) (AudioTrack, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: 48000,
			Channels:  2,
		},
		trackID,
		streamID,
	)
	if err != nil {
		return nil, err
	}

	sender, err := p.pc.AddTrack(track)
	if err != nil {
		return nil, err
	}

	// RTCP has to be drained for interceptors to work.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()

	return newLocalTrack(track), nil
}

func (p *pionPeer) CreateDataChannel(label string) (DataChannel, error) {
	ordered := true
	dc, err := p.pc.CreateDataChannel(label, &webrtc.DataChannelInit{
		Ordered: &ordered,
	})
	if err != nil {
		return nil, err
	}
	return &pionChannel{dc: dc}, nil
}

func (p *pionPeer) CreateOffer() (string, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return "", err
	}
	return offer.SDP, nil
}

func (p *pionPeer) SetLocalDescription(sdp string) error {
	return p.pc.SetLocalDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  sdp,
	})
}

func (p *pionPeer) GatheredLocalDescription(ctx context.Context) (string, error) {
	select {
	case <-webrtc.GatheringCompletePromise(p.pc):
	case <-ctx.Done():
		return "", ctx.Err()
	}

	desc := p.pc.LocalDescription()
	if desc == nil {
		return "", errors.New("local description missing after gathering")
	}
	return desc.SDP, nil
}

func (p *pionPeer) SetRemoteDescription(sdp string) error {
	return p.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	})
}

func (p *pionPeer) OnConnectionStateChange(f func(webrtc.PeerConnectionState)) {
	p.pc.OnConnectionStateChange(f)
}

func (p *pionPeer) PipeRemoteAudio(w io.Writer) {
	p.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if track.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}

		codec := track.Codec()
		logger := p.logger.With(slog.String("track", track.ID()), slog.String("codec", codec.MimeType))
		logger.Debug("remote audio track")

		ogg, err := oggwriter.NewWith(w, codec.ClockRate, codec.Channels)
		if err != nil {
			logger.Error("failed to create ogg writer", slog.Any("err", err))
			return
		}
		defer ogg.Close()

		for {
			pkt, _, err := track.ReadRTP()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					logger.Debug("remote audio track ended", slog.Any("err", err))
				}
				return
			}
			if err := ogg.WriteRTP(pkt); err != nil {
				logger.Error("failed to write remote audio", slog.Any("err", err))
				return
			}
		}
	})
}

func (p *pionPeer) Close() error {
	return p.pc.Close()
}

type pionChannel struct {
	dc *webrtc.DataChannel
}

func (c *pionChannel) OnOpen(f func())  { c.dc.OnOpen(f) }
func (c *pionChannel) OnClose(f func()) { c.dc.OnClose(f) }

func (c *pionChannel) OnMessage(f func(data []byte, binary bool)) {
	c.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		f(msg.Data, !msg.IsString)
	})
}

func (c *pionChannel) SendText(s string) error { return c.dc.SendText(s) }
func (c *pionChannel) Close() error            { return c.dc.Close() }

// localTrack drops samples while disabled, so muting never renegotiates.
type localTrack struct {
	track   *webrtc.TrackLocalStaticSample
	enabled atomic.Bool
}

func newLocalTrack(track *webrtc.TrackLocalStaticSample) *localTrack {
	t := &localTrack{track: track}
	t.enabled.Store(true)
	return t
}

func (t *localTrack) SetEnabled(enabled bool) { t.enabled.Store(enabled) }
func (t *localTrack) Enabled() bool           { return t.enabled.Load() }

func (t *localTrack) WriteSample(s media.Sample) error {
	if !t.enabled.Load() {
		return nil
	}
	return t.track.WriteSample(s)
}

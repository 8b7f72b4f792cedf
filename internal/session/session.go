// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package session implements the WebRTC signaling state machine and the
// Session object that owns one client's live transcription: the Pion peer
// connection, the audio pipeline, the recognizer workers, the diarizer,
// and the Q/A extractor.
package session

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/realtalk/sttgateway/internal/audio"
	"github.com/realtalk/sttgateway/internal/control"
	"github.com/realtalk/sttgateway/internal/diarization"
	sttErrors "github.com/realtalk/sttgateway/internal/errors"
	"github.com/realtalk/sttgateway/internal/events"
	"github.com/realtalk/sttgateway/internal/persistence"
	"github.com/realtalk/sttgateway/internal/qa"
	"github.com/realtalk/sttgateway/internal/recognizer"
	"github.com/realtalk/sttgateway/pkg/commons"
	"github.com/realtalk/sttgateway/pkg/connectors"
)

// State is the session's signaling lifecycle position.
type State int

const (
	StateIdle State = iota
	StateNegotiating
	StateLive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateNegotiating:
		return "NEGOTIATING"
	case StateLive:
		return "LIVE"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Opus codec parameters registered for the receive-only audio
// transceiver; 111 is the payload type browsers conventionally offer.
const (
	opusSDPFmtpLine = "minptime=10;useinbandfec=1"
	opusPayloadType = 111
)

// Config carries the per-session tunables derived from config.AppConfig.
type Config struct {
	ICEServers       []webrtc.ICEServer
	Audio            audio.Config
	Recognizer       recognizer.Config
	QATimeWindowSec  float64
	QASentenceWindow int
	StopJoinTimeout  time.Duration

	// ObjectStore, if non-nil, receives the session's capture WAV on Stop.
	// Optional: absent means capture stays local to StorageDir only.
	ObjectStore connectors.ObjectStore
}

// RecognizerFactory builds an unopened StreamingRecognizer for one
// session: production wiring passes a closure constructing a
// GoogleRecognizer/DeepgramRecognizer; tests pass one returning a
// FakeRecognizer.
type RecognizerFactory func() recognizer.StreamingRecognizer

// Session owns one client's live transcription. Background tasks hold
// only the cancellation context and channels, never a back-reference to
// the session, so teardown is a one-way flow: context fires, workers
// exit, the session frees its resources.
type Session struct {
	id      string
	conn    *control.Conn
	emitter *events.Emitter
	logger  commons.Logger
	cfg     Config

	recognizerFactory RecognizerFactory
	store             persistence.Store

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	state  State
	roomID string
	pc     *webrtc.PeerConnection

	pipeline       *audio.Pipeline
	recognizerOnce sync.Once
	recognizer     recognizer.StreamingRecognizer

	diarizer *diarization.Processor
	qaExt    *qa.Extractor

	partials int64
	finals   int64

	persistedSegments []persistence.TranscriptSegment
	persistedSeen     map[string]struct{}
	persistedQA       []persistence.QAPair

	startedAt time.Time

	stopOnce     sync.Once
	audioWG      sync.WaitGroup
	recognizerWG sync.WaitGroup
}

// New builds a Session bound to conn, ready to accept HandleOffer /
// AddIceCandidate / Stop. The audio pipeline (and its capture writers)
// are opened eagerly since the session id is already known; the peer
// connection and recognizer are created lazily on the first offer.
func New(id string, conn *control.Conn, logger commons.Logger, cfg Config, recognizerFactory RecognizerFactory, store persistence.Store) (*Session, error) {
	pipeline, err := audio.NewPipeline(cfg.Audio, id, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build audio pipeline for session %s: %w", id, err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	if cfg.StopJoinTimeout <= 0 {
		cfg.StopJoinTimeout = 2 * time.Second
	}

	return &Session{
		id:                id,
		conn:              conn,
		emitter:           events.NewEmitter(conn),
		logger:            logger,
		cfg:               cfg,
		recognizerFactory: recognizerFactory,
		store:             store,
		ctx:               ctx,
		cancel:            cancel,
		pipeline:          pipeline,
		diarizer:          diarization.NewProcessor(),
		qaExt:             qa.NewExtractor(cfg.QATimeWindowSec, cfg.QASentenceWindow),
		persistedSeen:     make(map[string]struct{}),
		startedAt:         time.Now(),
	}, nil
}

// ID returns the session's opaque identifier.
func (s *Session) ID() string { return s.id }

// Ready emits session.ready{session_id}, the reply to session.init.
func (s *Session) Ready() error {
	return s.emitter.SessionReady(s.id)
}

// State reports the session's current signaling state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetRoomID binds the room this session's transcript/Q&A should be
// persisted against. Unset at Stop skips persistence entirely; no
// default is guessed.
func (s *Session) SetRoomID(roomID string) {
	s.mu.Lock()
	s.roomID = roomID
	s.mu.Unlock()
}

func (s *Session) peerConnection() *webrtc.PeerConnection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pc
}

// HandleOffer drives the offer/answer handshake: on the first offer it
// creates the peer connection and starts the recognizer worker; on
// renegotiation it reuses the existing one. It sets the local answer and
// emits rtc.answer itself.
func (s *Session) HandleOffer(sdp, sdpType string) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	first := s.pc == nil
	s.mu.Unlock()

	if first {
		if err := s.createPeerConnection(); err != nil {
			return sttErrors.New(sttErrors.InvalidOffer, "failed to create peer connection: %v", err)
		}
	}

	pc := s.peerConnection()
	if pc == nil {
		return sttErrors.New(sttErrors.InvalidOffer, "peer connection unavailable")
	}

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: sdpTypeFromString(sdpType),
		SDP:  sdp,
	}); err != nil {
		return sttErrors.New(sttErrors.InvalidOffer, "failed to set remote description: %v", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return sttErrors.New(sttErrors.InvalidOffer, "failed to create answer: %v", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return sttErrors.New(sttErrors.InvalidOffer, "failed to set local description: %v", err)
	}

	s.mu.Lock()
	if s.state == StateIdle {
		s.state = StateNegotiating
	}
	s.mu.Unlock()

	return s.emitter.RTCAnswer(answer.SDP, "answer", s.id)
}

// AddIceCandidate parses and applies one remote ICE candidate. A
// nil/empty candidate signals end-of-candidates.
func (s *Session) AddIceCandidate(candidate *string, sdpMid *string, sdpMLineIndex *uint16) error {
	pc := s.peerConnection()
	if pc == nil {
		return sttErrors.New(sttErrors.SessionNotInitialized, "no active peer connection")
	}

	if candidate == nil || *candidate == "" {
		if err := pc.AddICECandidate(webrtc.ICECandidateInit{}); err != nil {
			return sttErrors.New(sttErrors.InvalidCandidate, "failed to signal end-of-candidates: %v", err)
		}
		return nil
	}

	if err := pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     *candidate,
		SDPMid:        sdpMid,
		SDPMLineIndex: sdpMLineIndex,
	}); err != nil {
		return sttErrors.New(sttErrors.InvalidCandidate, "failed to add ice candidate: %v", err)
	}
	return nil
}

func sdpTypeFromString(t string) webrtc.SDPType {
	switch t {
	case "pranswer":
		return webrtc.SDPTypePranswer
	case "rollback":
		return webrtc.SDPTypeRollback
	case "answer":
		return webrtc.SDPTypeAnswer
	default:
		return webrtc.SDPTypeOffer
	}
}

// createPeerConnection builds the Pion peer connection for this session:
// Opus codec registration, default interceptors, a receive-only audio
// transceiver, and the ICE/track/state event handlers.
func (s *Session) createPeerConnection() error {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   audio.OpusSampleRate,
			Channels:    audio.OpusChannels,
			SDPFmtpLine: opusSDPFmtpLine,
		},
		PayloadType: opusPayloadType,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return fmt.Errorf("failed to register opus codec: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return fmt.Errorf("failed to register interceptors: %w", err)
	}

	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine), webrtc.WithInterceptorRegistry(registry))

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: s.cfg.ICEServers})
	if err != nil {
		return fmt.Errorf("failed to create peer connection: %w", err)
	}

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		pc.Close()
		return fmt.Errorf("failed to add recvonly audio transceiver: %w", err)
	}

	s.mu.Lock()
	s.pc = pc
	s.mu.Unlock()

	s.setupPeerEventHandlers(pc)
	s.startRecognizer()

	return nil
}

func (s *Session) setupPeerEventHandlers(pc *webrtc.PeerConnection) {
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			if err := s.emitter.RTCCandidate(nil, nil, nil); err != nil {
				s.Stop("control channel write failed")
			}
			return
		}
		j := c.ToJSON()
		cand := j.Candidate
		if err := s.emitter.RTCCandidate(&cand, j.SDPMid, j.SDPMLineIndex); err != nil {
			s.Stop("control channel write failed")
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.logger.Infow("peer connection state changed", "session", s.id, "state", state.String())

		switch state {
		case webrtc.PeerConnectionStateConnected:
			s.mu.Lock()
			if s.state != StateClosed {
				s.state = StateLive
			}
			s.mu.Unlock()

		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			s.Stop(fmt.Sprintf("peer connection %s", state.String()))
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if track.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		s.audioWG.Add(1)
		go s.readRemoteAudio(track)
	})
}

// readRemoteAudio is the audio-track consumer task: it reads RTP packets
// off the remote track and hands raw Opus payloads to the audio pipeline,
// which never blocks or panics on this path.
func (s *Session) readRemoteAudio(track *webrtc.TrackRemote) {
	defer s.audioWG.Done()

	buf := make([]byte, 1500)
	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		n, _, err := track.Read(buf)
		if err != nil {
			return
		}

		pkt := &rtp.Packet{}
		if unmarshalErr := pkt.Unmarshal(buf[:n]); unmarshalErr != nil {
			continue
		}
		if len(pkt.Payload) == 0 {
			continue
		}

		s.pipeline.HandleOpusPacket(pkt.Payload)
	}
}

// startRecognizer opens the upstream recognizer and, on success, starts
// the sender/receiver worker tasks. If Open fails, the error is surfaced
// once as stt.error and the audio pipeline keeps queuing (and dropping
// under backpressure) until Stop.
func (s *Session) startRecognizer() {
	s.recognizerOnce.Do(func() {
		rec := s.recognizerFactory()
		s.mu.Lock()
		s.recognizer = rec
		s.mu.Unlock()

		if err := rec.Open(s.ctx, s.cfg.Recognizer); err != nil {
			s.emitRecognizerErr(err)
			return
		}

		s.recognizerWG.Add(2)
		go s.runRecognizerSender(rec)
		go s.runRecognizerReceiver(rec)
	})
}

func (s *Session) emitRecognizerErr(err error) {
	if wireErr, ok := err.(*sttErrors.WireError); ok {
		s.emitter.Error(wireErr.Code, wireErr.Message)
		return
	}
	s.emitter.Error(sttErrors.UpstreamFail, err.Error())
}

// runRecognizerSender drains the PCM queue and forwards chunks upstream
// until the teardown sentinel arrives, at which point it closes the send
// side.
func (s *Session) runRecognizerSender(rec recognizer.StreamingRecognizer) {
	defer s.recognizerWG.Done()

	for chunk := range s.pipeline.Queue().Chan() {
		if chunk == nil {
			rec.CloseSend()
			return
		}
		if err := rec.Send(chunk); err != nil {
			s.emitRecognizerErr(sttErrors.New(sttErrors.UpstreamFail, "failed to send audio chunk: %v", err))
			return
		}
	}
}

// runRecognizerReceiver dispatches recognizer events to
// diarization/Q&A/emitter, keeping that work off the audio path.
func (s *Session) runRecognizerReceiver(rec recognizer.StreamingRecognizer) {
	defer s.recognizerWG.Done()

	stream, err := rec.Recv()
	if err != nil {
		s.emitRecognizerErr(sttErrors.New(sttErrors.UpstreamFail, "failed to open recognizer stream: %v", err))
		return
	}

	for ev := range stream {
		s.handleRecognizerEvent(ev)
	}
}

func (s *Session) handleRecognizerEvent(ev recognizer.Event) {
	switch ev.Kind {
	case recognizer.EventInterim:
		emitted, _ := s.emitter.Partial(ev.Text)
		if emitted {
			s.mu.Lock()
			s.partials++
			s.mu.Unlock()
		}

	case recognizer.EventFinal:
		s.handleFinal(ev)

	case recognizer.EventError:
		s.emitter.Error(sttErrors.Code(ev.ErrorCode), ev.ErrorMessage)
	}
}

func (s *Session) handleFinal(ev recognizer.Event) {
	s.mu.Lock()
	s.finals++
	s.mu.Unlock()

	words := make([]diarization.Word, len(ev.Words))
	for i, w := range ev.Words {
		words[i] = diarization.Word{Word: w.Word, Start: w.Start, End: w.End, SpeakerTag: w.SpeakerTag}
	}

	s.mu.Lock()
	segments := s.diarizer.ProcessFinal(ev.Text, words)
	s.mu.Unlock()

	if len(segments) > 0 {
		wireSegments := make([]events.Segment, len(segments))
		for i, seg := range segments {
			wireSegments[i] = events.Segment{Speaker: seg.Speaker, Text: seg.Text, Start: seg.Start, End: seg.End}
		}
		s.emitter.FinalSegments(wireSegments)
		s.appendPersistedSegments(segments)

		s.mu.Lock()
		pairs := s.qaExt.AppendSegments(segments)
		s.mu.Unlock()
		if len(pairs) > 0 {
			s.emitQAPairs(pairs, false)
		}
	}

	bytesIn, chunks, _ := s.pipeline.Stats()
	s.mu.Lock()
	partials, finals := s.partials, s.finals
	s.mu.Unlock()

	s.emitter.StatsEvent(events.Stats{
		Partials: int(partials),
		Finals:   int(finals),
		Bytes:    int(bytesIn),
		Chunks:   int(chunks),
	})
}

func (s *Session) appendPersistedSegments(segments []diarization.Segment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, seg := range segments {
		key := persistence.SegmentKey(seg.Speaker, seg.Start, seg.End, seg.Text)
		if _, seen := s.persistedSeen[key]; seen {
			continue
		}
		s.persistedSeen[key] = struct{}{}
		s.persistedSegments = append(s.persistedSegments, persistence.TranscriptSegment{
			Speaker:    seg.Speaker,
			Text:       seg.Text,
			Start:      seg.Start,
			End:        seg.End,
			SegmentKey: key,
		})
	}
}

func (s *Session) emitQAPairs(pairs []qa.Pair, final bool) {
	wire := make([]events.QAPair, len(pairs))
	s.mu.Lock()
	for i, p := range pairs {
		wire[i] = events.QAPair{
			QText: p.QText, QSpeaker: p.QSpeaker, QTime: p.QTime,
			AText: p.AText, ASpeaker: p.ASpeaker, ATime: p.ATime,
			Confidence: p.Confidence,
		}
		s.persistedQA = append(s.persistedQA, persistence.QAPair{
			QText: p.QText, QSpeaker: p.QSpeaker, QTime: p.QTime,
			AText: p.AText, ASpeaker: p.ASpeaker, ATime: p.ATime,
			Confidence: p.Confidence,
		})
	}
	s.mu.Unlock()

	s.emitter.QAPairs(wire, final)
}

// Stop tears the session down: signal cancellation, close the peer
// connection, queue the teardown sentinel (the sender drains the PCM queue
// up to it, then closes the recognizer send side), join the workers, flush
// pending Q/A, persist, emit session.close. Idempotent via sync.Once.
func (s *Session) Stop(reason string) {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		pc := s.pc
		s.mu.Unlock()

		s.cancel()

		// Closing the peer connection first unblocks the audio consumer's
		// track.Read; the sentinel then releases the recognizer sender.
		if pc != nil {
			pc.Close()
		}

		if s.pipeline != nil {
			s.pipeline.Queue().PushSentinel()
		}

		done := make(chan struct{})
		go func() {
			s.audioWG.Wait()
			s.recognizerWG.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(s.cfg.StopJoinTimeout):
			s.logger.Warnf("session %s: teardown tasks did not exit within %s", s.id, s.cfg.StopJoinTimeout)
		}

		recordingAvailable := false
		if s.pipeline != nil {
			recordingAvailable = s.pipeline.CaptureEnabled()
			s.pipeline.Close()
			if recordingAvailable && s.cfg.ObjectStore != nil {
				s.uploadCapture()
			}
		}

		s.mu.Lock()
		rec := s.recognizer
		s.mu.Unlock()
		if rec != nil {
			rec.Close()
		}

		s.flushQA()
		s.persist()

		s.emitter.SessionClose(reason, recordingAvailable)
	})
}

// flushQA re-runs extraction with no new segments (the sentence list is
// already complete) and emits whatever falls out as the final, possibly
// empty, stt.qa_pairs event.
func (s *Session) flushQA() {
	s.mu.Lock()
	pairs := s.qaExt.AppendSegments(nil)
	s.mu.Unlock()

	s.emitQAPairs(pairs, true)
}

// persist calls the persistence boundary at most once per session. An
// unbound room_id or an empty transcript+Q&A pair skips persistence
// entirely; failures are logged, never surfaced to the client.
func (s *Session) persist() {
	s.mu.Lock()
	roomID := s.roomID
	segments := s.persistedSegments
	qaPairs := s.persistedQA
	s.mu.Unlock()

	if roomID == "" || s.store == nil {
		return
	}
	if len(segments) == 0 && len(qaPairs) == 0 {
		return
	}

	record := persistence.TranscriptRecord{
		RoomID:     roomID,
		Transcript: segments,
		QA:         qaPairs,
	}
	if err := s.store.Upsert(context.Background(), record); err != nil {
		s.logger.Errorf("session %s: failed to persist transcript record: %v", s.id, err)
	}
}

// uploadCapture pushes the session's local capture WAV to the configured
// object store under "{session_id}.wav". Failures are logged, never
// surfaced to the client: the session is already closing.
func (s *Session) uploadCapture() {
	path := s.cfg.Audio.StorageDir + "/" + s.id + ".wav"

	body, err := os.ReadFile(path)
	if err != nil {
		s.logger.Warnf("session %s: failed to read capture file for upload: %v", s.id, err)
		return
	}

	key := s.id + ".wav"
	if err := s.cfg.ObjectStore.Put(context.Background(), key, body, "audio/wav"); err != nil {
		s.logger.Warnf("session %s: failed to upload capture to object store: %v", s.id, err)
	}
}

// Stats returns the running partial/final counters, for tests and
// diagnostics.
func (s *Session) Stats() (partials, finals int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.partials, s.finals
}

package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/aura-webinar/livesession/internal/models"
	"github.com/aura-webinar/livesession/internal/session"
	"github.com/aura-webinar/livesession/pkg/apperr"
)

// RTP buffer size (MTU-friendly). Used with sync.Pool to avoid per-packet allocs.
const rtpBufferSize = 1500

const transportEventTimeout = 5 * time.Second

var rtpBufferPool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, rtpBufferSize)
		return &b
	},
}

// TransportEvents receives publisher connection-state changes. Implemented by session.Manager.
type TransportEvents interface {
	HandleTransportEvent(ctx context.Context, sessionID string, evt session.TransportEvent) error
}

// PublishPolicy decides whether a participant may send media into a session.
type PublishPolicy func(sessionID, participantID string, role models.Role) bool

// StagePolicy allows hosts and co-hosts, and participants whose hand-raise put them on stage.
func StagePolicy(m *session.Manager) PublishPolicy {
	return func(sessionID, participantID string, role models.Role) bool {
		if role.CanModerate() {
			return true
		}
		co, ok := m.Get(sessionID)
		if !ok {
			return false
		}
		return co.HandRaise(participantID).State.OnStage()
	}
}

// SFU relays the media of the session's publishers (hosts and on-stage participants) to subscribers.
type SFU struct {
	rooms  map[string]*sfuRoom
	mu     sync.RWMutex
	log    *zap.Logger
	cfg    webrtc.Configuration
	events TransportEvents
	policy PublishPolicy
}

type sfuRoom struct {
	sessionID   string
	publishers  map[string]*publisherPeer
	subscribers map[string]*subscriberPeer
	mu          sync.RWMutex
	log         *zap.Logger
}

type publisherPeer struct {
	participantID string
	pc            *webrtc.PeerConnection
	tracks        []*relayTrack
}

type relayTrack struct {
	remote *webrtc.TrackRemote
	locals []*webrtc.TrackLocalStaticRTP
	mu     sync.Mutex
}

type subscriberPeer struct {
	pc   *webrtc.PeerConnection
	send func(event string, payload interface{})
}

// NewSFU creates an SFU with the given ICE (STUN/TURN) configuration. events and policy may be nil.
func NewSFU(log *zap.Logger, iceServers []webrtc.ICEServer, events TransportEvents, policy PublishPolicy) *SFU {
	cfg := webrtc.Configuration{ICEServers: iceServers}
	if len(cfg.ICEServers) == 0 {
		cfg.ICEServers = defaultICE
	}
	return &SFU{
		rooms:  make(map[string]*sfuRoom),
		log:    log,
		cfg:    cfg,
		events: events,
		policy: policy,
	}
}

func (s *SFU) getOrCreateRoom(sessionID string) *sfuRoom {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rooms[sessionID]; ok {
		return r
	}
	r := &sfuRoom{
		sessionID:   sessionID,
		publishers:  make(map[string]*publisherPeer),
		subscribers: make(map[string]*subscriberPeer),
		log:         s.log.With(zap.String("session_id", sessionID)),
	}
	s.rooms[sessionID] = r
	return r
}

func (s *SFU) getRoom(sessionID string) *sfuRoom {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rooms[sessionID]
}

func (s *SFU) newPeerConnection() (*webrtc.PeerConnection, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine))
	return api.NewPeerConnection(s.cfg)
}

func (s *SFU) emit(sessionID string, evt session.TransportEvent) {
	if s.events == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), transportEventTimeout)
	defer cancel()
	if err := s.events.HandleTransportEvent(ctx, sessionID, evt); err != nil {
		s.log.Debug("transport event", zap.String("session_id", sessionID),
			zap.String("kind", string(evt.Kind)), zap.Error(err))
	}
}

// HandlePublisherOffer answers the SDP offer of a publisher. A previous connection of the same
// participant is replaced.
func (s *SFU) HandlePublisherOffer(sessionID, participantID string, role models.Role, sdp webrtc.SessionDescription, sendToClient func(event string, payload interface{})) error {
	if s.policy != nil && !s.policy(sessionID, participantID, role) {
		sendToClient("webrtc_error", map[string]string{"message": "not_on_stage"})
		return fmt.Errorf("%w: %s may not publish", apperr.ErrForbidden, participantID)
	}
	s.closePublisher(sessionID, participantID)
	r := s.getOrCreateRoom(sessionID)

	pc, err := s.newPeerConnection()
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrTransportFailure, err)
	}
	pub := &publisherPeer{participantID: participantID, pc: pc}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		b, _ := json.Marshal(c.ToJSON())
		sendToClient("webrtc_ice", map[string]interface{}{"target": "publisher", "candidate": json.RawMessage(b)})
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		relay := &relayTrack{remote: track}
		r.mu.Lock()
		pub.tracks = append(pub.tracks, relay)
		r.mu.Unlock()
		r.relayTrackToSubscribers(relay)
		go relay.readAndForward()
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		r.log.Debug("publisher connection state", zap.String("participant_id", participantID), zap.String("state", state.String()))
		switch state {
		case webrtc.PeerConnectionStateConnected:
			s.emit(sessionID, session.TransportEvent{Kind: session.TransportPublisherConnected, ParticipantID: participantID})
		case webrtc.PeerConnectionStateFailed:
			s.emit(sessionID, session.TransportEvent{Kind: session.TransportPublisherFailed, ParticipantID: participantID, Reason: "media connection failed"})
		}
	})

	if err := pc.SetRemoteDescription(sdp); err != nil {
		_ = pc.Close()
		return fmt.Errorf("%w: %v", apperr.ErrTransportFailure, err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		_ = pc.Close()
		return fmt.Errorf("%w: %v", apperr.ErrTransportFailure, err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		_ = pc.Close()
		return fmt.Errorf("%w: %v", apperr.ErrTransportFailure, err)
	}
	r.mu.Lock()
	r.publishers[participantID] = pub
	r.mu.Unlock()

	s.emit(sessionID, session.TransportEvent{Kind: session.TransportPublisherOffer, ParticipantID: participantID})
	sendToClient("webrtc_publisher_answer", map[string]interface{}{
		"type": answer.Type.String(),
		"sdp":  answer.SDP,
	})
	return nil
}

func (rt *relayTrack) readAndForward() {
	for {
		// Reuse buffer from pool to avoid per-packet allocs and bound memory.
		ptr := rtpBufferPool.Get().(*[]byte)
		buf := *ptr
		n, _, err := rt.remote.Read(buf)
		if err != nil {
			rtpBufferPool.Put(ptr)
			return
		}
		rt.mu.Lock()
		locals := make([]*webrtc.TrackLocalStaticRTP, len(rt.locals))
		copy(locals, rt.locals)
		rt.mu.Unlock()
		for _, local := range locals {
			_, _ = local.Write(buf[:n])
		}
		rtpBufferPool.Put(ptr)
	}
}

func (rt *relayTrack) newLocal() (*webrtc.TrackLocalStaticRTP, error) {
	local, err := webrtc.NewTrackLocalStaticRTP(rt.remote.Codec().RTPCodecCapability, rt.remote.ID(), rt.remote.StreamID())
	if err != nil {
		return nil, err
	}
	rt.mu.Lock()
	rt.locals = append(rt.locals, local)
	rt.mu.Unlock()
	return local, nil
}

// relayTrackToSubscribers adds a new publisher track to every subscriber and renegotiates.
func (r *sfuRoom) relayTrackToSubscribers(relay *relayTrack) {
	r.mu.RLock()
	subs := make([]*subscriberPeer, 0, len(r.subscribers))
	for _, sub := range r.subscribers {
		subs = append(subs, sub)
	}
	r.mu.RUnlock()
	for _, sub := range subs {
		local, err := relay.newLocal()
		if err != nil {
			continue
		}
		if _, err := sub.pc.AddTrack(local); err != nil {
			continue
		}
		if err := sendOffer(sub); err != nil {
			r.log.Debug("subscriber renegotiation", zap.Error(err))
		}
	}
}

func sendOffer(sub *subscriberPeer) error {
	offer, err := sub.pc.CreateOffer(nil)
	if err != nil {
		return err
	}
	if err := sub.pc.SetLocalDescription(offer); err != nil {
		return err
	}
	sub.send("webrtc_subscriber_offer", map[string]interface{}{
		"type": offer.Type.String(),
		"sdp":  offer.SDP,
	})
	return nil
}

// HandlePublisherICE adds an ICE candidate to the participant's publisher connection.
func (s *SFU) HandlePublisherICE(sessionID, participantID string, candidate webrtc.ICECandidateInit) error {
	r := s.getRoom(sessionID)
	if r == nil {
		return nil
	}
	r.mu.RLock()
	pub, ok := r.publishers[participantID]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	return pub.pc.AddICECandidate(candidate)
}

// HandleSubscribe creates a subscriber connection carrying every publisher track and sends the offer.
func (s *SFU) HandleSubscribe(sessionID, clientID string, sendToClient func(event string, payload interface{})) error {
	r := s.getRoom(sessionID)
	if r == nil {
		sendToClient("webrtc_error", map[string]string{"message": "no_stream"})
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var relays []*relayTrack
	for _, pub := range r.publishers {
		relays = append(relays, pub.tracks...)
	}
	if len(relays) == 0 {
		sendToClient("webrtc_error", map[string]string{"message": "no_stream"})
		return nil
	}

	pc, err := s.newPeerConnection()
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrTransportFailure, err)
	}
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		b, _ := json.Marshal(c.ToJSON())
		sendToClient("webrtc_ice", map[string]interface{}{"target": "subscriber", "candidate": json.RawMessage(b)})
	})
	for _, relay := range relays {
		local, err := relay.newLocal()
		if err != nil {
			continue
		}
		_, _ = pc.AddTrack(local)
	}

	sub := &subscriberPeer{pc: pc, send: sendToClient}
	if err := sendOffer(sub); err != nil {
		_ = pc.Close()
		return fmt.Errorf("%w: %v", apperr.ErrTransportFailure, err)
	}
	if old, ok := r.subscribers[clientID]; ok {
		_ = old.pc.Close()
	}
	r.subscribers[clientID] = sub
	return nil
}

// HandleSubscriberAnswer sets the remote description (answer) for the subscriber PC.
func (s *SFU) HandleSubscriberAnswer(sessionID, clientID string, sdp webrtc.SessionDescription) error {
	r := s.getRoom(sessionID)
	if r == nil {
		return nil
	}
	r.mu.RLock()
	sub, ok := r.subscribers[clientID]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	return sub.pc.SetRemoteDescription(sdp)
}

// HandleSubscriberICE adds ICE candidate to the subscriber PC.
func (s *SFU) HandleSubscriberICE(sessionID, clientID string, candidate webrtc.ICECandidateInit) error {
	r := s.getRoom(sessionID)
	if r == nil {
		return nil
	}
	r.mu.RLock()
	sub, ok := r.subscribers[clientID]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	return sub.pc.AddICECandidate(candidate)
}

// UnregisterClient removes a subscriber and closes their PC. Call when client leaves.
func (s *SFU) UnregisterClient(sessionID, clientID string) {
	r := s.getRoom(sessionID)
	if r == nil {
		return
	}
	r.mu.Lock()
	if sub, ok := r.subscribers[clientID]; ok {
		delete(r.subscribers, clientID)
		_ = sub.pc.Close()
	}
	r.mu.Unlock()
}

// ReleasePublisher stops relaying a participant's media. It implements session.MediaController
// and is called when a hand-raise leaves the stage.
func (s *SFU) ReleasePublisher(sessionID, participantID string) error {
	if !s.closePublisher(sessionID, participantID) {
		return nil
	}
	s.log.Info("publisher released", zap.String("session_id", sessionID), zap.String("participant_id", participantID))
	return nil
}

func (s *SFU) closePublisher(sessionID, participantID string) bool {
	r := s.getRoom(sessionID)
	if r == nil {
		return false
	}
	r.mu.Lock()
	pub, ok := r.publishers[participantID]
	delete(r.publishers, participantID)
	r.mu.Unlock()
	if !ok {
		return false
	}
	_ = pub.pc.Close()
	return true
}

// CloseSession closes every connection of a session.
func (s *SFU) CloseSession(sessionID string) {
	s.mu.Lock()
	r, ok := s.rooms[sessionID]
	delete(s.rooms, sessionID)
	s.mu.Unlock()
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, pub := range r.publishers {
		_ = pub.pc.Close()
	}
	for _, sub := range r.subscribers {
		_ = sub.pc.Close()
	}
}

// Publishers returns the participants currently publishing into a session.
func (s *SFU) Publishers(sessionID string) []string {
	r := s.getRoom(sessionID)
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.publishers))
	for id := range r.publishers {
		out = append(out, id)
	}
	return out
}

var defaultICE = []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}

// ParseICEServers builds the ICE configuration from STUN/TURN URLs.
func ParseICEServers(urls []string) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(urls))
	for _, u := range urls {
		if u == "" {
			continue
		}
		out = append(out, webrtc.ICEServer{URLs: []string{u}})
	}
	if len(out) == 0 {
		return defaultICE
	}
	return out
}

package relay

import (
	"sort"
	"sync"

	"github.com/dkeye/fieldlink/internal/core"
	"github.com/dkeye/fieldlink/internal/domain"
)

// roster is the session's view of remote participants and their
// publications, fed by signal messages and subscribed tracks.
type roster struct {
	local domain.Identity

	mu           sync.RWMutex
	participants map[domain.Identity]*member
	// tracks that arrived before their publication was announced
	orphans map[string]core.TrackRef
}

type member struct {
	participant domain.Participant
	pubs        map[string]*core.Publication
	order       []string
}

func newRoster(local domain.Identity) *roster {
	return &roster{
		local:        local,
		participants: make(map[domain.Identity]*member),
		orphans:      make(map[string]core.TrackRef),
	}
}

// reset replaces the roster with a full room state. Tracks no longer
// published are returned so their relays can be stopped.
func (r *roster) reset(ps []participantInfo) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.participants
	r.participants = make(map[domain.Identity]*member)
	for _, p := range ps {
		if p.Identity == r.local {
			continue
		}
		m := newMember(p)
		if prev, ok := old[p.Identity]; ok {
			for id, pub := range m.pubs {
				if prevPub, ok := prev.pubs[id]; ok {
					pub.Track = prevPub.Track
				}
			}
		}
		r.adoptOrphansLocked(m)
		r.participants[p.Identity] = m
	}

	var gone []string
	for identity, prev := range old {
		cur := r.participants[identity]
		for id, pub := range prev.pubs {
			if pub.Track == nil {
				continue
			}
			if cur == nil || cur.pubs[id] == nil {
				gone = append(gone, id)
			}
		}
	}
	return gone
}

func (r *roster) join(p participantInfo) bool {
	if p.Identity == r.local || p.Identity == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	m := newMember(p)
	if prev, ok := r.participants[p.Identity]; ok {
		// rejoin keeps subscriptions that are still published
		for id, pub := range m.pubs {
			if prevPub, ok := prev.pubs[id]; ok {
				pub.Track = prevPub.Track
			}
		}
	}
	r.adoptOrphansLocked(m)
	r.participants[p.Identity] = m
	return true
}

// leave removes a participant and returns its subscribed track ids.
func (r *roster) leave(identity domain.Identity) ([]string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.participants[identity]
	if !ok {
		return nil, false
	}
	delete(r.participants, identity)
	var ids []string
	for id, pub := range m.pubs {
		if pub.Track != nil {
			ids = append(ids, id)
		}
	}
	return ids, true
}

func (r *roster) publish(identity domain.Identity, t trackInfo) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.participants[identity]
	if !ok || t.TrackID == "" {
		return false
	}
	if _, exists := m.pubs[t.TrackID]; !exists {
		m.order = append(m.order, t.TrackID)
	}
	pub := &core.Publication{TrackID: t.TrackID, Kind: t.Kind, Muted: t.Muted}
	if prev, ok := m.pubs[t.TrackID]; ok {
		pub.Track = prev.Track
	}
	m.pubs[t.TrackID] = pub
	r.adoptOrphansLocked(m)
	return true
}

// unpublish drops a publication and reports whether it was subscribed.
func (r *roster) unpublish(identity domain.Identity, trackID string) (subscribed, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, found := r.participants[identity]
	if !found {
		return false, false
	}
	pub, found := m.pubs[trackID]
	if !found {
		return false, false
	}
	delete(m.pubs, trackID)
	m.order = remove(m.order, trackID)
	return pub.Track != nil, true
}

func (r *roster) setMuted(identity domain.Identity, trackID string, muted bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.participants[identity]
	if !ok {
		return false
	}
	pub, ok := m.pubs[trackID]
	if !ok {
		return false
	}
	pub.Muted = muted
	if pub.Kind == domain.TrackAudio {
		m.participant.MicEnabled = !muted
	}
	return true
}

// subscribe binds a live track to its publication. A track whose
// publication is not known yet is parked until it is announced.
func (r *roster) subscribe(identity domain.Identity, track core.TrackRef) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.participants[identity]
	if !ok {
		r.orphans[track.ID()] = track
		return false
	}
	pub, ok := m.pubs[track.ID()]
	if !ok {
		r.orphans[track.ID()] = track
		return false
	}
	pub.Track = track
	return true
}

// unsubscribe clears the live track of trackID wherever it is bound.
func (r *roster) unsubscribe(trackID string) (domain.Identity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.orphans, trackID)
	for identity, m := range r.participants {
		if pub, ok := m.pubs[trackID]; ok && pub.Track != nil {
			pub.Track = nil
			return identity, true
		}
	}
	return "", false
}

func (r *roster) snapshot() []core.RemoteParticipant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.RemoteParticipant, 0, len(r.participants))
	for _, m := range r.participants {
		rp := core.RemoteParticipant{Participant: m.participant}
		for _, id := range m.order {
			rp.Publications = append(rp.Publications, *m.pubs[id])
		}
		out = append(out, rp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Participant.Identity < out[j].Participant.Identity })
	return out
}

func (r *roster) adoptOrphansLocked(m *member) {
	for id, pub := range m.pubs {
		if t, ok := r.orphans[id]; ok && pub.Track == nil {
			pub.Track = t
			delete(r.orphans, id)
		}
	}
}

func newMember(p participantInfo) *member {
	m := &member{
		participant: domain.Participant{Identity: p.Identity, Name: p.Name, MicEnabled: p.MicEnabled},
		pubs:        make(map[string]*core.Publication),
	}
	if m.participant.Name == "" {
		m.participant.Name = string(p.Identity)
	}
	for _, t := range p.Tracks {
		if t.TrackID == "" {
			continue
		}
		if _, dup := m.pubs[t.TrackID]; !dup {
			m.order = append(m.order, t.TrackID)
		}
		m.pubs[t.TrackID] = &core.Publication{TrackID: t.TrackID, Kind: t.Kind, Muted: t.Muted}
	}
	return m
}

func remove(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

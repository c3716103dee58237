package patchbay

import (
	"log"
	"sync"
)

// maxConcurrentSounds bounds how many player streams may run at once.
const maxConcurrentSounds = 5

// playerRate and playerPeriodMs parameterize every player stream; the WAV
// file's own rate is converted up or down to this.
const (
	playerRate     = 48000
	playerPeriodMs = 20
)

// Player plays WAV files as transient input streams. Each sound is a
// file-clocked IAStream that connects to its sink, plays to EOF and
// dismantles itself, freeing its admission slot.
type Player struct {
	token uint8

	mu     sync.Mutex
	live   int
	sounds map[string]*IAStream
}

// NewPlayer creates a player whose sounds use tokens starting at token.
func NewPlayer(token uint8) *Player {
	return &Player{
		token:  token,
		sounds: make(map[string]*IAStream),
	}
}

// Play starts name as a new sound delivered to the local sink. Returns false
// when the concurrency limit is reached or the file cannot be opened or
// started.
func (p *Player) Play(name string, sink *OAStream) bool {
	return p.play(name, false, func(s *IAStream) error {
		s.Connect(sink)
		return nil
	})
}

// PlayTo starts name as a new sound sent over UDP to the remote receiver
// identified by host and token.
func (p *Player) PlayTo(name, host string, token uint8) bool {
	return p.play(name, true, func(s *IAStream) error {
		return s.ConnectRemote(host, token)
	})
}

func (p *Player) play(name string, net bool, connect func(*IAStream) error) bool {
	p.mu.Lock()
	if p.live >= maxConcurrentSounds {
		p.mu.Unlock()
		return false
	}
	slot := p.live
	p.live++
	p.mu.Unlock()

	release := func() {
		p.mu.Lock()
		p.live--
		delete(p.sounds, name)
		p.mu.Unlock()
	}

	s, err := NewIAStream(p.token+uint8(slot), name, playerRate, playerPeriodMs, net, false)
	if err != nil {
		log.Printf("[player] %s: %v", name, err)
		p.mu.Lock()
		p.live--
		p.mu.Unlock()
		return false
	}
	s.SetDestroyCallback(release)

	if err := connect(s); err != nil {
		log.Printf("[player] %s: %v", name, err)
		s.Close()
		return false
	}

	p.mu.Lock()
	p.sounds[name] = s
	p.mu.Unlock()

	if err := s.Start(); err != nil {
		log.Printf("[player] %s: %v", name, err)
		s.Close()
		return false
	}
	return true
}

// Stop forcibly ends the named sound. Sounds that already finished are
// ignored.
func (p *Player) Stop(name string) {
	p.mu.Lock()
	s := p.sounds[name]
	p.mu.Unlock()
	if s != nil {
		s.Close()
	}
}

// Live returns the number of currently playing sounds.
func (p *Player) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.live
}

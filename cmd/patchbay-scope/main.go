// Command patchbay-scope taps a voice stream for debugging. It listens on a
// receiver token's UDP port like any output stream would, decodes every
// sender, and periodically prints link statistics and signal measurements
// (energy, spectral peak, cepstral pitch).
//
//	patchbay-scope --token 255 --rate 48000
package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"patchbay/internal/observe"
)

func main() {
	token := pflag.Uint8("token", 255, "receiver token to listen as")
	rate := pflag.Int("rate", 48000, "decode sample rate")
	interval := pflag.Duration("interval", time.Second, "report interval")
	pflag.Parse()

	obs := observe.New(*rate)
	if err := obs.Listen(*token); err != nil {
		log.Fatal("listen", "err", err)
	}
	defer obs.Close()
	log.Info("listening", "token", *token, "rate", *rate)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	tick := time.NewTicker(*interval)
	defer tick.Stop()
	for {
		select {
		case <-sig:
			return
		case <-tick.C:
			for _, sender := range obs.Senders() {
				snap, ok := obs.Snapshot(sender)
				if !ok {
					continue
				}
				log.Info("sender",
					"token", snap.Token,
					"energy", snap.Energy,
					"peak_hz", peakHz(snap.Spectrum, *rate),
					"pitch_hz", pitchHz(snap.Cepstrum, *rate),
					"lost_pct", snap.Stats.LostRate,
					"jitter_us", snap.Stats.Jitter,
					"send_us", snap.Stats.SendInterval,
					"recv_us", snap.Stats.RecvInterval,
				)
			}
		}
	}
}

// peakHz returns the frequency of the strongest STFT bin.
func peakHz(mag []float64, rate int) float64 {
	best, bestV := 0, 0.0
	for i, v := range mag {
		if v > bestV {
			best, bestV = i, v
		}
	}
	return float64(best) * float64(rate) / float64(observe.WindowSize)
}

// pitchHz returns the fundamental suggested by the strongest cepstral peak
// in the speech quefrency range (50–500 Hz), or 0 when there is none.
func pitchHz(ceps []float64, rate int) float64 {
	lo := rate / 500
	hi := rate / 50
	if hi >= len(ceps) {
		hi = len(ceps) - 1
	}
	best, bestV := 0, 0.0
	for q := lo; q <= hi; q++ {
		if ceps[q] > bestV {
			best, bestV = q, ceps[q]
		}
	}
	if best == 0 {
		return 0
	}
	return float64(rate) / float64(best)
}

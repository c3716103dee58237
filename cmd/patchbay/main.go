// Command patchbay runs an audio routing node: one capture stream, one
// playback stream, optional UDP destinations and WAV playback.
//
//	patchbay --token 66 --connect 192.168.1.20:255
//	patchbay --input song.wav --output out.pcm
//	patchbay --input none --output default_output --net   # receive-only node
package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"patchbay"
	"patchbay/internal/config"
)

func main() {
	cfg := config.Load()

	token := pflag.Uint8("token", cfg.Token, "endpoint token (also selects the UDP listen port)")
	input := pflag.String("input", cfg.InputDevice, "capture device, *.wav file, or \"none\"")
	output := pflag.String("output", cfg.OutputDevice, "playback device, *.pcm file, or \"none\"")
	rate := pflag.Int("rate", cfg.Rate, "stream sample rate (8000|16000|24000|48000)")
	period := pflag.Int("period", cfg.PeriodMs, "period length in ms (5|10|20|40)")
	net := pflag.Bool("net", false, "listen for UDP senders on the output stream")
	connects := pflag.StringArray("connect", nil, "remote destination host:token (repeatable)")
	play := pflag.String("play", "", "WAV file to mix into the output via the player")
	silence := pflag.Float64("silence-threshold", cfg.SilenceThreshold, "transmit gate energy threshold (0 = default)")
	save := pflag.Bool("save", false, "persist the effective settings as defaults")
	pflag.Parse()

	if *save {
		cfg.Token = *token
		cfg.InputDevice = *input
		cfg.OutputDevice = *output
		cfg.Rate = *rate
		cfg.PeriodMs = *period
		cfg.SilenceThreshold = *silence
		if err := config.Save(cfg); err != nil {
			log.Warn("save config", "err", err)
		}
	}

	patchbay.StartService()
	defer patchbay.StopService()

	var oas *patchbay.OAStream
	if *output != "none" {
		var err error
		oas, err = patchbay.NewOAStream(*token, *output, *rate, *period, *net)
		if err != nil {
			log.Fatal("output stream", "err", err)
		}
		if err := oas.Start(); err != nil {
			log.Fatal("output stream", "err", err)
		}
		defer oas.Close()
		log.Info("output running", "device", *output, "rate", oas.Rate(), "net", *net)
	}

	var ias *patchbay.IAStream
	if *input != "none" {
		enableNet := len(*connects) > 0
		var err error
		ias, err = patchbay.NewIAStream(*token, *input, *rate, *period, enableNet, false)
		if err != nil {
			log.Fatal("input stream", "err", err)
		}
		if *silence > 0 {
			ias.SetSilenceThreshold(*silence)
		}
		if oas != nil {
			ias.Connect(oas)
		}
		for _, c := range *connects {
			host, tok, err := splitDest(c)
			if err != nil {
				log.Fatal("bad --connect", "arg", c, "err", err)
			}
			if err := ias.ConnectRemote(host, tok); err != nil {
				log.Fatal("connect", "dest", c, "err", err)
			}
			log.Info("sending", "host", host, "token", tok)
		}
		if err := ias.Start(); err != nil {
			log.Fatal("input stream", "err", err)
		}
		defer ias.Close()
		log.Info("input running", "device", *input, "rate", ias.Rate())
	}

	var player *patchbay.Player
	if *play != "" {
		if oas == nil {
			log.Fatal("--play needs an output stream")
		}
		player = patchbay.NewPlayer(*token + 100)
		if !player.Play(*play, oas) {
			log.Fatal("play failed", "file", *play)
		}
		log.Info("playing", "file", *play)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")
}

// splitDest parses "host:token" where token is the remote receiver's
// endpoint token in decimal.
func splitDest(s string) (string, uint8, error) {
	i := strings.LastIndex(s, ":")
	if i < 0 {
		return "", 0, fmt.Errorf("expected host:token")
	}
	tok, err := strconv.ParseUint(s[i+1:], 10, 8)
	if err != nil {
		return "", 0, err
	}
	return s[:i], uint8(tok), nil
}

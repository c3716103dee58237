// Package patchbay is a low-latency many-to-many audio routing fabric.
//
// Input streams capture PCM from hardware, WAV files, multi-channel slot
// devices or in-process pipes and fan it out to output streams — locally by
// direct push, or across the network as Opus-compressed UDP datagrams.
// Output streams keep one jitter ring per sender, drain them at the sink's
// playback clock and mix everything into the device buffer.
//
// StartService must be called before any stream is created and StopService
// after the last one is closed:
//
//	patchbay.StartService()
//	defer patchbay.StopService()
//
//	oas, _ := patchbay.NewOAStream(97, "default_output", 48000, 10, false)
//	ias, _ := patchbay.NewIAStream(66, "default_input", 48000, 10, false, false)
//	ias.Connect(oas)
//	oas.Start()
//	ias.Start()
package patchbay

import (
	"runtime"
	"time"
)

// validRate reports whether rate is one of the supported stream rates.
func validRate(rate int) bool {
	switch rate {
	case 8000, 16000, 24000, 48000:
		return true
	}
	return false
}

// validPeriod reports whether ms is one of the supported period lengths.
func validPeriod(ms int) bool {
	switch ms {
	case 5, 10, 20, 40:
		return true
	}
	return false
}

// clockSkew is subtracted from file-device timer intervals to compensate the
// OS timer granularity, keeping the file clock from drifting behind the
// wall clock.
var clockSkew = func() time.Duration {
	if runtime.GOOS == "windows" {
		return 400 * time.Microsecond
	}
	return 40 * time.Microsecond
}()

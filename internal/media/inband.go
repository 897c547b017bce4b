package media

import (
	"fmt"

	"github.com/cwbudde/algo-dsp/dsp/spectrum"
)

// DTMF row and column frequencies in Hz.
var (
	dtmfRows = []float64{697, 770, 852, 941}
	dtmfCols = []float64{1209, 1336, 1477, 1633}

	dtmfKeypad = [4][4]byte{
		{'1', '2', '3', 'A'},
		{'4', '5', '6', 'B'},
		{'7', '8', '9', 'C'},
		{'*', '0', '#', 'D'},
	}
)

const (
	// goertzelBlock is the analysis window: 205 samples at 8 kHz (~25.6 ms).
	goertzelBlock = 205

	// minToneRatio is the fraction of the ideal single-tone power each of
	// the row and column tones must reach.
	minToneRatio = 0.25

	// maxTwist bounds the power ratio between the row and column tones.
	maxTwist = 6.3

	// minDominance is how much stronger the winning tone in a group must be
	// than the runner-up.
	minDominance = 6.0

	// minBlockEnergy rejects near-silence (mean square of normalized samples).
	minBlockEnergy = 1e-6

	// confirmBlocks is the number of consecutive blocks a key must hold
	// before it is reported.
	confirmBlocks = 2
)

// InbandDetector recognizes DTMF key presses in decoded audio with a bank of
// Goertzel filters. Each press is reported once, after it has been held for
// confirmBlocks windows. It is not safe for concurrent use.
type InbandDetector struct {
	bank  *spectrum.MultiGoertzel
	block []float64

	current  byte
	hits     int
	reported bool
}

// NewInbandDetector returns a detector for 8 kHz audio.
func NewInbandDetector() (*InbandDetector, error) {
	freqs := append(append([]float64{}, dtmfRows...), dtmfCols...)
	bank, err := spectrum.NewMultiGoertzel(freqs, clockRate)
	if err != nil {
		return nil, fmt.Errorf("creating goertzel bank: %w", err)
	}
	return &InbandDetector{
		bank:  bank,
		block: make([]float64, 0, goertzelBlock),
	}, nil
}

// FeedPayload decodes a G.711 payload and feeds it to the detector.
func (d *InbandDetector) FeedPayload(payloadType int, payload []byte, emit func(byte)) {
	for _, b := range payload {
		d.feed(float64(DecodeSample(payloadType, b))/32768, emit)
	}
}

// Feed runs linear PCM samples through the detector, calling emit for every
// newly confirmed key press.
func (d *InbandDetector) Feed(samples []int16, emit func(byte)) {
	for _, s := range samples {
		d.feed(float64(s)/32768, emit)
	}
}

func (d *InbandDetector) feed(x float64, emit func(byte)) {
	d.block = append(d.block, x)
	if len(d.block) < goertzelBlock {
		return
	}
	key := d.analyze()
	d.block = d.block[:0]

	if key == 0 || key != d.current {
		d.current = key
		d.hits = 0
		d.reported = false
		if key == 0 {
			return
		}
	}
	d.hits++
	if d.hits >= confirmBlocks && !d.reported {
		d.reported = true
		emit(key)
	}
}

// analyze classifies the current block, returning 0 when no key is present.
func (d *InbandDetector) analyze() byte {
	energy := 0.0
	for _, x := range d.block {
		energy += x * x
	}
	if energy/float64(len(d.block)) < minBlockEnergy {
		return 0
	}

	d.bank.Reset()
	d.bank.ProcessBlock(d.block)
	powers := d.bank.Powers()

	row, rowPower, rowRunner := strongest(powers[:len(dtmfRows)])
	col, colPower, colRunner := strongest(powers[len(dtmfRows):])

	// A pure two-tone key puts N/4 of the block energy into each filter.
	ideal := energy * float64(len(d.block)) / 4
	if rowPower < minToneRatio*ideal || colPower < minToneRatio*ideal {
		return 0
	}
	if rowPower > maxTwist*colPower || colPower > maxTwist*rowPower {
		return 0
	}
	if rowPower < minDominance*rowRunner || colPower < minDominance*colRunner {
		return 0
	}
	return dtmfKeypad[row][col]
}

// strongest returns the index and power of the largest value and the
// power of the runner-up.
func strongest(p []float64) (idx int, best, runner float64) {
	for i, v := range p {
		switch {
		case v > best:
			runner = best
			best, idx = v, i
		case v > runner:
			runner = v
		}
	}
	return idx, best, runner
}

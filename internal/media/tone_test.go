package media

import (
	"path/filepath"
	"testing"
	"time"
)

func TestParseToneSpec(t *testing.T) {
	tones, err := ParseToneSpec("%(1000,0,640)")
	if err != nil {
		t.Fatalf("ParseToneSpec: %v", err)
	}
	if len(tones) != 1 || tones[0].On != time.Second || tones[0].Off != 0 || tones[0].Frequencies[0] != 640 {
		t.Errorf("tones = %+v", tones)
	}

	tones, err = ParseToneSpec("%(100,50,350+440); %(200,0,480)")
	if err != nil {
		t.Fatalf("ParseToneSpec: %v", err)
	}
	if len(tones) != 2 || len(tones[0].Frequencies) != 2 || tones[1].On != 200*time.Millisecond {
		t.Errorf("tones = %+v", tones)
	}
}

func TestParseToneSpec_Invalid(t *testing.T) {
	for _, spec := range []string{"", "640", "%(1000,0)", "%(0,0,640)", "%(100,-1,640)", "%(100,0,5000)", "%(100,0,abc)"} {
		if _, err := ParseToneSpec(spec); err == nil {
			t.Errorf("ParseToneSpec(%q) succeeded", spec)
		}
	}
}

func TestSynthesizeLength(t *testing.T) {
	pcm, err := synthesize([]Tone{{On: time.Second, Off: 250 * time.Millisecond, Frequencies: []float64{640}}})
	if err != nil {
		t.Fatal(err)
	}
	if len(pcm) != 10000 {
		t.Errorf("len = %d, want 10000", len(pcm))
	}
	for _, s := range pcm[8000:] {
		if s != 0 {
			t.Fatal("off period is not silent")
		}
	}

	frames := encodeFrames(PayloadPCMU, pcm)
	if len(frames) != 63 {
		t.Errorf("frames = %d, want 63", len(frames))
	}
	last := frames[len(frames)-1]
	if last[len(last)-1] != ulawSilence {
		t.Error("last frame not padded with silence")
	}
}

func TestWriteToneWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "beep.wav")
	tones := []Tone{{On: 250 * time.Millisecond, Off: 250 * time.Millisecond, Frequencies: []float64{440}}}

	if err := WriteToneWAV(path, tones); err != nil {
		t.Fatalf("WriteToneWAV() error: %v", err)
	}
	d, err := ValidateWAVFile(path)
	if err != nil {
		t.Fatalf("ValidateWAVFile() error: %v", err)
	}
	if d != 500*time.Millisecond {
		t.Errorf("duration = %v, want 500ms", d)
	}
}

package media

// G.711 companding for the two codecs the endpoint negotiates. Decoding uses
// lookup tables built once; encoding is computed per sample.

const (
	ulawBias = 0x84
	ulawClip = 32635

	// silence bytes for each law, used to pad short frames.
	ulawSilence = 0xFF
	alawSilence = 0xD5
)

var (
	ulawToLinear [256]int16
	alawToLinear [256]int16
)

func init() {
	for i := 0; i < 256; i++ {
		ulawToLinear[i] = decodeUlaw(byte(i))
		alawToLinear[i] = decodeAlaw(byte(i))
	}
}

func decodeUlaw(u byte) int16 {
	u = ^u
	exp := (u >> 4) & 0x07
	mant := int(u & 0x0F)
	sample := ((mant << 3) + ulawBias) << exp
	sample -= ulawBias
	if u&0x80 != 0 {
		return int16(-sample)
	}
	return int16(sample)
}

func encodeUlaw(s int16) byte {
	sample := int(s)
	var sign byte
	if sample < 0 {
		sample = -sample
		sign = 0x80
	}
	if sample > ulawClip {
		sample = ulawClip
	}
	sample += ulawBias

	exp := 7
	for mask := 0x4000; sample&mask == 0 && exp > 0; mask >>= 1 {
		exp--
	}
	mant := (sample >> (exp + 3)) & 0x0F
	return ^(sign | byte(exp<<4) | byte(mant))
}

func decodeAlaw(a byte) int16 {
	a ^= 0x55
	t := int(a&0x0F) << 4
	seg := int(a&0x70) >> 4
	switch seg {
	case 0:
		t += 8
	case 1:
		t += 0x108
	default:
		t += 0x108
		t <<= seg - 1
	}
	if a&0x80 != 0 {
		return int16(t)
	}
	return int16(-t)
}

var alawSegEnd = [8]int{0x1F, 0x3F, 0x7F, 0xFF, 0x1FF, 0x3FF, 0x7FF, 0xFFF}

func encodeAlaw(s int16) byte {
	pcm := int(s) >> 3
	mask := byte(0xD5)
	if pcm < 0 {
		mask = 0x55
		pcm = -pcm - 1
	}

	seg := 0
	for seg < len(alawSegEnd) && pcm > alawSegEnd[seg] {
		seg++
	}
	if seg >= len(alawSegEnd) {
		return 0x7F ^ mask
	}

	aval := byte(seg << 4)
	if seg < 2 {
		aval |= byte(pcm>>1) & 0x0F
	} else {
		aval |= byte(pcm>>seg) & 0x0F
	}
	return aval ^ mask
}

// DecodeSample converts one G.711 byte of the given payload type to linear PCM.
func DecodeSample(payloadType int, b byte) int16 {
	if payloadType == PayloadPCMA {
		return alawToLinear[b]
	}
	return ulawToLinear[b]
}

// EncodeSample converts a linear PCM sample to G.711 for the given payload type.
func EncodeSample(payloadType int, s int16) byte {
	if payloadType == PayloadPCMA {
		return encodeAlaw(s)
	}
	return encodeUlaw(s)
}

func silenceByte(payloadType int) byte {
	if payloadType == PayloadPCMA {
		return alawSilence
	}
	return ulawSilence
}

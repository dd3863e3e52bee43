package audio

import (
	"encoding/binary"
	"fmt"
)

// DecodePCM converts little-endian PCM bytes into one int per sample.
// 8-bit samples are unsigned as in WAV files; wider samples are signed.
func DecodePCM(data []byte, bitDepth int) ([]int, error) {
	size := (bitDepth + 7) / 8
	if size == 0 || len(data)%size != 0 {
		return nil, fmt.Errorf("pcm payload of %d bytes is not a multiple of %d-bit samples", len(data), bitDepth)
	}

	samples := make([]int, 0, len(data)/size)
	for i := 0; i < len(data); i += size {
		switch bitDepth {
		case 8:
			samples = append(samples, int(data[i]))
		case 16:
			samples = append(samples, int(int16(binary.LittleEndian.Uint16(data[i:]))))
		case 24:
			v := int32(data[i]) | int32(data[i+1])<<8 | int32(data[i+2])<<16
			if v&0x800000 != 0 {
				v |= ^0xffffff
			}
			samples = append(samples, int(v))
		case 32:
			samples = append(samples, int(int32(binary.LittleEndian.Uint32(data[i:]))))
		default:
			return nil, fmt.Errorf("unsupported bit depth: %d", bitDepth)
		}
	}
	return samples, nil
}

// AppendSample encodes one signed sample, scaled to bitDepth, in little-endian order.
func AppendSample(dst []byte, sample int, bitDepth int) []byte {
	switch bitDepth {
	case 8:
		return append(dst, byte(sample+128))
	case 16:
		return binary.LittleEndian.AppendUint16(dst, uint16(int16(sample)))
	case 24:
		return append(dst, byte(sample), byte(sample>>8), byte(sample>>16))
	default:
		return binary.LittleEndian.AppendUint32(dst, uint32(int32(sample)))
	}
}

// MaxAmplitude returns the largest positive sample value for a signed bit depth.
func MaxAmplitude(bitDepth int) int {
	return 1<<(bitDepth-1) - 1
}

// PickChannel keeps one channel out of interleaved frames. It is used to
// turn a stereo capture into the left-only or right-only stream.
func PickChannel(data []byte, bytesPerSample, channels, channel int) []byte {
	frame := bytesPerSample * channels
	out := make([]byte, 0, len(data)/channels)
	for i := 0; i+frame <= len(data); i += frame {
		start := i + channel*bytesPerSample
		out = append(out, data[start:start+bytesPerSample]...)
	}
	return out
}

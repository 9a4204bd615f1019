package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"mime"
	"strconv"
)

// PCMMIMEType returns the media type tag for 16-bit PCM at rate Hz.
func PCMMIMEType(rate int) string {
	return fmt.Sprintf("%s;rate=%d", PCMMediaType, rate)
}

// ParseRate extracts the "rate" parameter from a PCM media type. It returns
// fallback when the parameter is absent or unparsable.
func ParseRate(mimeType string, fallback int) int {
	if mimeType == "" {
		return fallback
	}
	_, params, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return fallback
	}
	v, ok := params["rate"]
	if !ok {
		return fallback
	}
	rate, err := strconv.Atoi(v)
	if err != nil || rate <= 0 {
		return fallback
	}
	return rate
}

// FloatToPCM16 scales each sample by 32768, rounds it to the nearest integer
// and packs it as little-endian int16. Samples outside [-1, 1] are clamped.
func FloatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := math.Round(float64(s) * 32768)
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}

// PCM16ToFloat converts little-endian int16 PCM to float samples (int16/32768).
// The byte count must be even.
func PCM16ToFloat(pcm []byte) ([]float32, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("%w: odd byte count %d", ErrMalformedChunk, len(pcm))
	}
	out := make([]float32, len(pcm)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768.0
	}
	return out, nil
}

// EncodeChunk packs raw int16 PCM into a [WireChunk] tagged with rate.
func EncodeChunk(pcm []byte, rate int) WireChunk {
	return WireChunk{
		MIMEType: PCMMIMEType(rate),
		Data:     base64.StdEncoding.EncodeToString(pcm),
	}
}

// DecodeChunk decodes a wire chunk into a [Buffer]. The sample rate comes from
// the chunk's media type, falling back to format.SampleRate. Payloads that are
// not valid base64, have an odd byte count, or do not align to format.Channels
// are reported as [ErrMalformedChunk].
func DecodeChunk(c WireChunk, format Format) (Buffer, error) {
	channels := format.Channels
	if channels <= 0 {
		channels = 1
	}
	raw, err := base64.StdEncoding.DecodeString(c.Data)
	if err != nil {
		return Buffer{}, fmt.Errorf("%w: base64: %v", ErrMalformedChunk, err)
	}
	samples, err := PCM16ToFloat(raw)
	if err != nil {
		return Buffer{}, err
	}
	if len(samples)%channels != 0 {
		return Buffer{}, fmt.Errorf("%w: %d samples do not align to %d channels", ErrMalformedChunk, len(samples), channels)
	}
	return Buffer{
		Samples:    samples,
		SampleRate: ParseRate(c.MIMEType, format.SampleRate),
		Channels:   channels,
	}, nil
}

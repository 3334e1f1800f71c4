package audio

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"
)

func TestEncodePCM16Boundaries(t *testing.T) {
	cases := []struct {
		in   float32
		want int16
	}{
		{0, 0},
		{1, math.MaxInt16},
		{-1, math.MinInt16},
		{1.5, math.MaxInt16},
		{-7, math.MinInt16},
		{0.5, 16384},
		{-0.5, -16384},
		{float32(math.NaN()), 0},
	}
	for _, tc := range cases {
		out := EncodePCM16([]float32{tc.in})
		if len(out) != 2 {
			t.Fatalf("len(EncodePCM16(%v)) = %d, want 2", tc.in, len(out))
		}
		got := int16(binary.LittleEndian.Uint16(out))
		if got != tc.want {
			t.Fatalf("EncodePCM16(%v) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestPCM16RoundTripWithinOneStep(t *testing.T) {
	in := make([]float32, 1001)
	for i := range in {
		in[i] = float32(i-500) / 500
	}
	buf, err := DecodePCM16(EncodePCM16(in), CaptureSampleRate, 1)
	if err != nil {
		t.Fatalf("DecodePCM16() error = %v", err)
	}
	if len(buf.Samples) != len(in) {
		t.Fatalf("decoded %d samples, want %d", len(buf.Samples), len(in))
	}
	for i, want := range in {
		if d := math.Abs(float64(buf.Samples[i] - want)); d > 1.0/32768 {
			t.Fatalf("sample %d = %v, want %v (diff %v)", i, buf.Samples[i], want, d)
		}
	}
}

func TestNewPCMBlob(t *testing.T) {
	blob := NewPCMBlob(make([]float32, CaptureBlockSize), CaptureSampleRate)
	if blob.MIMEType != "audio/pcm;rate=16000" {
		t.Fatalf("MIMEType = %q, want audio/pcm;rate=16000", blob.MIMEType)
	}
	raw, err := DecodeBase64(blob.Data)
	if err != nil {
		t.Fatalf("DecodeBase64() error = %v", err)
	}
	if len(raw) != CaptureBlockSize*2 {
		t.Fatalf("payload len = %d, want %d", len(raw), CaptureBlockSize*2)
	}
}

func TestBase64RoundTripAllBytes(t *testing.T) {
	in := make([]byte, 256)
	for i := range in {
		in[i] = byte(i)
	}
	out, err := DecodeBase64(EncodeBase64(in))
	if err != nil {
		t.Fatalf("DecodeBase64() error = %v", err)
	}
	if string(out) != string(in) {
		t.Fatalf("round trip mismatch")
	}
	if _, err := DecodeBase64("not base64!"); err == nil {
		t.Fatalf("DecodeBase64() expected error for invalid input")
	}
}

func TestDecodePCM16RejectsMisaligned(t *testing.T) {
	if _, err := DecodePCM16([]byte{1, 2, 3}, PlaybackSampleRate, 1); !errors.Is(err, ErrMisalignedPCM) {
		t.Fatalf("error = %v, want ErrMisalignedPCM", err)
	}
	if _, err := DecodePCM16([]byte{1, 2, 3, 4, 5, 6}, PlaybackSampleRate, 2); !errors.Is(err, ErrMisalignedPCM) {
		t.Fatalf("stereo error = %v, want ErrMisalignedPCM", err)
	}
}

func TestDecodePCM16Duration(t *testing.T) {
	buf, err := DecodePCM16(make([]byte, PlaybackSampleRate), PlaybackSampleRate, 1)
	if err != nil {
		t.Fatalf("DecodePCM16() error = %v", err)
	}
	if got := buf.Duration(); got != 0.5 {
		t.Fatalf("Duration() = %v, want 0.5", got)
	}
}

func TestFloat32LERoundTrip(t *testing.T) {
	in := []float32{0, 0.25, -1, 1, 0.001}
	out, err := DecodeFloat32LE(EncodeFloat32LE(in))
	if err != nil {
		t.Fatalf("DecodeFloat32LE() error = %v", err)
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("sample %d = %v, want %v", i, out[i], in[i])
		}
	}
	if _, err := DecodeFloat32LE([]byte{1, 2, 3}); !errors.Is(err, ErrMisalignedPCM) {
		t.Fatalf("error = %v, want ErrMisalignedPCM", err)
	}
}

func TestWAVRoundTrip(t *testing.T) {
	pcm := EncodePCM16([]float32{0.1, -0.2, 0.3, -0.4})
	wav, err := EncodeWAV(pcm, 24000)
	if err != nil {
		t.Fatalf("EncodeWAV() error = %v", err)
	}
	if len(wav) != 44+len(pcm) {
		t.Fatalf("wav len = %d, want %d", len(wav), 44+len(pcm))
	}
	got, rate, err := DecodeWAVMono(wav)
	if err != nil {
		t.Fatalf("DecodeWAVMono() error = %v", err)
	}
	if rate != 24000 {
		t.Fatalf("rate = %d, want 24000", rate)
	}
	if string(got) != string(pcm) {
		t.Fatalf("pcm mismatch")
	}
}

func TestDecodeWAVMonoDownmixesStereo(t *testing.T) {
	stereo := make([]byte, 8)
	for i, v := range []int16{1000, 3000, -200, -400} {
		binary.LittleEndian.PutUint16(stereo[2*i:], uint16(v))
	}
	wav, err := EncodeWAV(stereo, 16000)
	if err != nil {
		t.Fatalf("EncodeWAV() error = %v", err)
	}
	// patch header to two channels
	binary.LittleEndian.PutUint16(wav[22:], 2)
	binary.LittleEndian.PutUint16(wav[32:], 4)

	mono, _, err := DecodeWAVMono(wav)
	if err != nil {
		t.Fatalf("DecodeWAVMono() error = %v", err)
	}
	if len(mono) != 4 {
		t.Fatalf("mono len = %d, want 4", len(mono))
	}
	if got := int16(binary.LittleEndian.Uint16(mono[0:])); got != 2000 {
		t.Fatalf("frame 0 = %d, want 2000", got)
	}
	if got := int16(binary.LittleEndian.Uint16(mono[2:])); got != -300 {
		t.Fatalf("frame 1 = %d, want -300", got)
	}
}

func TestDecodeWAVMonoRejectsGarbage(t *testing.T) {
	if _, _, err := DecodeWAVMono([]byte("hello")); err == nil {
		t.Fatalf("DecodeWAVMono() expected error")
	}
}

func TestResample(t *testing.T) {
	in := make([]float32, 2400)
	out := Resample(in, 24000, 16000)
	if len(out) != 1600 {
		t.Fatalf("len = %d, want 1600", len(out))
	}
	if same := Resample(in, 16000, 16000); len(same) != len(in) {
		t.Fatalf("identity resample changed length")
	}
}

func TestTimelinePlaceAndTruncate(t *testing.T) {
	tl := NewTimeline(10)
	tl.Place(0, []float32{0.1, 0.1})
	tl.Place(0.5, []float32{0.2, 0.2})
	if got := tl.Duration(); got != 0.7 {
		t.Fatalf("Duration() = %v, want 0.7", got)
	}
	s := tl.Samples()
	if s[0] != 0.1 || s[2] != 0 || s[5] != 0.2 {
		t.Fatalf("unexpected samples %v", s)
	}
	tl.Truncate(0.3)
	if got := len(tl.Samples()); got != 3 {
		t.Fatalf("len after truncate = %d, want 3", got)
	}
	wav, err := tl.WAV()
	if err != nil {
		t.Fatalf("WAV() error = %v", err)
	}
	if len(wav) != 44+6 {
		t.Fatalf("wav len = %d, want 50", len(wav))
	}
}

package frame

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

// stream is a deterministic io.ReadWriter: reads come from a canned input,
// writes are captured for inspection.
type stream struct {
	in  *bytes.Reader
	out bytes.Buffer
}

func newStream(input []byte) *stream {
	return &stream{in: bytes.NewReader(input)}
}

func (s *stream) Read(p []byte) (int, error)  { return s.in.Read(p) }
func (s *stream) Write(p []byte) (int, error) { return s.out.Write(p) }

func TestReceive_Payload(t *testing.T) {
	s := newStream([]byte{0x03, 0x01, 0x02, 0x03})
	tr := New(s)

	buf := make([]byte, MaxPayload)
	n, err := tr.Receive(buf, false)
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if n != 3 {
		t.Errorf("Receive() n = %d, want 3", n)
	}
	if !bytes.Equal(buf[:n], []byte{0x01, 0x02, 0x03}) {
		t.Errorf("Receive() payload = %v, want [1 2 3]", buf[:n])
	}
	if s.out.Len() != 0 {
		t.Errorf("Receive() without sendAck wrote %v", s.out.Bytes())
	}
}

func TestReceive_AckFrame(t *testing.T) {
	s := newStream([]byte{0x00})
	tr := New(s)

	n, err := tr.Receive(make([]byte, MaxPayload), false)
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if n != 0 {
		t.Errorf("Receive() n = %d, want 0", n)
	}
}

func TestReceive_SendAck(t *testing.T) {
	s := newStream([]byte{0x02, 0xAA, 0xBB})
	tr := New(s)

	n, err := tr.Receive(make([]byte, MaxPayload), true)
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Receive() n = %d, want 2", n)
	}
	if !bytes.Equal(s.out.Bytes(), []byte{0x00}) {
		t.Errorf("Receive() ack = %v, want [0x00]", s.out.Bytes())
	}
}

func TestReceive_LengthExceedsBuffer(t *testing.T) {
	payload := append([]byte{0x10}, make([]byte, 0x10)...)
	s := newStream(payload)
	tr := New(s)

	buf := make([]byte, 4)
	_, err := tr.Receive(buf, false)
	if !errors.Is(err, ErrCorrupt) {
		t.Errorf("Receive() error = %v, want ErrCorrupt", err)
	}
}

func TestReceive_OversizedFrameDrainedFully(t *testing.T) {
	// An oversized frame followed by a valid one. The whole declared
	// payload must come off the stream, not just what fits in buf, or
	// the leftover bytes would be parsed as new frames.
	input := []byte{0xFF}
	input = append(input, make([]byte, 0xFF)...)
	input = append(input, 0x02, 0xAA, 0xBB)
	s := newStream(input)
	tr := New(s)

	buf := make([]byte, MaxPayload)
	if _, err := tr.Receive(buf, false); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("Receive() error = %v, want ErrCorrupt", err)
	}

	n, err := tr.Receive(buf, false)
	if err != nil {
		t.Fatalf("Receive() after oversized frame error = %v", err)
	}
	if n != 2 || !bytes.Equal(buf[:n], []byte{0xAA, 0xBB}) {
		t.Errorf("Receive() = %v, want [0xAA 0xBB]", buf[:n])
	}
}

func TestReceive_TruncatedPayload(t *testing.T) {
	s := newStream([]byte{0x05, 0x01, 0x02})
	tr := New(s)

	_, err := tr.Receive(make([]byte, MaxPayload), false)
	if !errors.Is(err, ErrCorrupt) {
		t.Errorf("Receive() error = %v, want ErrCorrupt", err)
	}
}

func TestReceive_StreamEndPropagates(t *testing.T) {
	s := newStream(nil)
	tr := New(s)

	_, err := tr.Receive(make([]byte, MaxPayload), false)
	if !errors.Is(err, io.EOF) {
		t.Errorf("Receive() error = %v, want io.EOF", err)
	}
	if errors.Is(err, ErrCorrupt) {
		t.Errorf("Receive() on closed stream reported corrupt frame")
	}
}

func TestSend_Format(t *testing.T) {
	s := newStream(nil)
	tr := New(s)

	if err := tr.Send([]byte{0xAA, 0xBB}, false); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	want := []byte{0x02, 0xAA, 0xBB}
	if !bytes.Equal(s.out.Bytes(), want) {
		t.Errorf("Send() wrote %v, want %v", s.out.Bytes(), want)
	}
}

func TestSend_EmptyFrame(t *testing.T) {
	s := newStream(nil)
	tr := New(s)

	if err := tr.Send(nil, false); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if !bytes.Equal(s.out.Bytes(), []byte{0x00}) {
		t.Errorf("Send(nil) wrote %v, want [0x00]", s.out.Bytes())
	}
}

func TestSend_PayloadTooLong(t *testing.T) {
	s := newStream(nil)
	tr := New(s)

	if err := tr.Send(make([]byte, MaxPayload+1), false); err == nil {
		t.Error("Send() with oversized payload succeeded, want error")
	}
	if s.out.Len() != 0 {
		t.Errorf("Send() with oversized payload wrote %v", s.out.Bytes())
	}
}

func TestSend_WaitForAck(t *testing.T) {
	tests := []struct {
		name  string
		reply []byte
		want  error
	}{
		{"ack", []byte{0x00}, nil},
		{"reset", []byte{0x01, Reset}, ErrReset},
		{"unexpected", []byte{0x02, 0x01, 0x02}, ErrUnexpected},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := newStream(tc.reply)
			tr := New(s)

			err := tr.Send([]byte{0x42}, true)
			if tc.want == nil {
				if err != nil {
					t.Errorf("Send() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Errorf("Send() error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestSend_WaitForAck_CorruptReply(t *testing.T) {
	// Reply declares 5 bytes but the stream ends after 1.
	s := newStream([]byte{0x05, 0x01})
	tr := New(s)

	err := tr.Send([]byte{0x42}, true)
	if !errors.Is(err, ErrCorrupt) {
		t.Errorf("Send() error = %v, want ErrCorrupt", err)
	}
}

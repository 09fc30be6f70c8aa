package tunio

import "io"

// Fake is an in-memory Device used by orchestrator tests, standing in
// for a real platform tun so the datapath can be exercised without root
// privileges or an actual kernel interface.
type Fake struct {
	ToRead  chan []byte
	Written chan []byte
	closed  bool
	mtu     int
}

// NewFake builds a Fake tun device with the given MTU.
func NewFake(mtu int) *Fake {
	return &Fake{
		ToRead:  make(chan []byte, 64),
		Written: make(chan []byte, 64),
		mtu:     mtu,
	}
}

func (f *Fake) Read(buf []byte, offset int) (int, error) {
	pkt, ok := <-f.ToRead
	if !ok {
		return 0, io.EOF
	}
	n := copy(buf[offset:], pkt)
	return n, nil
}

func (f *Fake) Write(buf []byte, offset int) (int, error) {
	pkt := make([]byte, len(buf)-offset)
	copy(pkt, buf[offset:])
	f.Written <- pkt
	return len(pkt), nil
}

func (f *Fake) Close() error {
	if !f.closed {
		f.closed = true
		close(f.ToRead)
	}
	return nil
}

func (f *Fake) MTU() (int, error) { return f.mtu, nil }

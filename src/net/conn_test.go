package net

import (
	"bytes"
	"errors"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/mosaicnetworks/bootsync/src/common"
)

const testTimeout = time.Second

func pipe(maxFrame, retries int) (*Conn, *Conn) {
	a, b := net.Pipe()
	return NewConn(a, maxFrame, retries), NewConn(b, maxFrame, retries)
}

func TestFrameRoundTrip(t *testing.T) {
	a, b := pipe(1024, 0)
	defer a.Close()
	defer b.Close()

	payloads := [][]byte{nil, []byte("hello"), bytes.Repeat([]byte{7}, 1023)}

	errCh := make(chan error, 1)
	go func() {
		for i, p := range payloads {
			if err := a.WriteFrame(uint8(i+1), p, testTimeout); err != nil {
				errCh <- err
				return
			}
		}
		errCh <- nil
	}()

	for i, p := range payloads {
		tag, payload, err := b.ReadFrame(testTimeout)
		if err != nil {
			t.Fatalf("err: %v", err)
		}
		if tag != uint8(i+1) {
			t.Fatalf("tag %d, expected %d", tag, i+1)
		}
		if !bytes.Equal(payload, p) {
			t.Fatalf("payload %d differs", i)
		}
	}
	if err := <-errCh; err != nil {
		t.Fatalf("err: %v", err)
	}
}

func TestFrameTooLarge(t *testing.T) {
	a, b := pipe(16, 0)
	defer a.Close()
	defer b.Close()

	err := a.WriteFrame(1, make([]byte, 16), testTimeout)
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}

	// a peer that does not respect the limit
	go b.conn.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF, 1})
	_, _, err = a.ReadFrame(testTimeout)
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
	if !common.Is(err, common.DecodeError) {
		t.Fatalf("oversized frame should be a DecodeError: %v", err)
	}
}

func TestReadTimeout(t *testing.T) {
	a, b := pipe(1024, 0)
	defer a.Close()
	defer b.Close()

	_, _, err := a.ReadFrame(20 * time.Millisecond)
	if !common.Is(err, common.Timeout) {
		t.Fatalf("expected Timeout, got %v", err)
	}
}

// Descriptions are not format strings.
func TestIOErrKeepsDescription(t *testing.T) {
	a, b := pipe(1024, 0)
	defer a.Close()
	defer b.Close()

	err := a.ioErr(os.ErrDeadlineExceeded, "reading 100%s of frame")
	if !common.Is(err, common.Timeout) {
		t.Fatalf("expected Timeout, got %v", err)
	}
	if !strings.Contains(err.Error(), "reading 100%s of frame") || strings.Contains(err.Error(), "%!") {
		t.Fatalf("description was mangled: %v", err)
	}

	err = a.ioErr(errors.New("broken"), "writing 5%d")
	if !common.Is(err, common.ProviderUnavailable) {
		t.Fatalf("expected ProviderUnavailable, got %v", err)
	}
	if !strings.Contains(err.Error(), "writing 5%d from ") {
		t.Fatalf("description was mangled: %v", err)
	}
}

func TestOverallDeadline(t *testing.T) {
	a, b := pipe(1024, 0)
	defer a.Close()
	defer b.Close()

	a.SetDeadline(time.Now().Add(20 * time.Millisecond))
	start := time.Now()
	_, _, err := a.ReadFrame(time.Minute)
	if !common.Is(err, common.Timeout) {
		t.Fatalf("expected Timeout, got %v", err)
	}
	if time.Since(start) > 10*time.Second {
		t.Fatalf("overall deadline was not applied")
	}
}

func TestWriteResumesAfterTimeout(t *testing.T) {
	payload := bytes.Repeat([]byte("abcdefgh"), 1000)

	a, b := pipe(1<<20, 20)
	defer a.Close()
	defer b.Close()

	type result struct {
		tag     uint8
		payload []byte
		err     error
	}
	resCh := make(chan result, 1)
	go func() {
		// the reader shows up after several write timeouts
		time.Sleep(60 * time.Millisecond)
		tag, p, err := b.ReadFrame(testTimeout)
		resCh <- result{tag, p, err}
	}()

	if err := a.WriteFrame(9, payload, 10*time.Millisecond); err != nil {
		t.Fatalf("err: %v", err)
	}
	res := <-resCh
	if res.err != nil {
		t.Fatalf("err: %v", res.err)
	}
	if res.tag != 9 || !bytes.Equal(res.payload, payload) {
		t.Fatalf("frame corrupted by resumed write")
	}
}

func TestWriteGivesUpAfterRetries(t *testing.T) {
	a, b := pipe(1024, 1)
	defer a.Close()
	defer b.Close()

	err := a.WriteFrame(1, []byte("x"), 10*time.Millisecond)
	if !common.Is(err, common.Timeout) {
		t.Fatalf("expected Timeout, got %v", err)
	}
}

func TestConnectionLost(t *testing.T) {
	a, b := pipe(1024, 0)
	defer a.Close()
	b.Close()

	_, _, err := a.ReadFrame(testTimeout)
	if !common.Is(err, common.ProviderUnavailable) {
		t.Fatalf("expected ProviderUnavailable, got %v", err)
	}
}

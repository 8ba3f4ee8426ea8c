package ipc

import (
	"bytes"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/pithecene-io/cliprdr/payload"
	"github.com/pithecene-io/cliprdr/types"
)

// TestPipe_ConcurrentWriters interleaves PDUs from several goroutines over a
// synchronous pipe and checks every frame arrives intact.
func TestPipe_ConcurrentWriters(t *testing.T) {
	client, server := net.Pipe()
	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})

	const writers = 4
	const perWriter = 25

	enc := NewFrameEncoder(client)
	var wg sync.WaitGroup
	for w := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perWriter {
				chunk := bytes.Repeat([]byte{byte(w)}, 64+i)
				pdu := payload.FileContentsResponse{
					StreamID: uint32(w*perWriter + i + 1),
					Payload:  payload.ContentsPayload(chunk),
				}.PDU()
				if err := enc.WritePDU(pdu); err != nil {
					t.Errorf("writer %d: WritePDU failed: %v", w, err)
					return
				}
			}
		}()
	}

	seen := make(map[uint32]bool)
	dec := NewFrameDecoder(server)
	_ = server.SetReadDeadline(time.Now().Add(5 * time.Second))
	for range writers * perWriter {
		pdu, err := dec.ReadPDU()
		if err != nil {
			t.Fatalf("ReadPDU failed after %d frames: %v", len(seen), err)
		}
		resp, ok := pdu.(*types.FileContentsResponse)
		if !ok {
			t.Fatalf("unexpected pdu %T", pdu)
		}
		w := int(resp.StreamID-1) / perWriter
		i := int(resp.StreamID-1) % perWriter
		if !bytes.Equal(resp.Data, bytes.Repeat([]byte{byte(w)}, 64+i)) {
			t.Errorf("stream %d: corrupted data", resp.StreamID)
		}
		if seen[resp.StreamID] {
			t.Errorf("stream %d delivered twice", resp.StreamID)
		}
		seen[resp.StreamID] = true
	}
	wg.Wait()
}

// TestPipe_FullExchange runs the announcement handshake across a pipe.
func TestPipe_FullExchange(t *testing.T) {
	client, server := net.Pipe()
	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})

	sent := []types.PDU{
		payload.MonitorReady{}.PDU(),
		payload.Capabilities{Set: types.LocalCapabilities()}.PDU(),
		payload.FormatList{Entries: []types.FormatEntry{{ID: types.FormatUnicodeText}}}.PDU(),
		payload.FormatDataRequest{FormatID: types.FormatUnicodeText}.PDU(),
	}

	go func() {
		enc := NewFrameEncoder(client)
		for _, pdu := range sent {
			if err := enc.WritePDU(pdu); err != nil {
				t.Errorf("WritePDU failed: %v", err)
				return
			}
		}
	}()

	dec := NewFrameDecoder(server)
	for i, want := range sent {
		got, err := dec.ReadPDU()
		if err != nil {
			t.Fatalf("ReadPDU[%d] failed: %v", i, err)
		}
		if got.PDUType() != want.PDUType() {
			t.Errorf("PDU[%d] = %s, want %s", i, got.PDUType(), want.PDUType())
		}
	}
}

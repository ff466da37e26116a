package transfer

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/FraMan97/kairos/internal/config"
	"github.com/FraMan97/kairos/internal/httpx"
	"github.com/FraMan97/kairos/internal/xferrors"
)

// ChunkIO is the local-file collaborator a ClassicSlot reads from (PUT)
// or writes to (GET). Real file access is out of scope per spec §1;
// this is the seam.
type ChunkIO interface {
	ReadChunk(localPath string, offset, size int64) ([]byte, error)
	WriteChunk(localPath string, offset int64, data []byte) error
}

// ClassicSlot is the sequential single-connection PUT/GET state
// machine spec §2 calls out as the alternative to a DirectReadNode:
// one MAX_DELIVERY_CHUNK-sized byte-range request at a time, fed
// straight from/to the local file with no RAID striping.
type ClassicSlot struct {
	t      *Transfer
	chunk  ChunkIO
	req    httpx.Req
	url    string
	pos    int64
	inflight bool
	pendingLo int64
	pendingHi int64
}

// NewClassicSlot builds a slot for t, bound to t.TempURLs[0] — a
// classic slot never fans out across multiple temp URLs.
func NewClassicSlot(t *Transfer, client *httpx.Client, chunk ChunkIO) (*ClassicSlot, error) {
	if len(t.TempURLs) == 0 {
		return nil, fmt.Errorf("transfer: classic slot needs at least one temp url")
	}
	return &ClassicSlot{
		t:     t,
		chunk: chunk,
		req:   client.NewReq(),
		url:   t.TempURLs[0],
		pos:   t.Pos,
	}, nil
}

// DoIO advances the slot by one step. It returns done once every byte
// up to t.Size has been transferred and acknowledged.
func (s *ClassicSlot) DoIO(ctx context.Context) (done bool, err error) {
	if s.inflight {
		return s.drain(ctx)
	}
	return s.schedule(ctx)
}

func (s *ClassicSlot) schedule(ctx context.Context) (bool, error) {
	if s.pos >= s.t.Size {
		return true, nil
	}
	size := int64(config.MAX_DELIVERY_CHUNK)
	if remaining := s.t.Size - s.pos; remaining < size {
		size = remaining
	}
	s.pendingLo, s.pendingHi = s.pos, s.pos+size

	method := "GET"
	var body []byte
	if s.t.Direction == PUT {
		method = "PUT"
		data, err := s.chunk.ReadChunk(s.t.LocalPath, s.pendingLo, size)
		if err != nil {
			return false, fmt.Errorf("transfer: read local chunk: %w", err)
		}
		body = data
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	if err := s.req.Post(ctx, method, s.url, s.pendingLo, s.pendingHi, reader); err != nil {
		return false, err
	}
	s.inflight = true
	if s.t.Direction == PUT {
		// Record the chunk's MAC immediately; PUT has no response body
		// to re-derive it from once the round trip completes.
		s.t.ChunkMacs.Insert(s.pendingLo, chunkMAC(body), false, size)
	}
	return false, nil
}

func (s *ClassicSlot) drain(ctx context.Context) (bool, error) {
	switch s.req.Status() {
	case httpx.ReqInflight:
		return false, nil
	case httpx.ReqFailure:
		s.inflight = false
		s.req.Disconnect()
		return false, classifyHTTPError(s.req.HTTPStatus())
	case httpx.ReqSuccess:
		s.inflight = false
		data := s.req.In()
		s.req.Disconnect()
		size := s.pendingHi - s.pendingLo
		if s.t.Direction == GET {
			if err := s.chunk.WriteChunk(s.t.LocalPath, s.pendingLo, data); err != nil {
				return false, fmt.Errorf("transfer: write local chunk: %w", err)
			}
			s.t.ChunkMacs.Insert(s.pendingLo, chunkMAC(data), true, size)
		} else {
			entry, _ := s.t.ChunkMacs.Get(s.pendingLo)
			s.t.ChunkMacs.Insert(s.pendingLo, entry.MAC, true, size)
		}
		s.pos = s.pendingHi
		s.t.Pos = s.pos
		return s.pos >= s.t.Size, nil
	default:
		return false, nil
	}
}

// classifyHTTPError maps a failed range request's status to one of the
// sentinel errors Transfer.Failed dispatches on.
func classifyHTTPError(httpStatus int) error {
	switch httpStatus {
	case 509:
		return xferrors.EOverQuota
	case 403:
		return xferrors.EBlocked
	case 404, 410:
		return xferrors.ENoEnt
	case 0:
		return xferrors.EAgain
	default:
		return fmt.Errorf("transfer: http status %d", httpStatus)
	}
}

func chunkMAC(data []byte) [32]byte {
	return sha256.Sum256(data)
}

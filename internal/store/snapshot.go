package store

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"strings"

	"github.com/hyperjump/utsushi/pkg/utils"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	snapshotMagic   = "UTSN"
	snapshotVersion = uint32(1)
	headerSize      = 4 + 4 + 1 + 4 + 8
	maxPayloadSize  = 1 << 36
)

// Compression selects the codec applied to the snapshot payload.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionZstd
	CompressionLZ4
)

// ParseCompression maps a config value to a Compression. Empty means zstd.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "zstd":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	case "none", "off":
		return CompressionNone, nil
	default:
		return 0, fmt.Errorf("unknown compression %q (use zstd, lz4 or none)", s)
	}
}

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

type snapshotPayload struct {
	Dim     int      `msgpack:"dim"`
	Records []Record `msgpack:"records"`
}

// Persist writes the full store to path atomically. A crash mid-write leaves the previous snapshot intact.
func (s *Store) Persist(path string, c Compression) error {
	raw, err := msgpack.Marshal(&snapshotPayload{Dim: s.dim, Records: s.records})
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	payload, err := compress(raw, c)
	if err != nil {
		return fmt.Errorf("compress snapshot: %w", err)
	}

	var header [headerSize]byte
	copy(header[0:4], snapshotMagic)
	binary.LittleEndian.PutUint32(header[4:8], snapshotVersion)
	header[8] = byte(c)
	binary.LittleEndian.PutUint32(header[9:13], crc32.ChecksumIEEE(payload))
	binary.LittleEndian.PutUint64(header[13:21], uint64(len(payload)))

	return utils.WriteFileAtomic(path, func(w io.Writer) error {
		if _, err := w.Write(header[:]); err != nil {
			return err
		}
		_, err := w.Write(payload)
		return err
	})
}

// Load reads the snapshot at path. A missing file yields an empty store of dimension dim.
func Load(path string, dim int) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return New(dim)
		}
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()
	return Decode(f, dim)
}

// Decode reads a snapshot from r and validates it against dim.
func Decode(r io.Reader, dim int) (*Store, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("%w: read header: %v", ErrCorruptSnapshot, err)
	}
	if string(header[0:4]) != snapshotMagic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrCorruptSnapshot, header[0:4])
	}
	if v := binary.LittleEndian.Uint32(header[4:8]); v != snapshotVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptSnapshot, v)
	}
	c := Compression(header[8])
	sum := binary.LittleEndian.Uint32(header[9:13])
	n := binary.LittleEndian.Uint64(header[13:21])
	if n > maxPayloadSize {
		return nil, fmt.Errorf("%w: payload length %d too large", ErrCorruptSnapshot, n)
	}

	// The header length is not covered by the checksum; grow the buffer as bytes arrive.
	payload, err := io.ReadAll(io.LimitReader(r, int64(n)))
	if err != nil {
		return nil, fmt.Errorf("%w: read payload: %v", ErrCorruptSnapshot, err)
	}
	if uint64(len(payload)) != n {
		return nil, fmt.Errorf("%w: payload has %d bytes, header declares %d", ErrCorruptSnapshot, len(payload), n)
	}
	if crc32.ChecksumIEEE(payload) != sum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorruptSnapshot)
	}

	raw, err := decompress(payload, c)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	var p snapshotPayload
	if err := msgpack.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: decode payload: %v", ErrCorruptSnapshot, err)
	}
	if p.Dim != dim {
		return nil, fmt.Errorf("%w: snapshot dimension %d, configured %d", ErrDimensionMismatch, p.Dim, dim)
	}

	s, err := New(dim)
	if err != nil {
		return nil, err
	}
	s.records = make([]Record, 0, len(p.Records))
	for _, rec := range p.Records {
		if err := s.Append(rec); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
		}
	}
	return s, nil
}

func compress(raw []byte, c Compression) ([]byte, error) {
	switch c {
	case CompressionNone:
		return raw, nil
	case CompressionZstd:
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, err
		}
		defer enc.Close()
		return enc.EncodeAll(raw, make([]byte, 0, len(raw)/2)), nil
	case CompressionLZ4:
		var buf bytes.Buffer
		zw := lz4.NewWriter(&buf)
		if _, err := zw.Write(raw); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unknown compression %d", uint8(c))
	}
}

func decompress(payload []byte, c Compression) ([]byte, error) {
	switch c {
	case CompressionNone:
		return payload, nil
	case CompressionZstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		return dec.DecodeAll(payload, nil)
	case CompressionLZ4:
		return io.ReadAll(lz4.NewReader(bytes.NewReader(payload)))
	default:
		return nil, fmt.Errorf("unknown compression %d", uint8(c))
	}
}

// Package wav writes and inspects RIFF/WAVE files holding linear PCM audio.
package wav

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dgnsrekt/decwav/internal/engine"
)

const (
	headerSize   = 44
	formatPCM    = 1
	riffSizeOff  = 4
	dataSizeOff  = 40
	maxDataBytes = 1<<32 - 1 - (headerSize - 8)
)

// Errors returned by the package.
var (
	ErrNotWave         = errors.New("not a RIFF/WAVE file")
	ErrUnsupportedPCM  = errors.New("only 16-bit linear PCM is supported")
	ErrWriterClosed    = errors.New("wave writer is closed")
	ErrDataTooLarge    = errors.New("wave data exceeds 4 GiB")
	ErrMisalignedFrame = errors.New("sample data is not aligned to the frame size")
)

// Writer streams 16-bit PCM samples into a WAVE file. The RIFF and data chunk
// sizes are patched when the writer is closed.
type Writer struct {
	f      *os.File
	format engine.WaveFormat
	n      int64
	closed bool
}

// Create truncates or creates the file at path and writes a provisional
// header.
func Create(path string, format engine.WaveFormat) (*Writer, error) {
	if format.BitsPerSample != 16 {
		return nil, ErrUnsupportedPCM
	}
	if format.Channels < 1 || format.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid wave format %s", format)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	w := &Writer{f: f, format: format}
	if err := w.writeHeader(0); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("unable to write wave header: %w", err)
	}
	return w, nil
}

func (w *Writer) writeHeader(dataLen uint32) error {
	var h [headerSize]byte
	copy(h[0:4], "RIFF")
	binary.LittleEndian.PutUint32(h[4:8], 36+dataLen)
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16)
	binary.LittleEndian.PutUint16(h[20:22], formatPCM)
	binary.LittleEndian.PutUint16(h[22:24], uint16(w.format.Channels))      //nolint:gosec
	binary.LittleEndian.PutUint32(h[24:28], uint32(w.format.SampleRate))    //nolint:gosec
	binary.LittleEndian.PutUint32(h[28:32], uint32(w.format.ByteRate()))    //nolint:gosec
	binary.LittleEndian.PutUint16(h[32:34], uint16(w.format.BlockAlign()))  //nolint:gosec
	binary.LittleEndian.PutUint16(h[34:36], uint16(w.format.BitsPerSample)) //nolint:gosec
	copy(h[36:40], "data")
	binary.LittleEndian.PutUint32(h[40:44], dataLen)

	_, err := w.f.WriteAt(h[:], 0)
	return err
}

// Format returns the format the writer was created with.
func (w *Writer) Format() engine.WaveFormat {
	return w.format
}

// WriteSamples appends interleaved samples.
func (w *Writer) WriteSamples(samples []int16) error {
	if w.closed {
		return ErrWriterClosed
	}
	if len(samples)%w.format.Channels != 0 {
		return ErrMisalignedFrame
	}
	if w.n+int64(len(samples))*2 > maxDataBytes {
		return ErrDataTooLarge
	}

	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s)) //nolint:gosec
	}
	n, err := w.f.WriteAt(buf, headerSize+w.n)
	w.n += int64(n)
	return err
}

// WritePCM appends raw little-endian 16-bit sample data.
func (w *Writer) WritePCM(data []byte) error {
	if w.closed {
		return ErrWriterClosed
	}
	if len(data)%w.format.BlockAlign() != 0 {
		return ErrMisalignedFrame
	}
	if w.n+int64(len(data)) > maxDataBytes {
		return ErrDataTooLarge
	}
	n, err := w.f.WriteAt(data, headerSize+w.n)
	w.n += int64(n)
	return err
}

// DataBytes returns the number of sample bytes written so far.
func (w *Writer) DataBytes() int64 {
	return w.n
}

// Size returns the total file size, header included.
func (w *Writer) Size() int64 {
	return headerSize + w.n
}

// Close patches the chunk sizes, syncs and closes the file. Calling Close
// more than once returns ErrWriterClosed.
func (w *Writer) Close() error {
	if w.closed {
		return ErrWriterClosed
	}
	w.closed = true

	if err := w.writeHeader(uint32(w.n)); err != nil { //nolint:gosec
		_ = w.f.Close()
		return fmt.Errorf("unable to finalize wave header: %w", err)
	}
	if err := w.f.Sync(); err != nil {
		_ = w.f.Close()
		return fmt.Errorf("unable to sync wave file: %w", err)
	}
	return w.f.Close()
}

// Abort closes the file without finalizing it and removes it from disk.
func (w *Writer) Abort() error {
	if w.closed {
		return ErrWriterClosed
	}
	w.closed = true
	name := w.f.Name()
	_ = w.f.Close()
	return os.Remove(name)
}

// Info describes a parsed WAVE file.
type Info struct {
	Format    engine.WaveFormat
	AudioFmt  uint16
	DataBytes uint32
}

// Frames returns the number of sample frames in the data chunk.
func (i Info) Frames() int {
	if i.Format.BlockAlign() == 0 {
		return 0
	}
	return int(i.DataBytes) / i.Format.BlockAlign()
}

// ReadInfo parses the header of a WAVE file.
func ReadInfo(r io.Reader) (Info, error) {
	var h [headerSize]byte
	if _, err := io.ReadFull(r, h[:]); err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrNotWave, err)
	}
	if string(h[0:4]) != "RIFF" || string(h[8:12]) != "WAVE" || string(h[12:16]) != "fmt " {
		return Info{}, ErrNotWave
	}
	if string(h[36:40]) != "data" {
		return Info{}, fmt.Errorf("%w: missing data chunk", ErrNotWave)
	}

	return Info{
		AudioFmt: binary.LittleEndian.Uint16(h[20:22]),
		Format: engine.WaveFormat{
			Channels:      int(binary.LittleEndian.Uint16(h[22:24])),
			SampleRate:    int(binary.LittleEndian.Uint32(h[24:28])),
			BitsPerSample: int(binary.LittleEndian.Uint16(h[34:36])),
		},
		DataBytes: binary.LittleEndian.Uint32(h[40:44]),
	}, nil
}

// ReadFileInfo opens path and parses its WAVE header.
func ReadFileInfo(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, err
	}
	defer f.Close() //nolint:errcheck
	return ReadInfo(f)
}

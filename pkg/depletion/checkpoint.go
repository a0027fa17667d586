package depletion

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/mocdown/mocdown/pkg/config"
	"github.com/mocdown/mocdown/pkg/engine"
	"github.com/mocdown/mocdown/pkg/origen"
)

// CheckpointVersion is the version written by WriteCheckpoint.
const CheckpointVersion = 2

const checkpointFormat = "mocdown-checkpoint"

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// CellState is the depletion state of one burn cell.
type CellState struct {
	Volume   float64
	BurnRate float64
	// ZamMoles is the inventory the cell started the step with.
	ZamMoles map[int]float64
	Micros   origen.Micros
	// Calculation is nil when the step did not transmute.
	Calculation    *origen.Calculation
	DecayPower     float64
	NextDecayPower float64
}

// Checkpoint is the snapshot of one depletion step.
type Checkpoint struct {
	Version   int
	Step      int
	Digest    string
	CreatedAt time.Time

	Interval float64
	Rate     float64
	End      float64

	TransportInput  string
	TransportOutput string

	BurnCells      []int
	Cells          map[int]*CellState
	TransmuteTally int
	MaterialZaids  map[int]string

	HasEigenvalue      bool
	Keff               float64
	KeffSigma          float64
	NeutronsPerFission float64
	MevPerFission      float64
	SourceRate         float64

	// Feedback holds the updates proposed at every transport iteration.
	Feedback []map[int]CellUpdate
	// Applied are the updates the step converged with.
	Applied map[int]CellUpdate
}

// Calculations returns the depletion results per burn cell, or nil when
// the step did not transmute.
func (c *Checkpoint) Calculations() map[int]*origen.Calculation {
	out := make(map[int]*origen.Calculation, len(c.Cells))
	for n, cell := range c.Cells {
		if cell.Calculation == nil {
			return nil
		}
		out[n] = cell.Calculation
	}
	return out
}

// NextDecayPowers returns the decay power of every burn cell at the start
// of the following step.
func (c *Checkpoint) NextDecayPowers() map[int]float64 {
	out := make(map[int]float64, len(c.Cells))
	for n, cell := range c.Cells {
		out[n] = cell.NextDecayPower
	}
	return out
}

type checkpointHeader struct {
	Format    string    `json:"format"`
	Version   int       `json:"version"`
	Step      int       `json:"step"`
	Digest    string    `json:"digest"`
	CreatedAt time.Time `json:"created_at"`
}

// checkpointV1 predates feedback.
type checkpointV1 struct {
	Version   int
	Step      int
	Digest    string
	CreatedAt time.Time

	Interval float64
	Rate     float64
	End      float64

	TransportInput  string
	TransportOutput string

	BurnCells      []int
	Cells          map[int]*CellState
	TransmuteTally int
	MaterialZaids  map[int]string

	HasEigenvalue      bool
	Keff               float64
	KeffSigma          float64
	NeutronsPerFission float64
	MevPerFission      float64
	SourceRate         float64
}

func (v checkpointV1) upgrade() *Checkpoint {
	return &Checkpoint{
		Version:            2,
		Step:               v.Step,
		Digest:             v.Digest,
		CreatedAt:          v.CreatedAt,
		Interval:           v.Interval,
		Rate:               v.Rate,
		End:                v.End,
		TransportInput:     v.TransportInput,
		TransportOutput:    v.TransportOutput,
		BurnCells:          v.BurnCells,
		Cells:              v.Cells,
		TransmuteTally:     v.TransmuteTally,
		MaterialZaids:      v.MaterialZaids,
		HasEigenvalue:      v.HasEigenvalue,
		Keff:               v.Keff,
		KeffSigma:          v.KeffSigma,
		NeutronsPerFission: v.NeutronsPerFission,
		MevPerFission:      v.MevPerFission,
		SourceRate:         v.SourceRate,
		Applied:            map[int]CellUpdate{},
	}
}

// checkpointDecoders read the body of each known version and return it as
// the current version.
var checkpointDecoders = map[int]func(*gob.Decoder) (*Checkpoint, error){
	1: func(dec *gob.Decoder) (*Checkpoint, error) {
		var v checkpointV1
		if err := dec.Decode(&v); err != nil {
			return nil, err
		}
		return v.upgrade(), nil
	},
	2: func(dec *gob.Decoder) (*Checkpoint, error) {
		var c Checkpoint
		if err := dec.Decode(&c); err != nil {
			return nil, err
		}
		if c.Applied == nil {
			c.Applied = map[int]CellUpdate{}
		}
		return &c, nil
	},
}

// CheckpointPath names the checkpoint of step next to the deck base name.
func CheckpointPath(base string, step int, compress bool) string {
	path := fmt.Sprintf("%s.%03d.ckpt", base, step)
	if compress {
		path += ".zst"
	}
	return path
}

// FindCheckpoint returns the path of an existing checkpoint of step,
// compressed or not, or "" when there is none.
func FindCheckpoint(base string, step int) string {
	for _, compress := range []bool{true, false} {
		path := CheckpointPath(base, step, compress)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// WriteCheckpoint stores c at path. The file is written next to path and
// renamed into place, so an existing file or link at path is replaced and
// never written through.
func WriteCheckpoint(path string, c *Checkpoint, compress bool) (err error) {
	c.Version = CheckpointVersion
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".ckpt-*")
	if err != nil {
		return fmt.Errorf("failed to create checkpoint: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	var w io.Writer = tmp
	var enc *zstd.Encoder
	if compress {
		enc, err = zstd.NewWriter(tmp, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return err
		}
		w = enc
	}
	bw := bufio.NewWriterSize(w, 256*1024)

	hb, err := json.Marshal(checkpointHeader{
		Format:    checkpointFormat,
		Version:   c.Version,
		Step:      c.Step,
		Digest:    c.Digest,
		CreatedAt: c.CreatedAt,
	})
	if err != nil {
		return err
	}
	if _, err = bw.Write(append(hb, '\n')); err != nil {
		return err
	}
	if err = gob.NewEncoder(bw).Encode(c); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	if err = bw.Flush(); err != nil {
		return err
	}
	if enc != nil {
		if err = enc.Close(); err != nil {
			return err
		}
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to store checkpoint: %w", err)
	}
	return nil
}

// ReadCheckpoint loads the checkpoint at path, upgrading older versions.
// Compression is detected from the content.
func ReadCheckpoint(path string) (*Checkpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = bufio.NewReader(f)
	magic, _ := r.(*bufio.Reader).Peek(len(zstdMagic))
	if bytes.Equal(magic, zstdMagic) {
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		r = dec
	}
	br := bufio.NewReaderSize(r, 256*1024)

	line, err := br.ReadBytes('\n')
	if err != nil {
		return nil, malformedCheckpoint(path, fmt.Errorf("missing header: %w", err))
	}
	var h checkpointHeader
	if err := json.Unmarshal(line, &h); err != nil {
		return nil, malformedCheckpoint(path, fmt.Errorf("bad header: %w", err))
	}
	if h.Format != checkpointFormat {
		return nil, malformedCheckpoint(path, fmt.Errorf("not a checkpoint (format %q)", h.Format))
	}

	decode, ok := checkpointDecoders[h.Version]
	if !ok {
		return nil, engine.NewPermanentError(fmt.Sprintf("unsupported checkpoint version %d", h.Version), nil).
			WithCode(engine.ErrCodeCheckpointVersion).
			WithResource(path).
			WithOperation("read checkpoint")
	}
	c, err := decode(gob.NewDecoder(br))
	if err != nil {
		return nil, malformedCheckpoint(path, fmt.Errorf("gob decode: %w", err))
	}
	return c, nil
}

func malformedCheckpoint(path string, err error) error {
	return engine.NewPermanentError("malformed checkpoint", err).
		WithResource(path).
		WithOperation("read checkpoint")
}

// ParametersDigest fingerprints the settings a checkpoint depends on.
func ParametersDigest(cfg *config.Config) string {
	raw, _ := json.Marshal(struct {
		Depletion config.DepletionConfig
		Libraries config.LibrariesConfig
	}{cfg.Depletion, cfg.Libraries})
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

package method

import (
	"bufio"
	"fmt"
	"os"

	"github.com/ChizhovVadim/ecgpretrain/internal/backbone"
	"github.com/ChizhovVadim/ecgpretrain/internal/nn"
)

// A checkpoint is two weight sections back to back: the encoder, then the
// method head. LoadEncoder reads only the first one, so an encoder trained
// by any method can seed any other method.

func SaveCheckpoint(path string, m Model) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	err = nn.WriteParams(f, m.Encoder().Params())
	if err == nil {
		err = nn.WriteParams(f, m.Head().Params())
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("save checkpoint %v: %w", path, err)
	}
	return nil
}

func LoadCheckpoint(path string, m Model) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var r = bufio.NewReader(f)
	if err := nn.ReadParams(r, m.Encoder().Params()); err != nil {
		return fmt.Errorf("load checkpoint %v encoder: %w", path, err)
	}
	if err := nn.ReadParams(r, m.Head().Params()); err != nil {
		return fmt.Errorf("load checkpoint %v head: %w", path, err)
	}
	return nil
}

func LoadEncoder(path string, encoder backbone.Encoder) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := nn.ReadParams(bufio.NewReader(f), encoder.Params()); err != nil {
		return fmt.Errorf("load encoder %v: %w", path, err)
	}
	return nil
}

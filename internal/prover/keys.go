package prover

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/consensys/gnark/backend/groth16"
)

const (
	ccsExt = ".ccs"
	pkExt  = ".pk"
	vkExt  = ".vk"
)

// SaveKeys writes the constraint system and keys of circuit id to dir as
// <id>.ccs, <id>.pk and <id>.vk.
func (p *Groth16Prover) SaveKeys(id, dir string) error {
	c, err := p.circuit("SaveKeys", id)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for ext, obj := range map[string]io.WriterTo{ccsExt: c.ccs, pkExt: c.pk, vkExt: c.vk} {
		if err := writeFile(filepath.Join(dir, id+ext), obj); err != nil {
			return err
		}
	}
	return nil
}

// LoadKeys reads the files written by SaveKeys and registers circuit id.
func (p *Groth16Prover) LoadKeys(id, dir string) error {
	ccs := groth16.NewCS(Curve)
	pk := groth16.NewProvingKey(Curve)
	vk := groth16.NewVerifyingKey(Curve)
	for ext, obj := range map[string]io.ReaderFrom{ccsExt: ccs, pkExt: pk, vkExt: vk} {
		if err := readFile(filepath.Join(dir, id+ext), obj); err != nil {
			return err
		}
	}
	p.Register(id, ccs, pk, vk)
	return nil
}

func writeFile(path string, obj io.WriterTo) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := obj.WriteTo(f); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func readFile(path string, obj io.ReaderFrom) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := obj.ReadFrom(f); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return nil
}

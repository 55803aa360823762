// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package eeprom persists the pack configuration as a versioned,
// checksummed image.
//
// Image layout:
//
//	[version:1][length:2 BE][payload:length][checksum:1]
//
// The payload is a CBOR map with small integer keys. The checksum is the
// 8-bit sum of the payload bytes.
package eeprom

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/cellwarden/pkg/bms"
)

// Version is the image layout version written by Save.
const Version = 0x02

const headerSize = 3

// ErrNotFound is returned by Load when no image has been written yet.
var ErrNotFound = errors.New("no configuration image")

// LoadResult describes how a configuration was obtained.
type LoadResult struct {
	// Fallback is set when the stored image was rejected and the compiled
	// defaults were returned instead.
	Fallback bool
	Reason   string
}

// record is the persisted form of bms.PackConfig.
type record struct {
	NumModules      uint8   `cbor:"0,keyasint"`
	ModuleCellCount []uint8 `cbor:"1,keyasint"`
	CellMinmV       uint32  `cbor:"2,keyasint"`
	CellMaxmV       uint32  `cbor:"3,keyasint"`
	CellCapacitycAh uint32  `cbor:"4,keyasint"`
	ChargeCRatingcC uint32  `cbor:"5,keyasint"`
	BalOnThreshmV   uint32  `cbor:"6,keyasint"`
	BalOffThreshmV  uint32  `cbor:"7,keyasint"`
	PackCellsP      uint32  `cbor:"8,keyasint"`
	CVCutoffmA      uint32  `cbor:"9,keyasint,omitempty"`
}

func toRecord(cfg *bms.PackConfig) record {
	return record{
		NumModules:      cfg.NumModules,
		ModuleCellCount: append([]uint8(nil), cfg.ModuleCellCount...),
		CellMinmV:       cfg.CellMinmV,
		CellMaxmV:       cfg.CellMaxmV,
		CellCapacitycAh: cfg.CellCapacitycAh,
		ChargeCRatingcC: cfg.ChargeCRatingcC,
		BalOnThreshmV:   cfg.BalOnThreshmV,
		BalOffThreshmV:  cfg.BalOffThreshmV,
		PackCellsP:      cfg.PackCellsP,
		CVCutoffmA:      cfg.CVCutoffmA,
	}
}

func (r record) config() bms.PackConfig {
	return bms.PackConfig{
		NumModules:      r.NumModules,
		ModuleCellCount: r.ModuleCellCount,
		CellMinmV:       r.CellMinmV,
		CellMaxmV:       r.CellMaxmV,
		CellCapacitycAh: r.CellCapacitycAh,
		ChargeCRatingcC: r.ChargeCRatingcC,
		BalOnThreshmV:   r.BalOnThreshmV,
		BalOffThreshmV:  r.BalOffThreshmV,
		PackCellsP:      r.PackCellsP,
		CVCutoffmA:      r.CVCutoffmA,
	}
}

func checksum(payload []byte) uint8 {
	var sum uint8
	for _, b := range payload {
		sum += b
	}
	return sum
}

// Encode builds an image for cfg.
func Encode(cfg *bms.PackConfig) ([]byte, error) {
	payload, err := cbor.Marshal(toRecord(cfg))
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	if len(payload) > 0xFFFF {
		return nil, fmt.Errorf("config payload too large: %d bytes", len(payload))
	}

	img := make([]byte, headerSize, headerSize+len(payload)+1)
	img[0] = Version
	binary.BigEndian.PutUint16(img[1:3], uint16(len(payload)))
	img = append(img, payload...)
	img = append(img, checksum(payload))
	return img, nil
}

// Decode parses and validates an image.
func Decode(img []byte) (bms.PackConfig, error) {
	if len(img) < headerSize+1 {
		return bms.PackConfig{}, fmt.Errorf("image too short: %d bytes", len(img))
	}
	if img[0] != Version {
		return bms.PackConfig{}, fmt.Errorf("version mismatch: stored 0x%02X, want 0x%02X", img[0], Version)
	}
	n := int(binary.BigEndian.Uint16(img[1:3]))
	if len(img) < headerSize+n+1 {
		return bms.PackConfig{}, fmt.Errorf("image truncated: length %d, have %d bytes", n, len(img)-headerSize-1)
	}
	payload := img[headerSize : headerSize+n]
	if sum := checksum(payload); sum != img[headerSize+n] {
		return bms.PackConfig{}, fmt.Errorf("checksum mismatch: stored 0x%02X, computed 0x%02X", img[headerSize+n], sum)
	}

	var r record
	if err := cbor.Unmarshal(payload, &r); err != nil {
		return bms.PackConfig{}, fmt.Errorf("decode config: %w", err)
	}
	cfg := r.config()
	if err := cfg.Validate(); err != nil {
		return bms.PackConfig{}, fmt.Errorf("stored config invalid: %w", err)
	}
	return cfg, nil
}

// Store reads and writes the configuration image on a Medium.
type Store struct {
	medium Medium
	log    logrus.FieldLogger
}

// NewStore creates a store on m.
func NewStore(m Medium, log logrus.FieldLogger) *Store {
	return &Store{
		medium: m,
		log:    log.WithField("component", "eeprom"),
	}
}

// Load reads the stored configuration. A missing image returns the defaults
// with ErrNotFound. A corrupt or outdated image returns the defaults with
// LoadResult.Fallback set and a nil error.
func (s *Store) Load() (bms.PackConfig, LoadResult, error) {
	img, err := s.medium.ReadImage()
	if errors.Is(err, ErrNotFound) {
		return bms.DefaultConfig(), LoadResult{}, ErrNotFound
	}
	if err != nil {
		return bms.DefaultConfig(), LoadResult{}, fmt.Errorf("read image: %w", err)
	}

	cfg, err := Decode(img)
	if err != nil {
		s.log.WithError(err).Warn("stored configuration rejected, using defaults")
		return bms.DefaultConfig(), LoadResult{Fallback: true, Reason: err.Error()}, nil
	}
	return cfg, LoadResult{}, nil
}

// Save validates and writes cfg.
func (s *Store) Save(cfg bms.PackConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	img, err := Encode(&cfg)
	if err != nil {
		return err
	}
	if err := s.medium.WriteImage(img); err != nil {
		return fmt.Errorf("write image: %w", err)
	}
	s.log.WithField("cells", cfg.TotalCells()).Info("configuration saved")
	return nil
}

// WriteDefaults overwrites the image with the compiled defaults.
func (s *Store) WriteDefaults() (bms.PackConfig, error) {
	cfg := bms.DefaultConfig()
	return cfg, s.Save(cfg)
}

// ChangeConfig updates one field of the stored configuration. A missing or
// rejected image is treated as the defaults. The change is only written when
// the resulting configuration validates.
func (s *Store) ChangeConfig(f Field, v uint32) (bms.PackConfig, error) {
	cfg, _, err := s.Load()
	if err != nil && !errors.Is(err, ErrNotFound) {
		return cfg, err
	}
	if err := f.Apply(&cfg, v); err != nil {
		return cfg, err
	}
	if err := s.Save(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

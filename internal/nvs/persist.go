// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package nvs

import (
	"fmt"

	"github.com/trackle-iot/modbus-gateway/internal/catalog"
	"github.com/trackle-iot/modbus-gateway/internal/linkconfig"
)

const configKey = "firmware-config"

func descriptorKey(i int) string {
	return fmt.Sprintf("rad%d", i)
}

// Load reads the link config and register catalog back from store. An
// absent or corrupt config blob falls back to linkconfig.Default() with
// an empty catalog; a config blob that loads but whose descriptor blobs
// don't falls back the same way, since a partially-loaded catalog must
// never be observable.
func Load(store Store) (linkconfig.Config, []catalog.Descriptor, error) {
	raw, found, err := store.GetBlob(configKey)
	if err != nil {
		return linkconfig.Config{}, nil, fmt.Errorf("nvs: load config: %w", err)
	}
	if !found {
		return linkconfig.Default(), nil, nil
	}

	cfg, err := unmarshalConfig(raw)
	if err != nil {
		return linkconfig.Default(), nil, nil
	}

	descs := make([]catalog.Descriptor, 0, cfg.KnownRegistersCount)
	for i := 0; i < cfg.KnownRegistersCount; i++ {
		blob, found, err := store.GetBlob(descriptorKey(i))
		if err != nil || !found {
			return linkconfig.Default(), nil, nil
		}
		d, err := unmarshalDescriptor(blob)
		if err != nil {
			return linkconfig.Default(), nil, nil
		}
		descs = append(descs, d)
	}

	cfg.KnownRegistersCount = len(descs)
	return cfg, descs, nil
}

// Save writes the link config and register catalog as a two-phase
// sequence: the config blob first (with the catalog's current size),
// then each descriptor in order. If any descriptor write fails, the
// config blob is overwritten with a zeroed record sized to the config
// blob itself, not the descriptor blob, so the next Load sees a
// registered count that matches what was actually committed rather
// than a size/content mismatch. Save does not require the Serial
// Arbiter.
func Save(store Store, cfg linkconfig.Config, descs []catalog.Descriptor) error {
	cfg.KnownRegistersCount = len(descs)
	if err := store.SetBlob(configKey, marshalConfig(cfg)); err != nil {
		return fmt.Errorf("nvs: save config: %w", err)
	}

	for i, d := range descs {
		if err := store.SetBlob(descriptorKey(i), marshalDescriptor(d)); err != nil {
			zeroed := make([]byte, configBlobSize)
			_ = store.SetBlob(configKey, zeroed)
			_ = store.Commit()
			return fmt.Errorf("nvs: save descriptor %d: %w", i, err)
		}
	}

	return store.Commit()
}

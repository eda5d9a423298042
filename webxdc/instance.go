// Package webxdc implements the status-update engine of spec §4.6: the
// append-only per-instance update log, the hidden MIME envelope format
// updates travel in, per-recipient pseudo-addresses, batching/flush into
// size-capped envelopes, and in-chat info-message collapsing.
package webxdc

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/BurntSushi/toml"
)

// SupportedAPI is the highest manifest min_api this implementation can
// run; an instance declaring a higher min_api falls back to the
// "requires newer version" placeholder (§4.6).
const SupportedAPI = 1

// Manifest is the optional manifest.toml inside a webxdc archive.
type Manifest struct {
	Name          string `toml:"name"`
	Icon          string `toml:"icon"`
	MinAPI        int    `toml:"min_api"`
	SourceCodeURL string `toml:"source_code_url"`
}

var ErrNotWebxdcArchive = errors.New("webxdc: not a valid webxdc archive")

// ValidateInstance inspects a candidate webxdc blob: it must be a valid
// ZIP containing index.html. A manifest.toml is optional; if present it is
// parsed leniently, unknown keys ignored (BurntSushi/toml does this by
// default when decoding into a concrete struct).
func ValidateInstance(blob []byte) (*Manifest, error) {
	zr, err := zip.NewReader(bytes.NewReader(blob), int64(len(blob)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotWebxdcArchive, err)
	}

	var hasIndex bool
	var manifestBytes []byte
	for _, f := range zr.File {
		switch f.Name {
		case "index.html":
			hasIndex = true
		case "manifest.toml":
			rc, err := f.Open()
			if err != nil {
				return nil, fmt.Errorf("%w: manifest.toml: %v", ErrNotWebxdcArchive, err)
			}
			manifestBytes, err = io.ReadAll(rc)
			rc.Close()
			if err != nil {
				return nil, fmt.Errorf("%w: manifest.toml: %v", ErrNotWebxdcArchive, err)
			}
		}
	}
	if !hasIndex {
		return nil, ErrNotWebxdcArchive
	}

	m := &Manifest{}
	if manifestBytes != nil {
		if _, err := toml.Decode(string(manifestBytes), m); err != nil {
			// A corrupt manifest does not invalidate the whole instance;
			// the app still opens, just without name/icon metadata.
			return &Manifest{}, nil
		}
	}
	return m, nil
}

// NeedsUpgradePlaceholder reports whether m declares a min_api this build
// cannot satisfy, in which case the host must render the synthesized
// "requires newer version" page instead of index.html.
func (m *Manifest) NeedsUpgradePlaceholder() bool {
	return m.MinAPI > SupportedAPI
}


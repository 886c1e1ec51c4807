// Package writer implements the DES writer (spec §4.C): validates
// names and metadata, decides internal-vs-external placement per file,
// and finalises one container by delegating the wire encoding to
// container.Encoder.
/*
 * Copyright (c) 2026 Datavision Easy Store authors. All rights reserved.
 */
package writer

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"sync"

	jsoniter "github.com/json-iterator/go"

	"github.com/datavision/des/cmn/cos"
	"github.com/datavision/des/cmn/debug"
	"github.com/datavision/des/cmn/nlog"
	"github.com/datavision/des/container"
)

// ExternalPutter uploads one externalised payload; writer calls it with
// the full <prefix>/_bigFiles/<name> key it computed.
type ExternalPutter interface {
	PutBytes(ctx context.Context, bucket, key string, data []byte) error
}

// ExternalConfig is the "all-or-nothing" external-storage wiring of
// spec §4.C: either all three fields are set, or none.
type ExternalConfig struct {
	Client ExternalPutter
	Bucket string
	Prefix string
}

func (c ExternalConfig) enabled() bool {
	return c.Client != nil && c.Bucket != "" && c.Prefix != ""
}

// ExternalFileInfo describes one uploaded side-object, published after
// Close so the packer can record it in the source catalog (§4.C).
type ExternalFileInfo struct {
	Name   string
	Key    string
	Size   uint64
}

// Stats mirrors the prototype's get_stats(), available before Close.
type Stats struct {
	TotalFiles        int
	InternalFiles     int
	ExternalFiles     int
	InternalSizeBytes uint64
	ExternalSizeBytes uint64
}

// Writer is the add/close state machine of spec §4.C.
type Writer struct {
	enc               *container.Encoder
	bigFileThreshold  uint64
	ext               ExternalConfig

	mu           sync.Mutex
	closed       bool
	external     []ExternalFileInfo
	warnings     []string
	totalFiles   int
	internalSize uint64
}

var generatedNameRe = regexp.MustCompile(`^[A-Za-z0-9]+_\d{8}_\([0-9A-Fa-f]{12}_[0-9A-Fa-f]{2}\)$`)

// New wraps w with an Encoder and validates the external-storage config
// is all-or-nothing (§4.C).
func New(w io.Writer, bigFileThreshold uint64, ext ExternalConfig) (*Writer, error) {
	anySet := ext.Client != nil || ext.Bucket != "" || ext.Prefix != ""
	if anySet && !ext.enabled() {
		return nil, cos.NewErrValidation("external storage requires all of client, bucket, prefix, or none")
	}
	enc, err := container.NewEncoder(w)
	if err != nil {
		return nil, err
	}
	return &Writer{enc: enc, bigFileThreshold: bigFileThreshold, ext: ext}, nil
}

// AddOpts carries the optional per-file knobs of add_file (§4.C).
type AddOpts struct {
	Meta           map[string]any
	ForceExternal  bool
}

// Add validates name/metadata, decides internal vs. external placement,
// and records the index entry. A failed external PUT fails the whole
// call and leaves the writer unusable, per spec.
func (w *Writer) Add(ctx context.Context, name string, data []byte, opts AddOpts) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return cos.NewErrValidation("writer is already closed")
	}
	if err := container.ValidateName(name); err != nil {
		return err
	}
	w.warnIfNotGenerated(name)

	dataLen := uint64(len(data))
	shouldExternalize := (opts.ForceExternal || dataLen >= w.bigFileThreshold) && w.ext.enabled()

	var flags uint32
	var dataOffset uint64

	if shouldExternalize {
		key := fmt.Sprintf("%s/_bigFiles/%s", w.ext.Prefix, name)
		if err := w.ext.Client.PutBytes(ctx, w.ext.Bucket, key, data); err != nil {
			w.closed = true // unusable after a failed external PUT, per spec
			return fmt.Errorf("upload external file %q: %w", name, err)
		}
		flags |= container.FlagExternal
		w.external = append(w.external, ExternalFileInfo{Name: name, Key: key, Size: dataLen})

		if opts.Meta == nil {
			opts.Meta = map[string]any{}
		}
		opts.Meta["is_external"] = true
		opts.Meta["external_key"] = key
	} else {
		off, err := w.enc.WriteData(data)
		if err != nil {
			return err
		}
		dataOffset = off
		w.internalSize += dataLen
	}

	if opts.Meta == nil {
		opts.Meta = map[string]any{}
	}
	opts.Meta["size"] = dataLen

	metaBytes, err := jsoniter.Marshal(opts.Meta)
	if err != nil {
		return cos.NewErrValidation("metadata for %q is not JSON-serialisable: %v", name, err)
	}
	if len(metaBytes) > container.MaxMetaSize {
		return cos.NewErrValidation("metadata for %q too large: %d bytes (max %d)", name, len(metaBytes), container.MaxMetaSize)
	}
	metaOff, metaLen := w.enc.AppendMeta(metaBytes)

	w.enc.AddEntry(container.IndexEntry{
		Name:       name,
		DataOffset: dataOffset,
		DataLength: dataLen,
		MetaOffset: metaOff,
		MetaLength: metaLen,
		Flags:      flags,
	})
	w.totalFiles++
	return nil
}

// warnIfNotGenerated records a non-fatal warning when name doesn't
// look like a generator-produced name; prototype parity (§9).
func (w *Writer) warnIfNotGenerated(name string) {
	if !generatedNameRe.MatchString(name) {
		w.warnings = append(w.warnings, fmt.Sprintf("filename %q does not match the generated-name pattern", name))
	}
}

// Warnings returns accumulated non-fatal filename warnings.
func (w *Writer) Warnings() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.warnings...)
}

// Stats reports counts/sizes accumulated so far, usable before Close.
func (w *Writer) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	var s Stats
	s.TotalFiles = w.totalFiles
	s.InternalSizeBytes = w.internalSize
	for _, e := range w.external {
		s.ExternalFiles++
		s.ExternalSizeBytes += e.Size
	}
	s.InternalFiles = s.TotalFiles - s.ExternalFiles
	return s
}

// ExternalFiles returns the side-objects uploaded so far (or, after
// Close, the final list for the packer's catalog update).
func (w *Writer) ExternalFiles() []ExternalFileInfo {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]ExternalFileInfo(nil), w.external...)
}

// Close finalises the container. Idempotent (§4.C).
func (w *Writer) Close() (container.Footer, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return container.Footer{}, nil
	}
	debug.AssertFunc(func() bool { return w.enc != nil }, "writer has no encoder")
	footer, err := w.enc.Close()
	w.closed = true
	if err != nil {
		return container.Footer{}, err
	}
	nlog.Infof("container closed: %s", nlog.Fields(
		"files", footer.FileCount,
		"data_bytes", footer.DataLength,
		"external_files", len(w.external),
	))
	return footer, nil
}

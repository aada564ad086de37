// Copyright 2026 The Deskstream Authors
// SPDX-License-Identifier: Apache-2.0

package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"os/exec"
	"strconv"
)

// ParecSource captures PCM from a PulseAudio source by running parec
// with raw s16le output. Owning a child process instead of linking a
// PulseAudio client library keeps the audio thread's failure domain to
// one pipe read.
type ParecSource struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	raw    []byte
}

// NewParecSource starts parec against the named PulseAudio source
// (PULSE_SOURCE).
func NewParecSource(source string, sampleRate, channels int) (*ParecSource, error) {
	path, err := exec.LookPath("parec")
	if err != nil {
		return nil, fmt.Errorf("audio: parec not found: %w", err)
	}
	cmd := exec.Command(path,
		"--device="+source,
		"--format=s16le",
		"--rate="+strconv.Itoa(sampleRate),
		"--channels="+strconv.Itoa(channels),
		"--raw",
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("audio: creating parec pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("audio: starting parec: %w", err)
	}
	return &ParecSource{cmd: cmd, stdout: stdout}, nil
}

// Read fills pcm with one full frame of little-endian samples, blocking
// until parec has produced it.
func (s *ParecSource) Read(pcm []int16) error {
	need := len(pcm) * 2
	if cap(s.raw) < need {
		s.raw = make([]byte, need)
	}
	raw := s.raw[:need]
	if _, err := io.ReadFull(s.stdout, raw); err != nil {
		return err
	}
	for i := range pcm {
		pcm[i] = int16(binary.LittleEndian.Uint16(raw[2*i:]))
	}
	return nil
}

// Close stops the parec child.
func (s *ParecSource) Close() error {
	s.stdout.Close()
	if s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	return s.cmd.Wait()
}

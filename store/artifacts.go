package store

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"stem-sync/utils"
)

// Artifacts lays out session working files on disk. Each session gets
// its own directory under Root holding the persisted stems and the
// current preview; final mixes live under MixDir so they survive the
// session purge.
type Artifacts struct {
	Root   string
	MixDir string
}

func NewArtifacts(root, mixDir string) (*Artifacts, error) {
	if err := utils.CreateFolder(root); err != nil {
		return nil, err
	}
	if err := utils.CreateFolder(mixDir); err != nil {
		return nil, err
	}
	return &Artifacts{Root: root, MixDir: mixDir}, nil
}

// SessionDir returns the working directory for a session.
func (a *Artifacts) SessionDir(sessionID string) string {
	return filepath.Join(a.Root, sessionID)
}

// CreateSessionDir makes the session's working directory.
func (a *Artifacts) CreateSessionDir(sessionID string) error {
	return utils.CreateFolder(a.SessionDir(sessionID))
}

// VocalStem is the persisted, normalized, never-reshifted vocal stem.
func (a *Artifacts) VocalStem(sessionID string) string {
	return filepath.Join(a.SessionDir(sessionID), "vocal_stem.wav")
}

// InstrumentalStem is the persisted transformed instrumental stem.
func (a *Artifacts) InstrumentalStem(sessionID string) string {
	return filepath.Join(a.SessionDir(sessionID), "instrumental_stem.wav")
}

// Preview is the current rendered preview mix.
func (a *Artifacts) Preview(sessionID string) string {
	return filepath.Join(a.SessionDir(sessionID), "preview.wav")
}

// FinalMix is the committed render; it outlives the session.
func (a *Artifacts) FinalMix(sessionID string) string {
	return filepath.Join(a.MixDir, fmt.Sprintf("mix_%s.wav", sessionID))
}

// HasFinalMix reports whether a session was already finalized.
func (a *Artifacts) HasFinalMix(sessionID string) bool {
	_, err := os.Stat(a.FinalMix(sessionID))
	return err == nil
}

// PurgeSession removes the session's working directory and everything
// in it. The final mix, if any, is left alone.
func (a *Artifacts) PurgeSession(sessionID string) error {
	return os.RemoveAll(a.SessionDir(sessionID))
}

// TotalMixes counts committed renders.
func (a *Artifacts) TotalMixes() (int, error) {
	entries, err := os.ReadDir(a.MixDir)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".wav" {
			count++
		}
	}
	return count, nil
}

// StorageBytes sums the size of everything under Root and MixDir.
func (a *Artifacts) StorageBytes() (int64, error) {
	var total int64
	for _, dir := range []string{a.Root, a.MixDir} {
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			if info, err := d.Info(); err == nil {
				total += info.Size()
			}
			return nil
		})
		if err != nil {
			return 0, err
		}
	}
	return total, nil
}

// PurgeAll removes every session working directory, and the final
// mixes too when all is set.
func (a *Artifacts) PurgeAll(all bool) error {
	entries, err := os.ReadDir(a.Root)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			if err := os.RemoveAll(filepath.Join(a.Root, e.Name())); err != nil {
				return err
			}
		}
	}

	if !all {
		return nil
	}

	mixes, err := os.ReadDir(a.MixDir)
	if err != nil {
		return err
	}
	for _, e := range mixes {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".wav" {
			if err := os.Remove(filepath.Join(a.MixDir, e.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}

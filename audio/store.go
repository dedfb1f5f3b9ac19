// Package audio stores call recordings and synthesized responses on local
// disk, each with a companion integrity record.
package audio

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gowebpki/jcs"
	"github.com/kaptinlin/jsonschema"
)

// IntegritySuffix is appended to an artifact path to name its integrity record.
const IntegritySuffix = ".integrity.json"

var (
	// ErrIntegrityMismatch is returned when an artifact no longer matches its record.
	ErrIntegrityMismatch = errors.New("audio integrity mismatch")
	// ErrNoIntegrityRecord is returned when an artifact has no record.
	ErrNoIntegrityRecord = errors.New("audio integrity record missing")
)

//go:embed integrity.schema.json
var integritySchema []byte

// Integrity is the companion record of an artifact.
type Integrity struct {
	Path      string `json:"path"`
	SHA256    string `json:"sha256"`
	Size      int64  `json:"size"`
	CreatedAt string `json:"created_at"`
}

// Store lays artifacts out under root as
// recordings/<date>/call_<id>_chunk<NNN>.wav and
// responses/<date>/call_<id>_response<NNN>.wav.
type Store struct {
	root   string
	schema *jsonschema.Schema
	now    func() time.Time
}

// New creates the store root if needed.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("audio root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve audio root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("create audio root: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	schema, err := compiler.Compile(integritySchema)
	if err != nil {
		return nil, fmt.Errorf("compile integrity schema: %w", err)
	}
	return &Store{root: abs, schema: schema, now: time.Now}, nil
}

// Root returns the absolute store root.
func (s *Store) Root() string { return s.root }

// RecordingPath returns where a downloaded chunk is stored.
func (s *Store) RecordingPath(callID string, chunk int) string {
	return s.partitioned("recordings", fmt.Sprintf("call_%s_chunk%03d.wav", safeName(callID), chunk))
}

// ResponsePath returns where the synthesized reply to a chunk is stored.
func (s *Store) ResponsePath(callID string, chunk int) string {
	return s.partitioned("responses", fmt.Sprintf("call_%s_response%03d.wav", safeName(callID), chunk))
}

func (s *Store) partitioned(kind, name string) string {
	return filepath.Join(s.root, kind, s.now().UTC().Format("2006-01-02"), name)
}

func safeName(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, id)
}

// Save writes data atomically to path and records its integrity.
func (s *Store) Save(path string, data []byte) (Integrity, error) {
	if err := s.Prepare(path); err != nil {
		return Integrity{}, err
	}
	if err := writeFileAtomic(path, data, 0o640); err != nil {
		return Integrity{}, fmt.Errorf("write audio: %w", err)
	}
	return s.Seal(path)
}

// Prepare creates the directory that will hold path.
func (s *Store) Prepare(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create audio dir: %w", err)
	}
	return nil
}

// Seal records the integrity of an artifact written by someone else, such as
// a speech synthesizer.
func (s *Store) Seal(path string) (Integrity, error) {
	sum, size, err := digestFile(path)
	if err != nil {
		return Integrity{}, err
	}
	rel, err := s.Rel(path)
	if err != nil {
		return Integrity{}, err
	}
	rec := Integrity{
		Path:      rel,
		SHA256:    sum,
		Size:      size,
		CreatedAt: s.now().UTC().Format(time.RFC3339),
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		return Integrity{}, fmt.Errorf("encode integrity record: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return Integrity{}, fmt.Errorf("canonicalize integrity record: %w", err)
	}
	if err := writeFileAtomic(path+IntegritySuffix, canonical, 0o640); err != nil {
		return Integrity{}, fmt.Errorf("write integrity record: %w", err)
	}
	return rec, nil
}

// Exists reports whether path is a non-empty regular file.
func (s *Store) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}

// Verify checks an artifact against its integrity record.
func (s *Store) Verify(path string) error {
	raw, err := os.ReadFile(path + IntegritySuffix)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s: %w", path, ErrNoIntegrityRecord)
	}
	if err != nil {
		return fmt.Errorf("read integrity record: %w", err)
	}
	if result := s.schema.ValidateJSON(raw); !result.IsValid() {
		return fmt.Errorf("%s: malformed integrity record: %v: %w", path, result.Errors, ErrIntegrityMismatch)
	}

	var rec Integrity
	if err := json.Unmarshal(raw, &rec); err != nil {
		return fmt.Errorf("decode integrity record: %w", err)
	}
	sum, size, err := digestFile(path)
	if err != nil {
		return err
	}
	if size != rec.Size || sum != rec.SHA256 {
		return fmt.Errorf("%s: recorded %s (%d bytes), found %s (%d bytes): %w",
			path, rec.SHA256, rec.Size, sum, size, ErrIntegrityMismatch)
	}
	return nil
}

// Failure is one artifact that failed verification.
type Failure struct {
	Path string
	Err  error
}

// Report summarizes a tree verification.
type Report struct {
	Checked  int
	Failures []Failure
}

// VerifyTree verifies every artifact under dir. Integrity records and
// in-flight temp files are skipped.
func (s *Store) VerifyTree(dir string) (Report, error) {
	var report Report
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() || strings.HasSuffix(name, IntegritySuffix) || strings.HasPrefix(name, ".") {
			return nil
		}
		report.Checked++
		if verr := s.Verify(path); verr != nil {
			report.Failures = append(report.Failures, Failure{Path: path, Err: verr})
		}
		return nil
	})
	if err != nil {
		return report, fmt.Errorf("walk %s: %w", dir, err)
	}
	return report, nil
}

// Rel returns path relative to the store root with forward slashes, for use
// in media URLs.
func (s *Store) Rel(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	rel, err := filepath.Rel(s.root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is outside audio root %s", path, s.root)
	}
	return filepath.ToSlash(rel), nil
}

func digestFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, fmt.Errorf("hash audio: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

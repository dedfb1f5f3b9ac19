package audio

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	s.now = func() time.Time { return time.Date(2026, 10, 16, 23, 59, 0, 0, time.UTC) }
	return s
}

func TestPathsArePartitionedByDate(t *testing.T) {
	s := newTestStore(t)

	rec := s.RecordingPath("abc-123", 3)
	rel, err := s.Rel(rec)
	require.NoError(t, err)
	assert.Equal(t, "recordings/2026-10-16/call_abc-123_chunk003.wav", rel)

	resp, err := s.Rel(s.ResponsePath("abc-123", 12))
	require.NoError(t, err)
	assert.Equal(t, "responses/2026-10-16/call_abc-123_response012.wav", resp)

	traversal, err := s.Rel(s.RecordingPath("../../etc", 1))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(traversal, "recordings/2026-10-16/call_______etc"))
}

func TestSaveThenVerify(t *testing.T) {
	s := newTestStore(t)
	path := s.RecordingPath("c1", 1)

	rec, err := s.Save(path, []byte("RIFF....WAVE"))
	require.NoError(t, err)
	assert.Equal(t, int64(12), rec.Size)
	assert.Len(t, rec.SHA256, 64)
	assert.Equal(t, "2026-10-16T23:59:00Z", rec.CreatedAt)

	assert.True(t, s.Exists(path))
	require.NoError(t, s.Verify(path))

	raw, err := os.ReadFile(path + IntegritySuffix)
	require.NoError(t, err)
	// Canonical form sorts keys and has no whitespace.
	assert.True(t, strings.HasPrefix(string(raw), `{"created_at":`))
	assert.NotContains(t, string(raw), " ")
}

func TestVerifyDetectsTampering(t *testing.T) {
	s := newTestStore(t)
	path := s.RecordingPath("c1", 1)
	_, err := s.Save(path, []byte("original"))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("tampered"), 0o640))
	assert.ErrorIs(t, s.Verify(path), ErrIntegrityMismatch)
}

func TestVerifyRejectsMalformedRecord(t *testing.T) {
	s := newTestStore(t)
	path := s.RecordingPath("c1", 1)
	_, err := s.Save(path, []byte("original"))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path+IntegritySuffix, []byte(`{"path":"x","sha256":"nothex","size":8,"created_at":"2026-10-16T00:00:00Z"}`), 0o640))
	assert.ErrorIs(t, s.Verify(path), ErrIntegrityMismatch)
}

func TestVerifyMissingRecord(t *testing.T) {
	s := newTestStore(t)
	path := filepath.Join(s.Root(), "loose.wav")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o640))
	assert.ErrorIs(t, s.Verify(path), ErrNoIntegrityRecord)
}

func TestSealExternalArtifact(t *testing.T) {
	s := newTestStore(t)
	path := s.ResponsePath("c1", 2)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte("synthesized"), 0o640))

	_, err := s.Seal(path)
	require.NoError(t, err)
	require.NoError(t, s.Verify(path))
}

func TestExists(t *testing.T) {
	s := newTestStore(t)
	path := filepath.Join(s.Root(), "empty.wav")
	assert.False(t, s.Exists(path))
	require.NoError(t, os.WriteFile(path, nil, 0o640))
	assert.False(t, s.Exists(path))
	assert.False(t, s.Exists(s.Root()))
}

func TestVerifyTree(t *testing.T) {
	s := newTestStore(t)
	good := s.RecordingPath("c1", 1)
	bad := s.RecordingPath("c1", 2)
	_, err := s.Save(good, []byte("one"))
	require.NoError(t, err)
	_, err = s.Save(bad, []byte("two"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(bad, []byte("changed"), 0o640))

	report, err := s.VerifyTree(s.Root())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Checked)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, bad, report.Failures[0].Path)
	assert.ErrorIs(t, report.Failures[0].Err, ErrIntegrityMismatch)
}

func TestRelRejectsOutsideRoot(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Rel(filepath.Join(s.Root(), "..", "elsewhere.wav"))
	assert.Error(t, err)
}

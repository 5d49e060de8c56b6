package evidence

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"os"
	"time"

	"golang.org/x/crypto/ssh"
)

// ManifestEntry describes one uploaded snapshot.
type ManifestEntry struct {
	Key    string `json:"key"`
	URL    string `json:"url"`
	SHA256 string `json:"sha256"`
}

// Manifest lists every snapshot uploaded for an attempt. Auditors verify
// the signature and per-entry digests to confirm nothing was altered.
type Manifest struct {
	ExamID      string          `json:"exam_id"`
	StudentID   string          `json:"student_id"`
	GeneratedAt time.Time       `json:"generated_at"`
	Entries     []ManifestEntry `json:"entries"`
}

// SignedManifest is the wire form: the manifest JSON plus its Ed25519
// signature.
type SignedManifest struct {
	Manifest  json.RawMessage `json:"manifest"`
	Signature string          `json:"signature"`
}

// Signer produces signed manifests with a local Ed25519 key.
type Signer struct {
	key ed25519.PrivateKey
}

// LoadSigner reads an OpenSSH-format Ed25519 private key from path.
func LoadSigner(path string) (*Signer, error) {
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read signing key: %w", err)
	}
	raw, err := ssh.ParseRawPrivateKey(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("parse signing key: %w", err)
	}
	key, ok := raw.(*ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("signing key is %T, want ed25519", raw)
	}
	return &Signer{key: *key}, nil
}

// NewSigner wraps an in-memory key, for tests and provisioning.
func NewSigner(key ed25519.PrivateKey) *Signer {
	return &Signer{key: key}
}

// GenerateKey creates a fresh Ed25519 signing key at path in OpenSSH PEM
// format, mode 0600.
func GenerateKey(path string) (ed25519.PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	block, err := ssh.MarshalPrivateKey(priv, "examguard evidence manifest")
	if err != nil {
		return nil, fmt.Errorf("marshal key: %w", err)
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		return nil, fmt.Errorf("write key: %w", err)
	}
	return pub, nil
}

// BuildManifest assembles entries from uploaded key→URL pairs and the
// original snapshot bytes.
func BuildManifest(examID, studentID string, urls map[string]string, snapshots map[string][]byte) Manifest {
	m := Manifest{
		ExamID:      examID,
		StudentID:   studentID,
		GeneratedAt: time.Now().UTC(),
	}
	for key, url := range urls {
		sum := sha256.Sum256(snapshots[key])
		m.Entries = append(m.Entries, ManifestEntry{
			Key:    key,
			URL:    url,
			SHA256: hex.EncodeToString(sum[:]),
		})
	}
	return m
}

// Sign serializes and signs the manifest.
func (s *Signer) Sign(m Manifest) (*SignedManifest, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}
	sig := ed25519.Sign(s.key, body)
	return &SignedManifest{
		Manifest:  body,
		Signature: base64.StdEncoding.EncodeToString(sig),
	}, nil
}

// Verify checks a signed manifest against pub and returns the decoded
// manifest on success.
func Verify(pub ed25519.PublicKey, sm *SignedManifest) (*Manifest, error) {
	sig, err := base64.StdEncoding.DecodeString(sm.Signature)
	if err != nil {
		return nil, fmt.Errorf("decode signature: %w", err)
	}
	if !ed25519.Verify(pub, sm.Manifest, sig) {
		return nil, fmt.Errorf("manifest signature verification failed")
	}
	var m Manifest
	if err := json.Unmarshal(sm.Manifest, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &m, nil
}

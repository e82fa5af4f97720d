package aperture

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/argon2"

	"aperture/internal/model"
)

const (
	argon2KeyLen  = 32
	argon2SaltLen = 16
)

// HashParams selects the digest used for new credentials.
type HashParams struct {
	Algorithm model.HashAlgorithm
	MemoryKiB uint32
	Time      uint32
	Threads   uint8
}

// DefaultHashParams returns argon2id at m=19456,t=2,p=1. Secrets are
// re-verified on every request, so this cost is paid per request.
func DefaultHashParams() HashParams {
	return HashParams{
		Algorithm: model.HashArgon2id,
		MemoryKiB: 19 * 1024,
		Time:      2,
		Threads:   1,
	}
}

// encode renders the cost parameters stored alongside an argon2id digest.
func (p HashParams) encode() string {
	if p.Algorithm != model.HashArgon2id {
		return ""
	}
	return fmt.Sprintf("m=%d,t=%d,p=%d", p.MemoryKiB, p.Time, p.Threads)
}

func decodeHashParams(alg model.HashAlgorithm, s string) (HashParams, error) {
	p := HashParams{Algorithm: alg}
	if alg != model.HashArgon2id {
		return p, nil
	}
	if _, err := fmt.Sscanf(s, "m=%d,t=%d,p=%d", &p.MemoryKiB, &p.Time, &p.Threads); err != nil {
		return p, fmt.Errorf("parsing argon2id params %q: %w", s, err)
	}
	if p.Time == 0 || p.Threads == 0 {
		return p, fmt.Errorf("argon2id params %q: time and threads must be positive", s)
	}
	return p, nil
}

// CredentialStore persists and verifies the per-device shared secret.
// Only digests are stored.
type CredentialStore struct {
	db     Database
	params HashParams
	clock  Clock
}

func NewCredentialStore(db Database, params HashParams, clock Clock) *CredentialStore {
	def := DefaultHashParams()
	if params.Algorithm == "" {
		params.Algorithm = def.Algorithm
	}
	if params.MemoryKiB == 0 {
		params.MemoryKiB = def.MemoryKiB
	}
	if params.Time == 0 {
		params.Time = def.Time
	}
	if params.Threads == 0 {
		params.Threads = def.Threads
	}
	return &CredentialStore{db: db, params: params, clock: clock}
}

// Issue hashes secret into a new credential without persisting it.
func (s *CredentialStore) Issue(deviceID string, secret Secret) (*model.Credential, error) {
	if secret.Empty() {
		return nil, validationErrorf("PIN is required")
	}

	var salt []byte
	if s.params.Algorithm == model.HashArgon2id {
		salt = make([]byte, argon2SaltLen)
		if _, err := rand.Read(salt); err != nil {
			return nil, storageError("generating salt", err)
		}
	}

	sum, err := digest(s.params, secret, salt)
	if err != nil {
		return nil, err
	}
	return &model.Credential{
		DeviceID:   deviceID,
		SecretHash: sum,
		Salt:       salt,
		Algorithm:  s.params.Algorithm,
		Params:     s.params.encode(),
		CreatedAt:  s.clock.Now().UTC(),
	}, nil
}

// Create hashes and stores the credential of an existing device.
func (s *CredentialStore) Create(ctx context.Context, deviceID string, secret Secret) (*model.Credential, error) {
	cred, err := s.Issue(deviceID, secret)
	if err != nil {
		return nil, err
	}
	if err := s.db.CreateCredential(ctx, cred); err != nil {
		return nil, fmt.Errorf("creating credential: %w", err)
	}
	return cred, nil
}

// Verify checks secret against the stored digest of deviceID.
func (s *CredentialStore) Verify(ctx context.Context, deviceID string, secret Secret) (*model.Credential, error) {
	cred, err := s.db.FindCredential(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("finding credential: %w", err)
	}
	if cred == nil {
		return nil, NewError(KindNotFound, "device is not paired")
	}

	params, err := decodeHashParams(cred.Algorithm, cred.Params)
	if err != nil {
		return nil, storageError("reading credential", err)
	}
	sum, err := digest(params, secret, cred.Salt)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare(sum, cred.SecretHash) != 1 {
		return nil, NewError(KindAuth, "PIN does not match")
	}
	return cred, nil
}

func digest(p HashParams, secret Secret, salt []byte) ([]byte, error) {
	switch p.Algorithm {
	case model.HashSHA256:
		sum := sha256.Sum256(secret)
		return sum[:], nil
	case model.HashArgon2id:
		return argon2.IDKey(secret, salt, p.Time, p.MemoryKiB, p.Threads, argon2KeyLen), nil
	default:
		return nil, storageError("reading credential", fmt.Errorf("unsupported hash algorithm %q", p.Algorithm))
	}
}

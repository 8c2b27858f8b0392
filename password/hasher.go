package password

// Hasher creates Argon2id hashes and verifies Argon2id or bcrypt hashes.
// It is safe for concurrent use.
type Hasher struct {
	cfg Config
}

// New validates cfg and returns a Hasher.
func New(cfg Config) (*Hasher, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	if cfg.MaxPasswordBytes == 0 {
		cfg.MaxPasswordBytes = DefaultMaxPasswordBytes
	}
	return &Hasher{cfg: cfg}, nil
}

// Hash returns a PHC-encoded Argon2id hash of password.
func (h *Hasher) Hash(password []byte) (string, error) {
	if len(password) < MinPasswordBytes {
		return "", ErrTooShort
	}
	if len(password) > h.cfg.MaxPasswordBytes {
		return "", ErrTooLong
	}
	return hashArgon2(h.cfg, password)
}

// Verify compares password against encoded. A mismatch is (false, nil);
// an error means encoded could not be understood.
func (h *Hasher) Verify(password []byte, encoded string) (bool, error) {
	if len(password) > h.cfg.MaxPasswordBytes {
		return false, ErrTooLong
	}
	if IsBcrypt(encoded) {
		return verifyBcrypt(password, encoded)
	}
	return verifyArgon2(password, encoded)
}

// NeedsRehash reports whether encoded should be replaced by a fresh Hash.
func (h *Hasher) NeedsRehash(encoded string) (bool, error) {
	if IsBcrypt(encoded) {
		return true, nil
	}
	p, err := parseArgon2(encoded)
	if err != nil {
		return false, err
	}
	return h.cfg.Memory > p.memory ||
		h.cfg.Time > p.time ||
		h.cfg.Parallelism > p.parallelism ||
		h.cfg.KeyLength != uint32(len(p.key)), nil
}

// Wipe zeroes b.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// Package keysource resolves the backup-code encryption key at startup,
// either from a hex string or by unwrapping a KMS ciphertext.
package keysource

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
)

// KeySize is the AES-256 key length.
const KeySize = 32

var (
	ErrNoKey       = errors.New("keysource: no key configured")
	ErrKeySize     = errors.New("keysource: key must be 32 bytes")
	ErrKMSDecrypt  = errors.New("keysource: kms decrypt failed")
	ErrBadEncoding = errors.New("keysource: malformed key encoding")
)

// Decrypter is the part of the KMS client used here.
type Decrypter interface {
	Decrypt(ctx context.Context, in *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// FromHex decodes a 64-character hex key.
func FromHex(s string) ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadEncoding, err)
	}
	if len(key) != KeySize {
		return nil, ErrKeySize
	}
	return key, nil
}

// FromKMS unwraps a base64 ciphertext blob produced by KMS Encrypt or
// GenerateDataKey.
func FromKMS(ctx context.Context, client Decrypter, ciphertextB64 string) ([]byte, error) {
	blob, err := base64.StdEncoding.DecodeString(strings.TrimSpace(ciphertextB64))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadEncoding, err)
	}
	out, err := client.Decrypt(ctx, &kms.DecryptInput{CiphertextBlob: blob})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKMSDecrypt, err)
	}
	if len(out.Plaintext) != KeySize {
		return nil, ErrKeySize
	}
	return out.Plaintext, nil
}

// NewKMSClient loads the default AWS credential chain for region.
func NewKMSClient(ctx context.Context, region string) (*kms.Client, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return kms.NewFromConfig(cfg), nil
}

// Source describes where the key comes from. KMSCiphertext wins over Hex.
type Source struct {
	Hex           string
	KMSCiphertext string
	Region        string
}

// newKMSClient is a seam for tests.
var newKMSClient = func(ctx context.Context, region string) (Decrypter, error) {
	return NewKMSClient(ctx, region)
}

// Resolve returns the key described by src.
func Resolve(ctx context.Context, src Source) ([]byte, error) {
	switch {
	case src.KMSCiphertext != "":
		client, err := newKMSClient(ctx, src.Region)
		if err != nil {
			return nil, err
		}
		return FromKMS(ctx, client, src.KMSCiphertext)
	case src.Hex != "":
		return FromHex(src.Hex)
	default:
		return nil, ErrNoKey
	}
}

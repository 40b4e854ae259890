package pdfsecure

import (
	"errors"
	"fmt"

	"github.com/awnumar/memguard"
	"github.com/essamgouda97/pdf-secure/internal/crypto"
	"github.com/essamgouda97/pdf-secure/internal/misc"
)

// Domain selects the sub-key an object is sealed under.
type Domain int

const (
	DomainLedger Domain = iota
	DomainPage
)

func (d Domain) String() string {
	switch d {
	case DomainLedger:
		return "ledger"
	case DomainPage:
		return "page"
	default:
		return fmt.Sprintf("domain(%d)", int(d))
	}
}

const (
	ledgerKeyInfo = "pdf-secure ledger v1"
	pageKeyInfo   = "pdf-secure page v1"
)

// ledgerAAD is bound into the ledger ciphertext so a page object can never be
// substituted for it.
var ledgerAAD = []byte("ledger")

// Codec seals vault objects with XChaCha20-Poly1305. Each object gets its own
// random nonce, stored in front of the ciphertext.
type Codec struct {
	ledgerKey *memguard.Enclave
	pageKey   *memguard.Enclave
}

// NewCodec derives the per-domain keys from the 32 byte master key. The
// caller's slice is wiped before returning.
func NewCodec(master []byte) (*Codec, error) {
	defer memguard.WipeBytes(master)

	if len(master) != misc.KeySize {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", misc.KeySize, len(master))
	}
	if crypto.IsWeakKey(master) {
		return nil, errors.New("master key is too weak")
	}

	ledgerKey, err := crypto.DeriveSubKey(master, ledgerKeyInfo)
	if err != nil {
		return nil, err
	}
	pageKey, err := crypto.DeriveSubKey(master, pageKeyInfo)
	if err != nil {
		memguard.WipeBytes(ledgerKey)
		return nil, err
	}

	// NewEnclave wipes the source buffers
	return &Codec{
		ledgerKey: memguard.NewEnclave(ledgerKey),
		pageKey:   memguard.NewEnclave(pageKey),
	}, nil
}

// Seal encrypts plaintext for the given domain. Output layout:
// [24 bytes nonce][ciphertext + 16 bytes tag]
func (c *Codec) Seal(d Domain, plaintext, aad []byte) ([]byte, error) {
	keyBuffer, err := c.open(d)
	if err != nil {
		return nil, err
	}
	defer keyBuffer.Destroy()

	return crypto.SealX(keyBuffer.Bytes(), plaintext, aad)
}

// Open decrypts a sealed object. Any integrity failure yields ErrAuthentication.
func (c *Codec) Open(d Domain, ciphertext, aad []byte) ([]byte, error) {
	keyBuffer, err := c.open(d)
	if err != nil {
		return nil, err
	}
	defer keyBuffer.Destroy()

	plaintext, err := crypto.OpenX(keyBuffer.Bytes(), ciphertext, aad)
	if err != nil {
		if errors.Is(err, crypto.ErrOpen) {
			return nil, fmt.Errorf("%w: %s object", ErrAuthentication, d)
		}
		return nil, err
	}
	return plaintext, nil
}

// Destroy drops the key enclaves. The codec is unusable afterwards.
func (c *Codec) Destroy() {
	c.ledgerKey = nil
	c.pageKey = nil
}

func (c *Codec) open(d Domain) (*memguard.LockedBuffer, error) {
	var enclave *memguard.Enclave
	switch d {
	case DomainLedger:
		enclave = c.ledgerKey
	case DomainPage:
		enclave = c.pageKey
	default:
		return nil, fmt.Errorf("unknown key domain %s", d)
	}
	if enclave == nil {
		return nil, errors.New("codec has been destroyed")
	}

	keyBuffer, err := enclave.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to access %s key: %w", d, err)
	}
	return keyBuffer, nil
}

// Package hecrypt wraps the lattigo BFV-style integer scheme behind the
// small surface the ledger needs: scalar encryption, homomorphic addition
// and ciphertext serialization.
package hecrypt

import (
	"fmt"
	"os"
	"sync"

	"github.com/tuneinsight/lattigo/v5/core/rlwe"
	"github.com/tuneinsight/lattigo/v5/he/heint"
)

// plaintextModulus bounds every plaintext value and every aggregate sum;
// readings and sums are taken mod this prime.
const plaintextModulus = 65537

// Context bundles the scheme parameters with the keys and engines needed to
// encrypt readings and evaluate encrypted sums. All methods are safe for
// concurrent use; the underlying lattigo engines are not, so a single mutex
// serializes them.
type Context struct {
	mu        sync.Mutex
	params    heint.Parameters
	encoder   *heint.Encoder
	encryptor *rlwe.Encryptor
	decryptor *rlwe.Decryptor
	evaluator *heint.Evaluator
	sk        *rlwe.SecretKey
	pk        *rlwe.PublicKey
}

func newParameters() (heint.Parameters, error) {
	return heint.NewParametersFromLiteral(heint.ParametersLiteral{
		LogN:             12,
		LogQ:             []int{45, 45, 45},
		LogP:             []int{45},
		PlaintextModulus: plaintextModulus,
	})
}

func newContext(params heint.Parameters, sk *rlwe.SecretKey, pk *rlwe.PublicKey) *Context {
	return &Context{
		params:    params,
		encoder:   heint.NewEncoder(params),
		encryptor: rlwe.NewEncryptor(params, pk),
		decryptor: rlwe.NewDecryptor(params, sk),
		evaluator: heint.NewEvaluator(params, nil),
		sk:        sk,
		pk:        pk,
	}
}

// NewContext generates a fresh key pair.
func NewContext() (*Context, error) {
	params, err := newParameters()
	if err != nil {
		return nil, fmt.Errorf("creating scheme parameters: %w", err)
	}
	sk, pk := rlwe.NewKeyGenerator(params).GenKeyPairNew()
	return newContext(params, sk, pk), nil
}

// LoadContext rebuilds a context from a serialized secret key, deriving the
// public key from it.
func LoadContext(skBytes []byte) (*Context, error) {
	params, err := newParameters()
	if err != nil {
		return nil, fmt.Errorf("creating scheme parameters: %w", err)
	}
	sk := new(rlwe.SecretKey)
	if err := sk.UnmarshalBinary(skBytes); err != nil {
		return nil, fmt.Errorf("unmarshaling secret key: %w", err)
	}
	pk := rlwe.NewKeyGenerator(params).GenPublicKeyNew(sk)
	return newContext(params, sk, pk), nil
}

// LoadOrGenerate reads the secret key from path, generating and persisting a
// fresh one if the file does not exist yet.
func LoadOrGenerate(path string) (*Context, error) {
	skBytes, err := os.ReadFile(path)
	if err == nil {
		return LoadContext(skBytes)
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading key file %s: %w", path, err)
	}

	c, err := NewContext()
	if err != nil {
		return nil, err
	}
	skBytes, err = c.sk.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshaling secret key: %w", err)
	}
	if err := os.WriteFile(path, skBytes, 0o600); err != nil {
		return nil, fmt.Errorf("writing key file %s: %w", path, err)
	}
	return c, nil
}

// MarshalSecretKey returns the serialized secret key.
func (c *Context) MarshalSecretKey() ([]byte, error) {
	return c.sk.MarshalBinary()
}

// EncryptUint64Ct encrypts v into slot 0 of a fresh ciphertext.
func (c *Context) EncryptUint64Ct(v uint64) (*rlwe.Ciphertext, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pt := heint.NewPlaintext(c.params, c.params.MaxLevel())
	if err := c.encoder.Encode([]uint64{v % plaintextModulus}, pt); err != nil {
		return nil, fmt.Errorf("encoding value: %w", err)
	}
	ct, err := c.encryptor.EncryptNew(pt)
	if err != nil {
		return nil, fmt.Errorf("encrypting value: %w", err)
	}
	return ct, nil
}

// EncryptUint64 encrypts v and returns the serialized ciphertext handle.
func (c *Context) EncryptUint64(v uint64) ([]byte, error) {
	ct, err := c.EncryptUint64Ct(v)
	if err != nil {
		return nil, err
	}
	return ct.MarshalBinary()
}

// Add homomorphically adds a and b into a new ciphertext.
func (c *Context) Add(a, b *rlwe.Ciphertext) (*rlwe.Ciphertext, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out, err := c.evaluator.AddNew(a, b)
	if err != nil {
		return nil, fmt.Errorf("homomorphic add: %w", err)
	}
	return out, nil
}

// DecryptUint64 decrypts ct and returns the value in slot 0.
func (c *Context) DecryptUint64(ct *rlwe.Ciphertext) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pt := c.decryptor.DecryptNew(ct)
	values := make([]uint64, c.params.MaxSlots())
	if err := c.encoder.Decode(pt, values); err != nil {
		return 0, fmt.Errorf("decoding plaintext: %w", err)
	}
	return values[0], nil
}

// DecryptBytes decrypts a serialized ciphertext handle.
func (c *Context) DecryptBytes(blob []byte) (uint64, error) {
	ct, err := c.UnmarshalCiphertext(blob)
	if err != nil {
		return 0, err
	}
	return c.DecryptUint64(ct)
}

// MarshalCiphertext serializes ct.
func (c *Context) MarshalCiphertext(ct *rlwe.Ciphertext) ([]byte, error) {
	return ct.MarshalBinary()
}

// UnmarshalCiphertext deserializes a ciphertext handle.
func (c *Context) UnmarshalCiphertext(data []byte) (*rlwe.Ciphertext, error) {
	ct := new(rlwe.Ciphertext)
	if err := ct.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("unmarshaling ciphertext: %w", err)
	}
	return ct, nil
}

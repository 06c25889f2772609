// Package crypto implements the AES-128 primitives LoRaWAN 1.0 builds on:
// single-block ECB encrypt/decrypt and AES-CMAC (RFC 4493). Everything in
// pkg/lorawan composes these two primitives; nothing here knows about
// frame layout.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// KeyLen is the only key size LoRaWAN 1.0 uses.
const KeyLen = 16

// BlockSize is the AES block size.
const BlockSize = 16

// ECBEncrypt encrypts a single 16-byte block with AES-128 in ECB mode (no
// chaining — the caller is responsible for composing CTR-style keystreams
// or the join-accept "encrypt via decrypt" trick on top of this).
func ECBEncrypt(key, block []byte) ([]byte, error) {
	if len(key) != KeyLen {
		return nil, fmt.Errorf("crypto: key must be %d bytes, got %d", KeyLen, len(key))
	}
	if len(block) != BlockSize {
		return nil, fmt.Errorf("crypto: block must be %d bytes, got %d", BlockSize, len(block))
	}
	c, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, BlockSize)
	c.Encrypt(out, block)
	return out, nil
}

// ECBDecrypt decrypts a single 16-byte block with AES-128 in ECB mode.
func ECBDecrypt(key, block []byte) ([]byte, error) {
	if len(key) != KeyLen {
		return nil, fmt.Errorf("crypto: key must be %d bytes, got %d", KeyLen, len(key))
	}
	if len(block) != BlockSize {
		return nil, fmt.Errorf("crypto: block must be %d bytes, got %d", BlockSize, len(block))
	}
	c, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, BlockSize)
	c.Decrypt(out, block)
	return out, nil
}

// CMAC computes AES-128-CMAC per RFC 4493 and returns the full 16-byte tag;
// callers that only need a MIC truncate to the first 4 bytes themselves.
func CMAC(key, data []byte) ([]byte, error) {
	if len(key) != KeyLen {
		return nil, fmt.Errorf("crypto: key must be %d bytes, got %d", KeyLen, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	k1, k2 := subkeys(block)

	n := len(data)
	var mLast []byte
	var complete bool
	switch {
	case n == 0:
		mLast = padBlock(nil, k2)
	case n%BlockSize == 0:
		complete = true
		mLast = xorBlocks(data[n-BlockSize:], k1)
	default:
		mLast = padBlock(data[n-n%BlockSize:], k2)
	}

	numBlocks := n / BlockSize
	if !complete {
		// last partial block is handled separately via mLast
	} else {
		numBlocks--
	}

	x := make([]byte, BlockSize)
	y := make([]byte, BlockSize)
	for i := 0; i < numBlocks; i++ {
		xorInto(y, x, data[i*BlockSize:(i+1)*BlockSize])
		block.Encrypt(x, y)
	}
	xorInto(y, x, mLast)
	block.Encrypt(x, y)
	return x, nil
}

func subkeys(block cipher.Block) (k1, k2 []byte) {
	const rb = 0x87
	zero := make([]byte, BlockSize)
	l := make([]byte, BlockSize)
	block.Encrypt(l, zero)

	k1 = leftShift(l)
	if l[0]&0x80 != 0 {
		k1[BlockSize-1] ^= rb
	}
	k2 = leftShift(k1)
	if k1[0]&0x80 != 0 {
		k2[BlockSize-1] ^= rb
	}
	return k1, k2
}

func leftShift(in []byte) []byte {
	out := make([]byte, len(in))
	var carry byte
	for i := len(in) - 1; i >= 0; i-- {
		out[i] = in[i]<<1 | carry
		carry = in[i] >> 7
	}
	return out
}

func xorBlocks(a, b []byte) []byte {
	out := make([]byte, BlockSize)
	for i := range out {
		out[i] = a[i] ^ b[i]
	}
	return out
}

func padBlock(partial, k2 []byte) []byte {
	out := make([]byte, BlockSize)
	copy(out, partial)
	if len(partial) < BlockSize {
		out[len(partial)] = 0x80
	}
	for i := range out {
		out[i] ^= k2[i]
	}
	return out
}

func xorInto(dst, a, b []byte) {
	for i := range dst {
		dst[i] = a[i] ^ b[i]
	}
}

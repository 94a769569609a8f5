package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"io"
	"log"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// pbkdf2Iterations hardens brute-force cost on short master secrets
	pbkdf2Iterations = 10000
	keySize          = 32 // AES-256
	ivSize           = aes.BlockSize
)

// Config holds the immutable inputs the engine derives its working key from
type Config struct {
	Secret string // master secret
	Salt   string // PBKDF2 salt
}

// Engine encrypts and decrypts single string values for at-rest credential
// protection. The working key is derived once at construction; the engine is
// safe for concurrent use.
//
// Blob formats:
//
//	current: hex(iv) + ":" + base64(ciphertext)   (derived key, AES-256-CBC)
//	legacy:  base64("Salted__" + salt + ct)       (raw secret, OpenSSL EVP KDF)
//
// The legacy branch keeps ciphertexts written before IVs and key derivation
// were introduced readable; there was never a migration script.
type Engine struct {
	secret     string
	derivedKey []byte
}

// New creates an Engine with a key derived from cfg via PBKDF2-SHA256
func New(cfg Config) *Engine {
	return &Engine{
		secret:     cfg.Secret,
		derivedKey: pbkdf2.Key([]byte(cfg.Secret), []byte(cfg.Salt), pbkdf2Iterations, keySize, sha256.New),
	}
}

// Encrypt encrypts a single value. Empty input passes through unchanged.
// Failures are logged and yield ""; callers never see an error from this
// path, a credential that cannot be encrypted is simply not stored.
func (e *Engine) Encrypt(plaintext string) string {
	if plaintext == "" {
		return ""
	}

	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		log.Printf("Encryption error: %v", err)
		return ""
	}

	block, err := aes.NewCipher(e.derivedKey)
	if err != nil {
		log.Printf("Encryption error: %v", err)
		return ""
	}

	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return hex.EncodeToString(iv) + ":" + base64.StdEncoding.EncodeToString(ciphertext)
}

// Decrypt decrypts a value produced by Encrypt, or by the legacy no-IV
// scheme when the blob carries no ":" separator. Empty input passes through.
// Failures are logged and yield "", never an error or panic.
func (e *Engine) Decrypt(blob string) string {
	if blob == "" {
		return ""
	}

	sep := strings.Index(blob, ":")
	if sep < 0 {
		plaintext, ok := e.decryptLegacy(blob)
		if !ok {
			log.Printf("Decryption error: Legacy decryption failed - invalid data or key")
			return ""
		}
		return plaintext
	}

	iv, err := hex.DecodeString(blob[:sep])
	if err != nil || len(iv) != ivSize {
		log.Printf("Decryption error: invalid data or key")
		return ""
	}

	ciphertext, err := base64.StdEncoding.DecodeString(blob[sep+1:])
	if err != nil || len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		log.Printf("Decryption error: invalid data or key")
		return ""
	}

	block, err := aes.NewCipher(e.derivedKey)
	if err != nil {
		log.Printf("Decryption error: %v", err)
		return ""
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	unpadded, ok := pkcs7Unpad(plaintext, aes.BlockSize)
	if !ok || len(unpadded) == 0 {
		log.Printf("Decryption error: invalid data or key")
		return ""
	}

	return string(unpadded)
}

// decryptLegacy handles the pre-IV format: base64 of "Salted__" + 8-byte salt
// + ciphertext, with key and IV derived from the raw master secret via the
// OpenSSL EVP_BytesToKey construction (MD5)
func (e *Engine) decryptLegacy(blob string) (string, bool) {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", false
	}
	if len(raw) < 16 || string(raw[:8]) != "Salted__" {
		return "", false
	}

	salt := raw[8:16]
	ciphertext := raw[16:]
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return "", false
	}

	key, iv := evpBytesToKey([]byte(e.secret), salt, keySize, ivSize)

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", false
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	unpadded, ok := pkcs7Unpad(plaintext, aes.BlockSize)
	if !ok || len(unpadded) == 0 {
		return "", false
	}

	return string(unpadded), true
}

// evpBytesToKey implements the OpenSSL EVP_BytesToKey key derivation with
// an MD5 digest and a single iteration, as used by the legacy scheme
func evpBytesToKey(secret, salt []byte, keyLen, ivLen int) (key, iv []byte) {
	var derived []byte
	var prev []byte
	for len(derived) < keyLen+ivLen {
		h := md5.New()
		h.Write(prev)
		h.Write(secret)
		h.Write(salt)
		prev = h.Sum(nil)
		derived = append(derived, prev...)
	}
	return derived[:keyLen], derived[keyLen : keyLen+ivLen]
}

// pkcs7Pad pads data to a multiple of blockSize
func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(padding)}, padding)...)
}

// pkcs7Unpad strips PKCS7 padding, reporting whether it was well-formed
func pkcs7Unpad(data []byte, blockSize int) ([]byte, bool) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, false
	}
	padding := int(data[len(data)-1])
	if padding == 0 || padding > blockSize || padding > len(data) {
		return nil, false
	}
	for _, b := range data[len(data)-padding:] {
		if int(b) != padding {
			return nil, false
		}
	}
	return data[:len(data)-padding], true
}

// Package vault 实现按钱包派生密钥的凭证信封，以及凭证的存取。
package vault

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// Iterations 是 PBKDF2 的固定迭代次数，修改会使已有信封无法解密。
	Iterations = 120000
	// SaltSize 是每条记录的盐长度。
	SaltSize = 32
	// KeySize 是派生出的对称密钥长度。
	KeySize = chacha20poly1305.KeySize
)

// ErrMasterSecretMissing 表示未配置服务端主密钥。
var ErrMasterSecretMissing = errors.New("未配置凭证主密钥")

// Envelope 是一条加密凭证记录，各字段均为标准 base64。
// EncryptedBlob 包含密文与 16 字节认证标签。
type Envelope struct {
	EncryptedBlob string `json:"encrypted_blob"`
	Nonce         string `json:"nonce"`
	Salt          string `json:"salt"`
}

// Sealer 使用服务端主密钥加解密信封。
type Sealer struct {
	master []byte
	random io.Reader
}

// SealerOption 配置 Sealer。
type SealerOption func(*Sealer)

// WithRandom 替换随机源。
func WithRandom(r io.Reader) SealerOption {
	return func(s *Sealer) {
		if r != nil {
			s.random = r
		}
	}
}

// NewSealer 创建 Sealer，主密钥不能为空。
func NewSealer(masterSecret string, opts ...SealerOption) (*Sealer, error) {
	if strings.TrimSpace(masterSecret) == "" {
		return nil, ErrMasterSecretMissing
	}
	s := &Sealer{master: []byte(masterSecret), random: rand.Reader}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// DeriveKey 以 (小写钱包地址 + 主密钥) 为口令、salt 为盐派生 32 字节密钥。
func DeriveKey(wallet string, masterSecret, salt []byte) []byte {
	password := append([]byte(strings.ToLower(strings.TrimSpace(wallet))), masterSecret...)
	return pbkdf2.Key(password, salt, Iterations, KeySize, sha256.New)
}

// Seal 为钱包加密明文，每次调用使用新的盐与 nonce。
func (s *Sealer) Seal(wallet string, plaintext []byte) (Envelope, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(s.random, salt); err != nil {
		return Envelope{}, fmt.Errorf("生成盐失败: %w", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := io.ReadFull(s.random, nonce); err != nil {
		return Envelope{}, fmt.Errorf("生成 nonce 失败: %w", err)
	}
	aead, err := chacha20poly1305.New(DeriveKey(wallet, s.master, salt))
	if err != nil {
		return Envelope{}, fmt.Errorf("创建加密器失败: %w", err)
	}
	blob := aead.Seal(nil, nonce, plaintext, nil)
	return Envelope{
		EncryptedBlob: base64.StdEncoding.EncodeToString(blob),
		Nonce:         base64.StdEncoding.EncodeToString(nonce),
		Salt:          base64.StdEncoding.EncodeToString(salt),
	}, nil
}

// Open 解密信封。钱包或主密钥不匹配时认证失败。
func (s *Sealer) Open(wallet string, env Envelope) ([]byte, error) {
	blob, err := base64.StdEncoding.DecodeString(env.EncryptedBlob)
	if err != nil {
		return nil, fmt.Errorf("解析密文失败: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil {
		return nil, fmt.Errorf("解析 nonce 失败: %w", err)
	}
	salt, err := base64.StdEncoding.DecodeString(env.Salt)
	if err != nil {
		return nil, fmt.Errorf("解析盐失败: %w", err)
	}
	if len(nonce) != chacha20poly1305.NonceSize {
		return nil, fmt.Errorf("nonce 长度应为 %d 字节，实际 %d", chacha20poly1305.NonceSize, len(nonce))
	}
	if len(salt) != SaltSize {
		return nil, fmt.Errorf("盐长度应为 %d 字节，实际 %d", SaltSize, len(salt))
	}
	if len(blob) < chacha20poly1305.Overhead {
		return nil, errors.New("密文过短")
	}
	aead, err := chacha20poly1305.New(DeriveKey(wallet, s.master, salt))
	if err != nil {
		return nil, fmt.Errorf("创建加密器失败: %w", err)
	}
	plaintext, err := aead.Open(nil, nonce, blob, nil)
	if err != nil {
		return nil, fmt.Errorf("凭证解密失败: %w", err)
	}
	return plaintext, nil
}
